package vault

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/bloom"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/sigvault/vault/vault/txscript"
	"github.com/sigvault/vault/vaulterrors"
)

// errRejectedSilently signals a header that fails the first-block timestamp
// horizon check, per spec §4.4: the network source silently drops it rather
// than surfacing an error, since a stale first block is the sync layer
// handing us the wrong starting point, not a protocol violation.
var errRejectedSilently = errors.New("vault: header rejected silently (outside first-block horizon)")

// InsertMerkleBlock attaches header+mb to the chain as a single unit (the
// whole-block sync path, as opposed to the per-tx streaming path
// InsertMerkleTx uses). It connects by prevhash, unwinds any competing chain
// at or above header.Height, and confirms every tx in mb.Hashes that the
// vault already has under its signed hash.
func (v *Vault) InsertMerkleBlock(header *BlockHeader, mb *MerkleBlock) error {
	return v.mutate(func(tx StoreTx) error {
		if err := v.connectHeaderUnwrapped(tx, header); err != nil {
			if err == errRejectedSilently {
				return nil
			}
			return err
		}
		if err := tx.InsertMerkleBlock(mb); err != nil {
			return err
		}
		if err := v.confirmMerkleBlockTxsUnwrapped(tx, header, mb); err != nil {
			return err
		}
		mb.TxsInserted = true
		if err := tx.InsertMerkleBlock(mb); err != nil {
			return err
		}
		v.signals.push(MerkleBlockInsertedEvent{MerkleBlock: mb})
		return nil
	})
}

// connectHeaderUnwrapped links header onto the stored chain tip, performing
// the horizon check for a first-ever header and the reorg-on-collision
// unwind for a header that lands at or below the current tip.
func (v *Vault) connectHeaderUnwrapped(tx StoreTx, header *BlockHeader) error {
	best, err := tx.GetBestBlockHeader()
	if err == ErrNotFound {
		maxTS, err := v.maxFirstBlockTimestampUnwrapped(tx)
		if err != nil {
			return err
		}
		if !maxTS.IsZero() && header.Timestamp.After(maxTS) {
			log.Warnf("Dropping first block header %v at height %d: timestamp %v is past the horizon %v",
				header.Hash, header.Height, header.Timestamp, maxTS)
			return errRejectedSilently
		}
		return tx.InsertBlockHeader(header)
	}
	if err != nil {
		return err
	}

	parent, err := tx.GetBlockHeader(header.Height - 1)
	if err != nil || parent.Hash != header.PrevHash {
		return vaulterrors.NewMerkleTxFailedToConnect(header.PrevHash.String())
	}

	if best.Height >= header.Height {
		if _, err := v.unwindChainFromUnwrapped(tx, header.Height); err != nil {
			return err
		}
	}
	return tx.InsertBlockHeader(header)
}

// unwindChainFromUnwrapped deletes every stored header and merkle block at
// or above fromHeight, descending from the tip, unconfirming any tx that
// had been anchored to one of those heights back to PROPAGATED. It returns
// the number of headers removed.
func (v *Vault) unwindChainFromUnwrapped(tx StoreTx, fromHeight int32) (int, error) {
	best, err := tx.GetBestBlockHeader()
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for h := best.Height; h >= fromHeight; h-- {
		hdr, err := tx.GetBlockHeader(h)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return removed, err
		}

		txs, err := tx.ListTxsByBlockHeight(h)
		if err != nil {
			return removed, err
		}
		for _, t := range txs {
			t.BlockHash = nil
			t.BlockHeight = 0
			t.BlockIndex = 0
			t.Status = TxPropagated
			if err := tx.UpdateTx(t); err != nil {
				return removed, err
			}
			v.signals.push(TxUpdatedEvent{Tx: t})
		}

		if err := tx.DeleteMerkleBlock(hdr.Hash); err != nil {
			return removed, err
		}
		removed++
	}

	if err := tx.DeleteBlockHeadersFrom(fromHeight); err != nil {
		return removed, err
	}
	return removed, nil
}

// DeleteMerkleBlockFrom removes every stored header and merkle block at or
// above height (height itself included) and returns how many headers were
// removed, per spec §4.4's deleteMerkleBlock.
func (v *Vault) DeleteMerkleBlockFrom(height int32) (int, error) {
	var removed int
	err := v.mutate(func(tx StoreTx) error {
		var err error
		removed, err = v.unwindChainFromUnwrapped(tx, height)
		return err
	})
	return removed, err
}

// confirmMerkleBlockTxsUnwrapped sets the block reference on every tx whose
// signed hash appears in mb.Hashes, failing if one is already confirmed
// under a different block.
func (v *Vault) confirmMerkleBlockTxsUnwrapped(tx StoreTx, header *BlockHeader, mb *MerkleBlock) error {
	for i, hash := range mb.Hashes {
		t, err := tx.GetTxBySignedHash(hash)
		if err != nil {
			continue
		}
		if t.BlockHash != nil && *t.BlockHash != header.Hash {
			return vaulterrors.NewMerkleTxMismatch("transaction is already confirmed in a different block")
		}
		h := header.Hash
		t.BlockHash = &h
		t.BlockHeight = header.Height
		t.BlockIndex = uint32(i)
		t.Status = TxConfirmed
		t.Conflicting = false
		if err := tx.UpdateTx(t); err != nil {
			return err
		}
		v.signals.push(TxUpdatedEvent{Tx: t})
	}
	return nil
}

// InsertMerkleTx ingests one transaction of a merkle block being streamed in
// txindex order, per spec §4.3.4. txIndex 0 creates the merkle block (and
// connects/unwinds the header chain); the final index marks the block
// complete and emits MerkleBlockInserted.
func (v *Vault) InsertMerkleTx(header *BlockHeader, blockHash chainhash.Hash, txCount uint32, t *Tx, txIndex uint32) error {
	return v.mutate(func(tx StoreTx) error {
		mb, err := tx.GetMerkleBlock(blockHash)
		if err == ErrNotFound {
			if txIndex != 0 {
				return vaulterrors.NewMerkleTxBadInsertionOrder()
			}
			if cerr := v.connectHeaderUnwrapped(tx, header); cerr != nil {
				if cerr == errRejectedSilently {
					return nil
				}
				return cerr
			}
			mb = &MerkleBlock{BlockHash: blockHash, TxCount: txCount}
			if err := tx.InsertMerkleBlock(mb); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := v.insertMerkleTxUnwrapped(tx, header, t, txIndex); err != nil {
			return err
		}

		if txIndex+1 == mb.TxCount {
			mb.TxsInserted = true
			if err := tx.InsertMerkleBlock(mb); err != nil {
				return err
			}
			v.signals.push(MerkleBlockInsertedEvent{MerkleBlock: mb})
		}
		return nil
	})
}

// insertMerkleTxUnwrapped resolves t against any already-stored copy (by
// signed then unsigned hash) and marks it CONFIRMED at header, otherwise
// routes it through insertNewTx with the confirmation already attached.
func (v *Vault) insertMerkleTxUnwrapped(tx StoreTx, header *BlockHeader, t *Tx, txIndex uint32) error {
	h := header.Hash

	if t.Status != TxUnsigned {
		if stored, err := tx.GetTxBySignedHash(t.SignedHash); err == nil {
			stored.BlockHash = &h
			stored.BlockHeight = header.Height
			stored.BlockIndex = txIndex
			stored.Status = TxConfirmed
			stored.Conflicting = false
			if err := tx.UpdateTx(stored); err != nil {
				return err
			}
			v.signals.push(TxUpdatedEvent{Tx: stored})
			return nil
		}
	}

	unsignedHash := t.ComputeUnsignedHash()
	if stored, err := tx.GetTxByUnsignedHash(unsignedHash); err == nil {
		if len(stored.TxIns) != len(t.TxIns) {
			return vaulterrors.NewMismatch("merkle tx does not match the stored tx with the same unsigned hash")
		}
		for i, in := range stored.TxIns {
			in.Script = t.TxIns[i].Script
			in.Witness = t.TxIns[i].Witness
		}
		stored.RecomputeSignedHash()
		stored.BlockHash = &h
		stored.BlockHeight = header.Height
		stored.BlockIndex = txIndex
		stored.Status = TxConfirmed
		stored.Conflicting = false
		if err := tx.UpdateTx(stored); err != nil {
			return err
		}
		v.signals.push(TxUpdatedEvent{Tx: stored})
		return nil
	}

	t.UnsignedHash = unsignedHash
	t.BlockHash = &h
	t.BlockHeight = header.Height
	t.BlockIndex = txIndex
	t.Status = TxConfirmed
	_, err := v.insertNewTx(tx, t)
	return err
}

// maxFirstBlockTimestampUnwrapped is the latest timestamp an as-yet-empty
// store will accept as its first header: the earliest account's creation
// time, minus a 6-hour grace window for clock skew between the vault and
// the network source.
func (v *Vault) maxFirstBlockTimestampUnwrapped(tx StoreTx) (time.Time, error) {
	accounts, err := tx.ListAccounts()
	if err != nil {
		return time.Time{}, err
	}
	if len(accounts) == 0 {
		return time.Time{}, nil
	}
	earliest := accounts[0].TimeCreated
	for _, a := range accounts[1:] {
		if a.TimeCreated.Before(earliest) {
			earliest = a.TimeCreated
		}
	}
	return earliest.Add(-6 * time.Hour), nil
}

// GetMaxFirstBlockTimestamp returns the horizon a brand-new store would
// apply to its first header right now.
func (v *Vault) GetMaxFirstBlockTimestamp() (time.Time, error) {
	var ts time.Time
	err := v.view(func(tx StoreTx) error {
		var err error
		ts, err = v.maxFirstBlockTimestampUnwrapped(tx)
		return err
	})
	return ts, err
}

// GetLocatorHashes builds a classic Bitcoin block locator: the ten most
// recent block hashes, then exponentially sparser hashes further back.
func (v *Vault) GetLocatorHashes() ([]chainhash.Hash, error) {
	var hashes []chainhash.Hash
	err := v.view(func(tx StoreTx) error {
		best, err := tx.GetBestBlockHeader()
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		step := int32(1)
		for h := best.Height; h >= 0; h -= step {
			hdr, err := tx.GetBlockHeader(h)
			if err == nil {
				hashes = append(hashes, hdr.Hash)
			} else if err != ErrNotFound {
				return err
			}
			if len(hashes) >= 10 {
				step *= 2
			}
		}
		return nil
	})
	return hashes, err
}

// GetBloomFilter builds a BIP37 filter covering every signing script's
// payee hash (the hash160 or witness program its scriptPubKey commits to,
// not the scriptPubKey itself) and redeem script, plus the outpoint of
// every unspent output the vault has sent, per spec §4.4. An empty element
// set yields an empty (zero-element) filter.
func (v *Vault) GetBloomFilter(fpRate float64, tweak uint32, flags wire.BloomUpdateType) (*bloom.Filter, error) {
	var elements [][]byte
	err := v.view(func(tx StoreTx) error {
		scripts, err := tx.ListAllSigningScripts()
		if err != nil {
			return err
		}
		for _, s := range scripts {
			if hash, err := txscript.PayeeHash(s.TxOutScript); err == nil {
				elements = append(elements, hash)
			}
			elements = append(elements, s.RedeemScript)
		}

		txs, err := tx.ListAllTxs()
		if err != nil {
			return err
		}
		for _, t := range txs {
			for _, out := range t.TxOuts {
				if out.Status == TxOutUnspent && out.SendingAccountID != 0 {
					elements = append(elements, outpointBytes(t.UnsignedHash, out.Index))
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	filter := bloom.NewFilter(uint32(len(elements)), tweak, fpRate, flags)
	for _, e := range elements {
		filter.Add(e)
	}
	return filter, nil
}

func outpointBytes(hash chainhash.Hash, index uint32) []byte {
	b := make([]byte, 36)
	copy(b, hash[:])
	b[32] = byte(index)
	b[33] = byte(index >> 8)
	b[34] = byte(index >> 16)
	b[35] = byte(index >> 24)
	return b
}
