package vault

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/sigvault/vault/vault/txscript"
	"github.com/sigvault/vault/vaulterrors"
)

func testSeed(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b
	}
	return s
}

func fixedHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func cloneTx(t *Tx) *Tx {
	out := &Tx{
		Version:  t.Version,
		LockTime: t.LockTime,
		Status:   t.Status,
	}
	for _, in := range t.TxIns {
		out.TxIns = append(out.TxIns, &TxIn{
			Index:    in.Index,
			Outpoint: in.Outpoint,
			Script:   append([]byte(nil), in.Script...),
			Sequence: in.Sequence,
		})
	}
	for _, o := range t.TxOuts {
		out.TxOuts = append(out.TxOuts, &TxOut{
			Index:  o.Index,
			Value:  o.Value,
			Script: append([]byte(nil), o.Script...),
		})
	}
	return out
}

// TestPoolRefillScenario covers spec.md scenario S2: a fresh 2-of-3 account
// with unused_pool_size=5 starts each bin at 5 scripts, and issuing one
// script from @default advances the pool behind it without shrinking it.
func TestPoolRefillScenario(t *testing.T) {
	v := newTestVault(t)

	var names []string
	for i := byte(1); i <= 3; i++ {
		kc, err := v.NewKeychain(string(rune('a'+i)), testSeed(i), nil)
		require.NoError(t, err)
		names = append(names, kc.Name)
	}

	account, err := v.NewAccount("joint", 2, names, 5, true, false, false)
	require.NoError(t, err)

	var defaultBin, changeBin *AccountBin
	require.NoError(t, v.view(func(tx StoreTx) error {
		var err error
		defaultBin, err = tx.GetAccountBinByName(account.ID, BinNameDefault)
		if err != nil {
			return err
		}
		changeBin, err = tx.GetAccountBinByName(account.ID, BinNameChange)
		return err
	}))

	var unusedDefault, changeScripts []*SigningScript
	require.NoError(t, v.view(func(tx StoreTx) error {
		var err error
		unusedDefault, err = tx.ListSigningScriptsByStatus(defaultBin.ID, ScriptUnused)
		if err != nil {
			return err
		}
		changeScripts, err = tx.ListSigningScriptsByStatus(changeBin.ID, ScriptUnused)
		return err
	}))
	require.Len(t, unusedDefault, 5)
	require.Len(t, changeScripts, 5)

	issued, err := v.IssueSigningScript("joint", BinNameDefault, "alice")
	require.NoError(t, err)
	require.Equal(t, uint32(0), issued.Index)
	require.Equal(t, ScriptIssued, issued.Status)

	var afterIssue []*SigningScript
	require.NoError(t, v.view(func(tx StoreTx) error {
		var err error
		afterIssue, err = tx.ListSigningScriptsByStatus(defaultBin.ID, ScriptUnused)
		if err != nil {
			return err
		}
		defaultBin, err = tx.GetAccountBin(defaultBin.ID)
		return err
	}))
	require.Len(t, afterIssue, 5)
	for _, s := range afterIssue {
		require.GreaterOrEqual(t, s.Index, uint32(1))
		require.LessOrEqual(t, s.Index, uint32(5))
	}
	require.Equal(t, uint32(6), defaultBin.ScriptCount)
}

// TestSignatureMergeScenario covers spec.md scenario S3: two UNSIGNED copies
// of the same transaction, each carrying one of two required signatures,
// merge into a single fully-signed tx regardless of insertion order.
func TestSignatureMergeScenario(t *testing.T) {
	v := newTestVault(t)

	alice, err := v.NewKeychain("alice", testSeed(0x10), nil)
	require.NoError(t, err)
	bob, err := v.NewKeychain("bob", testSeed(0x20), nil)
	require.NoError(t, err)

	_, err = v.NewAccount("joint", 2, []string{alice.Name, bob.Name}, 2, true, false, false)
	require.NoError(t, err)

	script, err := v.IssueSigningScript("joint", BinNameDefault, "")
	require.NoError(t, err)

	funding := &Tx{
		Version: 1,
		TxIns:   []*TxIn{{Index: 0, Outpoint: OutPoint{Index: 0}}},
		TxOuts:  []*TxOut{{Index: 0, Value: 100000, Script: script.TxOutScript}},
		Status:  TxConfirmed,
	}
	stored, err := v.InsertTx(funding)
	require.NoError(t, err)
	require.NotNil(t, stored)

	spender := &Tx{
		Version: 1,
		TxIns: []*TxIn{{
			Index:    0,
			Outpoint: OutPoint{Hash: stored.UnsignedHash, Index: 0},
			Script:   append([]byte(nil), script.TxInScript...),
		}},
		TxOuts: []*TxOut{{Index: 0, Value: 90000, Script: []byte{0x51}}},
		Status: TxUnsigned,
	}

	fromAlice := cloneTx(spender)
	require.NoError(t, v.SignTx(fromAlice, []string{"alice"}))
	require.Equal(t, TxUnsigned, fromAlice.Status)

	fromBob := cloneTx(spender)
	require.NoError(t, v.SignTx(fromBob, []string{"bob"}))
	require.Equal(t, TxUnsigned, fromBob.Status)

	first, err := v.InsertTx(fromAlice)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, TxUnsigned, first.Status)

	second, err := v.InsertTx(fromBob)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.NotEqual(t, TxUnsigned, second.Status)
	require.NotEqual(t, chainhash.Hash{}, second.SignedHash)

	sigs, err := txscript.ParseLegacyScriptSig(second.TxIns[0].Script, 2)
	require.NoError(t, err)
	require.Equal(t, 2, sigs.Count())
}

// TestDoubleSpendScenario covers spec.md scenario S4: two txs spending the
// same outpoint both end up flagged conflicting; a merkle block confirming
// the first clears its flag and leaves the second conflicting and
// unconfirmed.
func TestDoubleSpendScenario(t *testing.T) {
	v := newTestVault(t)

	kc, err := v.NewKeychain("root", testSeed(0x30), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{kc.Name}, 2, true, false, false)
	require.NoError(t, err)
	script, err := v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)

	funding := &Tx{
		Version: 1,
		TxIns:   []*TxIn{{Index: 0, Outpoint: OutPoint{Index: 0}}},
		TxOuts:  []*TxOut{{Index: 0, Value: 50000, Script: script.TxOutScript}},
		Status:  TxConfirmed,
	}
	stored, err := v.InsertTx(funding)
	require.NoError(t, err)

	a := &Tx{
		Version:    1,
		TxIns:      []*TxIn{{Index: 0, Outpoint: OutPoint{Hash: stored.UnsignedHash, Index: 0}}},
		TxOuts:     []*TxOut{{Index: 0, Value: 40000, Script: []byte{0x51}}},
		Status:     TxUnsent,
		SignedHash: fixedHash(0xA1),
	}
	storedA, err := v.InsertTx(a)
	require.NoError(t, err)
	require.NotNil(t, storedA)
	require.False(t, storedA.Conflicting)

	b := &Tx{
		Version:    1,
		TxIns:      []*TxIn{{Index: 0, Outpoint: OutPoint{Hash: stored.UnsignedHash, Index: 0}}},
		TxOuts:     []*TxOut{{Index: 0, Value: 39000, Script: []byte{0x52}}},
		Status:     TxUnsent,
		SignedHash: fixedHash(0xB2),
	}
	storedB, err := v.InsertTx(b)
	require.NoError(t, err)
	require.NotNil(t, storedB)
	require.True(t, storedB.Conflicting)

	refreshedA, err := v.GetTxByUnsignedHash([32]byte(storedA.UnsignedHash))
	require.NoError(t, err)
	require.True(t, refreshedA.Conflicting)

	header := &BlockHeader{
		Hash:      fixedHash(0xC1),
		Height:    100,
		Timestamp: sevenHoursAgo(),
	}
	mb := &MerkleBlock{BlockHash: header.Hash, Hashes: []chainhash.Hash{storedA.SignedHash}}
	require.NoError(t, v.InsertMerkleBlock(header, mb))

	refreshedA, err = v.GetTxByUnsignedHash([32]byte(storedA.UnsignedHash))
	require.NoError(t, err)
	require.False(t, refreshedA.Conflicting)
	require.Equal(t, TxConfirmed, refreshedA.Status)

	refreshedB, err := v.GetTxByUnsignedHash([32]byte(storedB.UnsignedHash))
	require.NoError(t, err)
	require.True(t, refreshedB.Conflicting)
	require.NotEqual(t, TxConfirmed, refreshedB.Status)
}

// TestReorgScenario covers spec.md scenario S5: a chain of headers with a
// confirmed tx gets unwound by a competing header at the same height, the
// tx falls back to PROPAGATED, and reconfirms once the replacement header's
// block is shown to contain it.
func TestReorgScenario(t *testing.T) {
	v := newTestVault(t)

	kc, err := v.NewKeychain("root", testSeed(0x40), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{kc.Name}, 2, true, false, false)
	require.NoError(t, err)
	script, err := v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)

	funding := &Tx{
		Version:    1,
		TxIns:      []*TxIn{{Index: 0, Outpoint: OutPoint{Index: 0}}},
		TxOuts:     []*TxOut{{Index: 0, Value: 50000, Script: script.TxOutScript}},
		Status:     TxPropagated,
		SignedHash: fixedHash(0xD1),
	}
	txT, err := v.InsertTx(funding)
	require.NoError(t, err)

	var prevHash chainhash.Hash
	for h := int32(100); h <= 105; h++ {
		hdr := &BlockHeader{
			Hash:      heightHash(h, 0),
			Height:    h,
			PrevHash:  prevHash,
			Timestamp: sevenHoursAgo(),
		}
		mb := &MerkleBlock{BlockHash: hdr.Hash}
		if h == 103 {
			mb.Hashes = []chainhash.Hash{txT.SignedHash}
		}
		require.NoError(t, v.InsertMerkleBlock(hdr, mb))
		prevHash = hdr.Hash
	}

	confirmed, err := v.GetTxByUnsignedHash([32]byte(txT.UnsignedHash))
	require.NoError(t, err)
	require.Equal(t, TxConfirmed, confirmed.Status)
	require.Equal(t, int32(103), confirmed.BlockHeight)

	header102Hash := heightHash(102, 0)
	reorgHeader := &BlockHeader{
		Hash:      heightHash(103, 1),
		Height:    103,
		PrevHash:  header102Hash,
		Timestamp: sevenHoursAgo(),
	}
	require.NoError(t, v.InsertMerkleBlock(reorgHeader, &MerkleBlock{BlockHash: reorgHeader.Hash}))

	unconfirmed, err := v.GetTxByUnsignedHash([32]byte(txT.UnsignedHash))
	require.NoError(t, err)
	require.Equal(t, TxPropagated, unconfirmed.Status)
	require.Nil(t, unconfirmed.BlockHash)

	reconfirmMB := &MerkleBlock{BlockHash: reorgHeader.Hash, Hashes: []chainhash.Hash{txT.SignedHash}}
	require.NoError(t, v.InsertMerkleBlock(reorgHeader, reconfirmMB))

	reconfirmed, err := v.GetTxByUnsignedHash([32]byte(txT.UnsignedHash))
	require.NoError(t, err)
	require.Equal(t, TxConfirmed, reconfirmed.Status)
	require.Equal(t, int32(103), reconfirmed.BlockHeight)
	require.Equal(t, reorgHeader.Hash, *reconfirmed.BlockHash)
}

// TestCoinSelectionShortfallScenario covers spec.md scenario S6: a createTx
// request exceeding the account's confirmed balance fails with
// InsufficientFunds naming the requested and available totals, persisting
// nothing.
func TestCoinSelectionShortfallScenario(t *testing.T) {
	v := newTestVault(t)

	kc, err := v.NewKeychain("root", testSeed(0x50), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{kc.Name}, 2, true, false, false)
	require.NoError(t, err)
	script, err := v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)

	utxoValues := []int64{20_000_000, 20_000_000, 10_000_000}
	for i, val := range utxoValues {
		funding := &Tx{
			Version: 1,
			TxIns:   []*TxIn{{Index: 0, Outpoint: OutPoint{Hash: fixedHash(byte(0x60 + i)), Index: 0}}},
			TxOuts:  []*TxOut{{Index: 0, Value: val, Script: script.TxOutScript}},
			Status:  TxConfirmed,
		}
		_, err := v.InsertTx(funding)
		require.NoError(t, err)
	}

	var txCountBefore int
	require.NoError(t, v.view(func(tx StoreTx) error {
		all, err := tx.ListAllTxs()
		txCountBefore = len(all)
		return err
	}))

	_, err = v.CreateTx("acct", 1, 0, []*TxOut{{Value: 60_000_000, Script: []byte{0x51}}}, 10_000, "")
	require.Error(t, err)
	require.True(t, vaulterrors.Is(err, vaulterrors.CodeAccountInsufficientFunds))

	var ve *vaulterrors.VaultError
	require.ErrorAs(t, err, &ve)
	ctx, ok := ve.Context.(vaulterrors.InsufficientFundsContext)
	require.True(t, ok)
	require.Equal(t, int64(60_010_000), ctx.Requested)
	require.Equal(t, int64(50_000_000), ctx.Available)

	var txCountAfter int
	require.NoError(t, v.view(func(tx StoreTx) error {
		all, err := tx.ListAllTxs()
		txCountAfter = len(all)
		return err
	}))
	require.Equal(t, txCountBefore, txCountAfter)
}

func heightHash(height int32, variant byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = byte(height)
	h[1] = byte(height >> 8)
	h[31] = variant
	return h
}

func sevenHoursAgo() time.Time {
	return time.Now().Add(-7 * time.Hour)
}
