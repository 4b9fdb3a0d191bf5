package vault

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/sigvault/vault/vault/txscript"
	"github.com/sigvault/vault/vaulterrors"
)

// InsertTx ingests a transaction observed on the network or produced
// locally. It dedupes against any stored tx sharing the same unsigned hash
// (merging signatures or upgrading status, per spec §4.3.2), otherwise
// determines relevance against the vault's own signing scripts and inserts
// it as new, marking any conflicting unspent outpoint as a double spend
// (spec §4.3.3, scenario S4). It returns (nil, nil) if the tx is irrelevant
// and was not inserted.
func (v *Vault) InsertTx(t *Tx) (*Tx, error) {
	var result *Tx
	err := v.mutate(func(tx StoreTx) error {
		r, err := v.insertTxUnwrapped(tx, t)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (v *Vault) insertTxUnwrapped(tx StoreTx, t *Tx) (*Tx, error) {
	t.UnsignedHash = t.ComputeUnsignedHash()

	if stored, err := tx.GetTxByUnsignedHash(t.UnsignedHash); err == nil {
		return v.mergeIntoStoredTx(tx, stored, t)
	}

	return v.insertNewTx(tx, t)
}

// mergeIntoStoredTx reconciles an incoming duplicate-by-unsigned-hash tx
// into the already-stored one, per spec §4.3.2:
//   - if stored is UNSIGNED and the incoming tx is fully signed, the
//     incoming tx's scripts/witnesses replace stored's outright;
//   - if both are UNSIGNED, signatures are merged positionally, keeping
//     whichever signature was seen first at each slot (DESIGN.md
//     OQ-2);
//   - if stored is already signed, only a strict status upgrade is
//     accepted; incoming signature material is ignored.
func (v *Vault) mergeIntoStoredTx(tx StoreTx, stored, incoming *Tx) (*Tx, error) {
	if len(stored.TxIns) != len(incoming.TxIns) || len(stored.TxOuts) != len(incoming.TxOuts) {
		return nil, vaulterrors.NewMismatch("incoming tx does not match the stored tx with the same unsigned hash")
	}

	updated := false

	if stored.Status == TxUnsigned {
		if incoming.Status != TxUnsigned {
			for i, in := range stored.TxIns {
				in.Script = incoming.TxIns[i].Script
				in.Witness = incoming.TxIns[i].Witness
			}
			stored.Status = incoming.Status
			stored.RecomputeSignedHash()
			updated = true
		} else {
			for i, in := range stored.TxIns {
				changed, err := mergeTxInSigs(in, incoming.TxIns[i])
				if err != nil {
					return nil, err
				}
				if changed {
					updated = true
				}
			}
			if updated && stored.MissingSignatureCount(requiredSigsPerInput(stored), presentSigsPerInput(stored)) == 0 {
				if err := compactTxInsSigs(stored); err != nil {
					return nil, err
				}
				stored.Status = TxUnsent
				stored.RecomputeSignedHash()
			}
		}
	} else if incoming.Status != TxUnsigned && IsUpgradeFrom(stored.Status, incoming.Status) {
		stored.Status = incoming.Status
		updated = true
	}

	if !updated {
		return nil, nil
	}

	if err := tx.UpdateTx(stored); err != nil {
		return nil, err
	}
	v.signals.push(TxUpdatedEvent{Tx: stored})
	return stored, nil
}

// mergeTxInSigs merges signatures from incoming into stored's scriptSig or
// witness in place, per the earliest-seen-signature-wins rule in
// vault/txscript.Merge. The two sides are parsed and rebuilt with one slot
// per pubkey (TotalPubKeys), since a slot's position is the signer's
// canonical pubkey index, not a position among the M who will ultimately
// sign; Merge's own cap still stops at RequiredSigs (M) signatures kept. It
// returns whether anything actually changed.
func mergeTxInSigs(stored, incoming *TxIn) (bool, error) {
	if len(stored.Witness) > 0 {
		redeemScript := txscript.RedeemScriptFromWitness(stored.Witness)
		totalKeys, err := txscript.TotalPubKeys(redeemScript)
		if err != nil {
			return false, err
		}
		requiredSigs, err := txscript.RequiredSigs(redeemScript)
		if err != nil {
			return false, err
		}
		storedSigs := txscript.ParseWitnessSigs(stored.Witness, totalKeys)
		incomingSigs := txscript.ParseWitnessSigs(incoming.Witness, totalKeys)
		merged := txscript.Merge(storedSigs, incomingSigs, requiredSigs)
		if sigsEqual(merged, storedSigs) {
			return false, nil
		}
		stored.Witness = txscript.BuildWitness(merged, redeemScript)
		return true, nil
	}

	redeemScript, err := txscript.RedeemScriptFromScriptSig(stored.Script)
	if err != nil {
		return false, err
	}
	totalKeys, err := txscript.TotalPubKeys(redeemScript)
	if err != nil {
		return false, err
	}
	requiredSigs, err := txscript.RequiredSigs(redeemScript)
	if err != nil {
		return false, err
	}
	storedSigs, err := txscript.ParseLegacyScriptSig(stored.Script, totalKeys)
	if err != nil {
		return false, err
	}
	incomingSigs, err := txscript.ParseLegacyScriptSig(incoming.Script, totalKeys)
	if err != nil {
		return false, err
	}
	merged := txscript.Merge(storedSigs, incomingSigs, requiredSigs)
	if sigsEqual(merged, storedSigs) {
		return false, nil
	}
	built, err := txscript.BuildLegacyScriptSig(merged, redeemScript)
	if err != nil {
		return false, err
	}
	stored.Script = built
	return true, nil
}

func sigsEqual(a, b txscript.PartialSigs) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if string(a[i]) != string(b[i]) {
			return false
		}
	}
	return true
}

// insertNewTx handles a tx never seen before: it connects inputs to
// previously stored outputs (marking double spends), matches outputs
// against the vault's signing scripts, and persists the tx only if it
// touches the vault at all.
func (v *Vault) insertNewTx(tx StoreTx, t *Tx) (*Tx, error) {
	sentFromVault := false
	var sendingAccountID int64
	var conflicting []*Tx

	for _, in := range t.TxIns {
		prevTx, lookupErr := tx.GetTxByUnsignedHash(in.Outpoint.Hash)
		if lookupErr != nil {
			continue // unresolved outpoint; cannot check relevance or conflicts
		}
		if int(in.Outpoint.Index) >= len(prevTx.TxOuts) {
			return nil, vaulterrors.NewInvalidInputs("outpoint index out of range")
		}
		prevOut := prevTx.TxOuts[in.Outpoint.Index]

		if prevOut.HasSpentBy() && prevOut.SpentByTxHash != t.UnsignedHash {
			if ct, lerr := tx.GetTxByUnsignedHash(prevOut.SpentByTxHash); lerr == nil {
				conflicting = append(conflicting, ct)
			}
		}

		if spentScript, err := tx.GetSigningScriptByTxOutScript(prevOut.Script); err == nil {
			sentFromVault = true
			if bin, berr := tx.GetAccountBin(spentScript.AccountBinID); berr == nil {
				sendingAccountID = bin.AccountID
			}
			prevOut.MarkSpentBy(t.UnsignedHash, in.Index)
			if err := tx.UpdateTx(prevTx); err != nil {
				return nil, err
			}
		}
	}

	sentToVault := false
	for _, out := range t.TxOuts {
		if sentFromVault {
			out.SendingAccountID = sendingAccountID
		}

		script, err := tx.GetSigningScriptByTxOutScript(out.Script)
		if err != nil {
			continue
		}
		sentToVault = true

		bin, err := tx.GetAccountBin(script.AccountBinID)
		if err != nil {
			return nil, err
		}
		out.ReceivingScriptID = script.ID
		out.ReceivingBinID = bin.ID
		out.ReceivingAccountID = bin.AccountID

		switch script.Status {
		case ScriptUnused:
			if sentFromVault && bin.IsChange() {
				script.Status = ScriptChange
			} else {
				script.Status = ScriptUsed
			}
			if err := tx.UpdateSigningScript(script); err != nil {
				return nil, err
			}
			account, err := tx.GetAccount(bin.AccountID)
			if err != nil {
				return nil, err
			}
			if err := v.refillAccountBinPoolUnwrapped(tx, account, bin); err != nil {
				return nil, err
			}
		case ScriptIssued, ScriptChange:
			script.Status = ScriptUsed
			if err := tx.UpdateSigningScript(script); err != nil {
				return nil, err
			}
		}
	}

	if !sentFromVault && !sentToVault {
		return nil, nil
	}

	if len(conflicting) > 0 {
		t.Conflicting = true
		for _, ct := range conflicting {
			if ct.Status != TxConfirmed {
				ct.Conflicting = true
				if err := tx.UpdateTx(ct); err != nil {
					return nil, err
				}
				v.signals.push(TxUpdatedEvent{Tx: ct})
			}
		}
	}

	if !sentFromVault && t.Status == TxNoStatus {
		t.Status = TxPropagated
	}

	id, err := tx.InsertTx(t)
	if err != nil {
		return nil, err
	}
	t.ID = id
	v.signals.push(TxInsertedEvent{Tx: t})
	return t, nil
}

// DeleteTx removes a tx and un-marks the outpoints its inputs spent; the
// status of any signing script it paid is left as is (never downgraded). It is
// used when an unconfirmed tx is evicted (e.g. replaced, or its unconfirmed
// ancestor was dropped).
func (v *Vault) DeleteTx(unsignedHash [32]byte) error {
	return v.mutate(func(tx StoreTx) error {
		t, err := tx.GetTxByUnsignedHash(unsignedHash)
		if err != nil {
			return vaulterrors.NewTxNotFound(chainhash.Hash(unsignedHash).String())
		}

		for _, in := range t.TxIns {
			if prevTx, lerr := tx.GetTxByUnsignedHash(in.Outpoint.Hash); lerr == nil {
				if int(in.Outpoint.Index) < len(prevTx.TxOuts) {
					prevTx.TxOuts[in.Outpoint.Index].ClearSpentBy()
					if err := tx.UpdateTx(prevTx); err != nil {
						return err
					}
				}
			}
		}

		return tx.DeleteTx(t.ID)
	})
}

// GetTxByUnsignedHash looks up a tx by its unsigned hash. It is the read
// path a network-facing caller outside this package (the sync coordinator)
// uses to resolve a dependency outpoint back to the stored tx that created
// it.
func (v *Vault) GetTxByUnsignedHash(unsignedHash [32]byte) (*Tx, error) {
	var t *Tx
	err := v.view(func(tx StoreTx) error {
		stored, err := tx.GetTxByUnsignedHash(unsignedHash)
		if err != nil {
			return vaulterrors.NewTxNotFound(chainhash.Hash(unsignedHash).String())
		}
		t = stored
		return nil
	})
	return t, err
}

// ListUnconfirmedTxs returns every tx the vault still considers in-flight:
// signed but not yet broadcast (UNSENT) or broadcast but not yet seen
// relayed back (SENT). A sync coordinator uses this to drive periodic
// rebroadcast per spec §4.5.
func (v *Vault) ListUnconfirmedTxs() ([]*Tx, error) {
	var txs []*Tx
	err := v.view(func(tx StoreTx) error {
		unsent, err := tx.ListTxsByStatus(TxUnsent)
		if err != nil {
			return err
		}
		sent, err := tx.ListTxsByStatus(TxSent)
		if err != nil {
			return err
		}
		txs = append(unsent, sent...)
		return nil
	})
	return txs, err
}

// MarkSent upgrades t's status to SENT once the caller has successfully
// broadcast it to the network, per spec §4.5's sendTx semantics. It is a
// no-op if t has already moved past SENT (PROPAGATED or CONFIRMED), and
// rejects a tx that has not been fully signed.
func (v *Vault) MarkSent(t *Tx) error {
	return v.mutate(func(tx StoreTx) error {
		stored, err := tx.GetTxByUnsignedHash(t.UnsignedHash)
		if err != nil {
			return vaulterrors.NewTxNotFound(t.UnsignedHash.String())
		}
		if stored.Status == TxUnsigned {
			return vaulterrors.NewNotSigned(stored.UnsignedHash.String())
		}
		if !IsUpgradeFrom(stored.Status, TxSent) {
			return nil
		}
		stored.Status = TxSent
		if err := tx.UpdateTx(stored); err != nil {
			return err
		}
		v.signals.push(TxUpdatedEvent{Tx: stored})
		return nil
	})
}
