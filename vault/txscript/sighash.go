package txscript

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ComputeSigHash computes the hash to be ECDSA-signed for inputIndex of tx,
// dispatching on whether the owning account uses witness outputs (useWitness)
// per spec §4.3.6's signTx: BIP143 for witness accounts, legacy SIGHASH_ALL
// otherwise. Per design note §9, this dispatch is a property of the input's
// redeem-script wrapper, not a top-level wallet mode, so callers pass
// useWitness per-input rather than globally.
func ComputeSigHash(tx *wire.MsgTx, inputIndex int, redeemScript []byte, inputValue int64, useWitness bool) ([]byte, error) {
	if useWitness {
		sigHashes := txscript.NewTxSigHashes(tx, noopPrevOutFetcher(tx))
		return txscript.CalcWitnessSigHash(redeemScript, sigHashes, txscript.SigHashAll, tx, inputIndex, inputValue)
	}
	return txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, inputIndex)
}

// noopPrevOutFetcher builds a PrevOutputFetcher over tx's own inputs for the
// fields BIP143 needs beyond the one output being signed (sequence/
// outpoint hashing); amounts for inputs other than the one being signed are
// irrelevant to CalcWitnessSigHash's single-input call and are left zero.
func noopPrevOutFetcher(tx *wire.MsgTx) txscript.PrevOutputFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range tx.TxIn {
		fetcher.AddPrevOut(in.PreviousOutPoint, &wire.TxOut{})
	}
	return fetcher
}
