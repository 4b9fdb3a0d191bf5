// Package txscript builds and parses the vault's M-of-N multisig redeem
// scripts and their P2SH/P2WSH wrappers, and computes sighashes for signing.
// It generalizes the 2-of-2 funding script machinery lnd's lnwallet package
// builds for channel opens (genMultiSigScript/genFundingPkScript/
// spendMultiSig) to an arbitrary M-of-N with account-selectable witness
// wrapping, as spec §4.2 requires.
package txscript

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	vcrypto "github.com/sigvault/vault/vault/crypto"
)

// WitnessMode selects how the redeem script's output commitment is wrapped,
// mirroring Account.flags byte in spec §3: 0x00 uncompressed-keys legacy
// P2SH, 0x01 native witness, 0x03 witness wrapped in P2SH.
type WitnessMode byte

const (
	ModeLegacy          WitnessMode = 0x00
	ModeWitness         WitnessMode = 0x01
	ModeWitnessP2SHWrap WitnessMode = 0x03
)

// SortPubKeys sorts compressed public keys ascending by byte value, the
// canonical order spec §3's SigningScript requires.
func SortPubKeys(pubKeys [][]byte) [][]byte {
	sorted := make([][]byte, len(pubKeys))
	copy(sorted, pubKeys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})
	return sorted
}

// RedeemScript builds the canonical OP_<M> <pub1>...<pubN> OP_<N>
// OP_CHECKMULTISIG script from pubKeys, sorting them ascending first.
func RedeemScript(minSigs int, pubKeys [][]byte) ([]byte, error) {
	n := len(pubKeys)
	if minSigs < 1 || minSigs > n || n > 15 {
		return nil, errors.New("txscript: minSigs must be between 1 and len(pubKeys), n<=15")
	}

	sorted := SortPubKeys(pubKeys)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1 - 1 + byte(minSigs))
	for _, pk := range sorted {
		builder.AddData(pk)
	}
	builder.AddOp(txscript.OP_1 - 1 + byte(n))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// P2SHScript wraps redeemScript behind OP_HASH160 <hash160> OP_EQUAL.
func P2SHScript(redeemScript []byte) ([]byte, error) {
	h := vcrypto.Hash160(redeemScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(h[:]).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// P2WSHScript wraps redeemScript behind a version-0 witness program: OP_0
// <sha256(redeemScript)>.
func P2WSHScript(redeemScript []byte) ([]byte, error) {
	h := sha256.Sum256(redeemScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(h[:]).
		Script()
}

// TxOutScript produces the scriptPubKey delivered to the counterparty for
// the given redeem script and witness mode, per spec §4.2's three wrapping
// variants.
func TxOutScript(redeemScript []byte, mode WitnessMode) ([]byte, error) {
	switch mode {
	case ModeLegacy:
		return P2SHScript(redeemScript)
	case ModeWitness:
		return P2WSHScript(redeemScript)
	case ModeWitnessP2SHWrap:
		witnessProgram, err := P2WSHScript(redeemScript)
		if err != nil {
			return nil, err
		}
		return P2SHScript(witnessProgram)
	default:
		return nil, errors.New("txscript: unknown witness mode")
	}
}

// TxInScriptTemplate returns the legacy scriptSig template for a redeem
// script with n required signatures all still missing: OP_0 <empty>...
// <empty> <redeemScript>, the placeholder form spec §3's SigningScript
// stores so signTx knows where to splice signatures in.
func TxInScriptTemplate(redeemScript []byte, numSigs int) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	for i := 0; i < numSigs; i++ {
		builder.AddData(nil)
	}
	builder.AddData(redeemScript)
	return builder.Script()
}

// WitnessTemplate returns the initial witness stack for a witness-spending
// input: a leading nil (to eat the CHECKMULTISIG off-by-one bug), numSigs
// empty elements, then the redeem script.
func WitnessTemplate(redeemScript []byte, numSigs int) wire.TxWitness {
	w := make(wire.TxWitness, 0, numSigs+2)
	w = append(w, nil)
	for i := 0; i < numSigs; i++ {
		w = append(w, nil)
	}
	w = append(w, redeemScript)
	return w
}

// ScriptSigPushOnly returns the scriptSig a P2SH-wrapped witness input uses:
// a single push of the witness program, with the actual signatures carried
// in the witness stack (WitnessTemplate) rather than here. Unlike the legacy
// scriptSig this never changes shape once constructed, so signTx never
// touches it.
func ScriptSigPushOnly(witnessProgram []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().AddData(witnessProgram).Script()
}
