package txscript

import (
	"errors"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PartialSigs is a positional multisig signature set: index i holds the
// signature for the i-th pubkey in the redeem script's canonical (sorted)
// order, or nil if that signature is still missing. It underlies both the
// legacy scriptSig template's placeholder slots and a witness stack's
// placeholder slots, so the merge logic in spec §4.3.2 (insertTx signature
// merge) and §4.3.6 (signTx) shares one representation.
type PartialSigs [][]byte

// Count returns the number of present signatures.
func (p PartialSigs) Count() int {
	n := 0
	for _, s := range p {
		if len(s) > 0 {
			n++
		}
	}
	return n
}

// ParseLegacyScriptSig extracts the positional signature slots from a
// scriptSig built from TxInScriptTemplate (OP_0 <sig1> ... <sigN>
// <redeemScript>).
func ParseLegacyScriptSig(scriptSig []byte, numSigs int) (PartialSigs, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, scriptSig)
	var data [][]byte
	for tokenizer.Next() {
		data = append(data, tokenizer.Data())
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	// data[0] is the OP_0 placeholder pushed as an empty element; the
	// trailing element is the redeem script.
	if len(data) < numSigs+2 {
		out := make(PartialSigs, numSigs)
		return out, nil
	}
	out := make(PartialSigs, numSigs)
	copy(out, data[1:1+numSigs])
	return out, nil
}

// ParseWitnessSigs extracts the positional signature slots from a witness
// stack built from WitnessTemplate (nil, sig1, ..., sigN, redeemScript).
func ParseWitnessSigs(witness wire.TxWitness, numSigs int) PartialSigs {
	out := make(PartialSigs, numSigs)
	if len(witness) < numSigs+2 {
		return out
	}
	copy(out, witness[1:1+numSigs])
	return out
}

// Merge combines a and b positionally, keeping at most M signatures total
// and preferring the earliest-seen (a's) signature at any position both
// sides fill -- the explicit tie-break spec §9's Open Questions calls for.
// Extra signatures beyond M once merged are dropped left-to-right by
// position to keep the result deterministic.
func Merge(a, b PartialSigs, m int) PartialSigs {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(PartialSigs, n)
	count := 0
	for i := 0; i < n; i++ {
		var sig []byte
		if i < len(a) && len(a[i]) > 0 {
			sig = a[i]
		} else if i < len(b) && len(b[i]) > 0 {
			sig = b[i]
		}
		if len(sig) > 0 && count < m {
			out[i] = sig
			count++
		}
	}
	return out
}

// BuildLegacyScriptSig re-emits a scriptSig from a (possibly partial)
// PartialSigs set and the redeem script, in TxInScriptTemplate's layout.
func BuildLegacyScriptSig(sigs PartialSigs, redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	for _, s := range sigs {
		builder.AddData(s)
	}
	builder.AddData(redeemScript)
	return builder.Script()
}

// BuildWitness re-emits a witness stack from a (possibly partial)
// PartialSigs set and the redeem script, in WitnessTemplate's layout.
func BuildWitness(sigs PartialSigs, redeemScript []byte) wire.TxWitness {
	w := make(wire.TxWitness, 0, len(sigs)+2)
	w = append(w, nil)
	for _, s := range sigs {
		w = append(w, s)
	}
	w = append(w, redeemScript)
	return w
}

// RequiredSigs reads the M out of a canonical OP_<M> <pub1>...<pubN> OP_<N>
// OP_CHECKMULTISIG redeem script's leading opcode.
func RequiredSigs(redeemScript []byte) (int, error) {
	if len(redeemScript) == 0 {
		return 0, errors.New("txscript: empty redeem script")
	}
	op := redeemScript[0]
	if op < txscript.OP_1 || op > txscript.OP_16 {
		return 0, errors.New("txscript: redeem script does not start with a small integer push")
	}
	return int(op-txscript.OP_1) + 1, nil
}

// TotalPubKeys reads the N out of a canonical OP_<M> <pub1>...<pubN> OP_<N>
// OP_CHECKMULTISIG redeem script's second-to-last opcode. It is the slot
// count TxInScriptTemplate and WitnessTemplate must allocate: a signer's
// position (matchingSigSlot) is its index among all N possible signers, not
// among the M who will ultimately sign, so the in-progress placeholder must
// have room for every pubkey even though only M slots end up filled.
func TotalPubKeys(redeemScript []byte) (int, error) {
	if len(redeemScript) < 2 {
		return 0, errors.New("txscript: redeem script too short")
	}
	op := redeemScript[len(redeemScript)-2]
	if op < txscript.OP_1 || op > txscript.OP_16 {
		return 0, errors.New("txscript: redeem script does not carry a trailing small integer push")
	}
	return int(op-txscript.OP_1) + 1, nil
}

// Compact drops p's still-missing (nil) slots, preserving the relative order
// of the present signatures. Because a PartialSigs slot index is the
// signer's canonical pubkey position, the surviving signatures are already
// in the ascending pubkey order OP_CHECKMULTISIG requires, so this is all a
// complete (len(p.Compact()) == M) set needs to become a valid broadcast
// scriptSig or witness stack.
func (p PartialSigs) Compact() PartialSigs {
	out := make(PartialSigs, 0, len(p))
	for _, s := range p {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// RedeemScriptFromScriptSig returns the trailing data push of a legacy
// scriptSig built from TxInScriptTemplate -- the redeem script itself.
func RedeemScriptFromScriptSig(scriptSig []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, scriptSig)
	var last []byte
	for tokenizer.Next() {
		last = tokenizer.Data()
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, errors.New("txscript: scriptSig has no data pushes")
	}
	return last, nil
}

// RedeemScriptFromWitness returns the trailing element of a witness stack
// built from WitnessTemplate -- the redeem script itself.
func RedeemScriptFromWitness(witness wire.TxWitness) []byte {
	if len(witness) == 0 {
		return nil
	}
	return witness[len(witness)-1]
}

// PayeeHash extracts the sole data push from a scriptPubKey built by
// P2SHScript or P2WSHScript: the hash160 behind OP_HASH160 ... OP_EQUAL, or
// the witness program behind a version-0 OP_0 push. This, not the whole
// scriptPubKey, is the element an SPV peer's bloom filter actually tests a
// spending scriptSig or witness's data pushes against.
func PayeeHash(txOutScript []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, txOutScript)
	for tokenizer.Next() {
		if data := tokenizer.Data(); len(data) > 0 {
			return data, nil
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("txscript: scriptPubKey carries no data push")
}
