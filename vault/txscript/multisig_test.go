package txscript

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func pubKey(seed byte) []byte {
	var buf [32]byte
	buf[31] = seed + 1
	_, pub := btcec.PrivKeyFromBytes(buf[:])
	return pub.SerializeCompressed()
}

func TestRedeemScriptSortsPubKeys(t *testing.T) {
	a, b, c := pubKey(1), pubKey(2), pubKey(3)

	script1, err := RedeemScript(2, [][]byte{a, b, c})
	require.NoError(t, err)
	script2, err := RedeemScript(2, [][]byte{c, a, b})
	require.NoError(t, err)

	require.Equal(t, script1, script2, "redeem script must be order-independent")
}

func TestTxOutScriptModes(t *testing.T) {
	redeem, err := RedeemScript(2, [][]byte{pubKey(1), pubKey(2)})
	require.NoError(t, err)

	legacy, err := TxOutScript(redeem, ModeLegacy)
	require.NoError(t, err)
	require.True(t, len(legacy) == 23) // OP_HASH160 <20> OP_EQUAL

	witness, err := TxOutScript(redeem, ModeWitness)
	require.NoError(t, err)
	require.True(t, len(witness) == 34) // OP_0 <32>

	wrapped, err := TxOutScript(redeem, ModeWitnessP2SHWrap)
	require.NoError(t, err)
	require.True(t, len(wrapped) == 23)
	require.NotEqual(t, legacy, wrapped, "p2sh-wrapped witness differs from direct p2sh of redeem")
}

func TestMergeKeepsEarliestSeenAndCapsAtM(t *testing.T) {
	sigA := []byte{0x01}
	sigB := []byte{0x02}
	sigC := []byte{0x03}

	a := PartialSigs{sigA, nil, nil}
	b := PartialSigs{sigB, sigC, nil}

	merged := Merge(a, b, 2)
	require.Equal(t, sigA, merged[0], "position 0 keeps a's earliest-seen signature")
	require.Equal(t, sigC, merged[1])
	require.Equal(t, 2, merged.Count())
}

func TestMergeDropsExtrasBeyondM(t *testing.T) {
	a := PartialSigs{{0x01}, {0x02}, {0x03}}
	merged := Merge(a, PartialSigs{}, 2)
	require.Equal(t, 2, merged.Count())
}
