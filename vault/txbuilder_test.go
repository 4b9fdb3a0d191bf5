package vault

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/sigvault/vault/vault/txscript"
)

func TestCreateTxHappyPathProducesChange(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("k1", seedBytes(0x21), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{"k1"}, 2, true, false, false)
	require.NoError(t, err)
	script, err := v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)

	funding := &Tx{
		Version: 1,
		TxIns:   []*TxIn{{Index: 0, Outpoint: OutPoint{Index: 0}}},
		TxOuts:  []*TxOut{{Index: 0, Value: 1_000_000, Script: script.TxOutScript}},
		Status:  TxConfirmed,
	}
	_, err = v.InsertTx(funding)
	require.NoError(t, err)

	out, err := v.CreateTx("acct", 1, 0, []*TxOut{{Value: 400_000, Script: []byte{0x51}}}, 1_000, "")
	require.NoError(t, err)
	require.Equal(t, TxUnsigned, out.Status)
	require.Len(t, out.TxIns, 1)
	require.Len(t, out.TxOuts, 2) // requested output plus change

	var total int64
	for _, o := range out.TxOuts {
		total += o.Value
	}
	require.Equal(t, int64(1_000_000-1_000), total)
}

// TestCreateTxDoesNotReuseChangeScript covers the fix for change-address
// reuse: issueChangeScriptUnwrapped must claim (and refill behind) the
// change script it hands out, so two successive createTx calls against the
// same account never pay change to the same script.
func TestCreateTxDoesNotReuseChangeScript(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("k1", seedBytes(0x24), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{"k1"}, 2, true, false, false)
	require.NoError(t, err)
	script, err := v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)

	funding := &Tx{
		Version: 1,
		TxIns:   []*TxIn{{Index: 0, Outpoint: OutPoint{Index: 0}}},
		TxOuts:  []*TxOut{{Index: 0, Value: 1_000_000, Script: script.TxOutScript}},
		Status:  TxConfirmed,
	}
	_, err = v.InsertTx(funding)
	require.NoError(t, err)

	// Neither build is inserted: CreateTx claims its change script inline
	// within its own mutate transaction, so two back-to-back calls against
	// the same confirmed UTXO are enough to expose reuse.
	first, err := v.CreateTx("acct", 1, 0, []*TxOut{{Value: 100_000, Script: []byte{0x51}}}, 1_000, "")
	require.NoError(t, err)

	second, err := v.CreateTx("acct", 1, 0, []*TxOut{{Value: 100_000, Script: []byte{0x51}}}, 1_000, "")
	require.NoError(t, err)

	var firstChange, secondChange []byte
	for _, o := range first.TxOuts {
		if o.ReceivingScriptID != 0 {
			firstChange = o.Script
		}
	}
	for _, o := range second.TxOuts {
		if o.ReceivingScriptID != 0 {
			secondChange = o.Script
		}
	}
	require.NotEmpty(t, firstChange)
	require.NotEmpty(t, secondChange)
	require.NotEqual(t, firstChange, secondChange)
}

func TestCreateTxRejectsNonPositiveOutput(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("k1", seedBytes(0x22), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{"k1"}, 2, true, false, false)
	require.NoError(t, err)

	_, err = v.CreateTx("acct", 1, 0, []*TxOut{{Value: 0, Script: []byte{0x51}}}, 0, "")
	require.Error(t, err)
}

func TestSignTxSingleSigAccountReachesUnsent(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("solo", seedBytes(0x23), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{"solo"}, 2, true, false, false)
	require.NoError(t, err)
	script, err := v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)

	funding := &Tx{
		Version: 1,
		TxIns:   []*TxIn{{Index: 0, Outpoint: OutPoint{Index: 0}}},
		TxOuts:  []*TxOut{{Index: 0, Value: 500_000, Script: script.TxOutScript}},
		Status:  TxConfirmed,
	}
	_, err = v.InsertTx(funding)
	require.NoError(t, err)

	unsigned, err := v.CreateTx("acct", 1, 0, []*TxOut{{Value: 100_000, Script: []byte{0x51}}}, 500, "")
	require.NoError(t, err)
	require.Equal(t, TxUnsigned, unsigned.Status)

	require.NoError(t, v.SignTx(unsigned, []string{"solo"}))
	require.Equal(t, TxUnsent, unsigned.Status)
	require.NotEqual(t, chainhash.Hash{}, unsigned.SignedHash)
}

// TestSignTxTwoOfThreeLegacyAccountCompactsToRequiredSigs exercises an M<N
// account (2-of-3) where a signer's canonical pubkey position can exceed M,
// the case matchingSigSlot/setLegacySigSlot indexed directly against an
// M-sized scriptSig used to panic on.
func TestSignTxTwoOfThreeLegacyAccountCompactsToRequiredSigs(t *testing.T) {
	v := newTestVault(t)
	names := make([]string, 0, 3)
	for i := byte(1); i <= 3; i++ {
		kc, err := v.NewKeychain(string(rune('a'+i)), seedBytes(0x30+i), nil)
		require.NoError(t, err)
		names = append(names, kc.Name)
	}
	_, err := v.NewAccount("joint3", 2, names, 2, true, false, false)
	require.NoError(t, err)
	script, err := v.IssueSigningScript("joint3", BinNameDefault, "")
	require.NoError(t, err)

	funding := &Tx{
		Version: 1,
		TxIns:   []*TxIn{{Index: 0, Outpoint: OutPoint{Index: 0}}},
		TxOuts:  []*TxOut{{Index: 0, Value: 500_000, Script: script.TxOutScript}},
		Status:  TxConfirmed,
	}
	_, err = v.InsertTx(funding)
	require.NoError(t, err)

	unsigned, err := v.CreateTx("joint3", 1, 0, []*TxOut{{Value: 100_000, Script: []byte{0x51}}}, 500, "")
	require.NoError(t, err)

	// Every keychain is tried, including whichever one's pubkey sorts to
	// the highest canonical slot (index 2 of 3); signTx must stop at M=2
	// signatures rather than panicking or over-signing.
	require.NoError(t, v.SignTx(unsigned, names))
	require.Equal(t, TxUnsent, unsigned.Status)

	sigs, err := txscript.ParseLegacyScriptSig(unsigned.TxIns[0].Script, 2)
	require.NoError(t, err)
	require.Equal(t, 2, sigs.Count())
}

// TestSignTxTwoOfThreeWitnessAccountPreservesRedeemScript covers the witness
// counterpart: WitnessTemplate must allocate one slot per pubkey (N), not
// per required signature (M), or a high-index signer's slot write lands on
// the trailing redeem-script element instead of a signature slot.
func TestSignTxTwoOfThreeWitnessAccountPreservesRedeemScript(t *testing.T) {
	v := newTestVault(t)
	names := make([]string, 0, 3)
	for i := byte(1); i <= 3; i++ {
		kc, err := v.NewKeychain(string(rune('e'+i)), seedBytes(0x40+i), nil)
		require.NoError(t, err)
		names = append(names, kc.Name)
	}
	_, err := v.NewAccount("joint3w", 2, names, 2, true, true, false)
	require.NoError(t, err)
	script, err := v.IssueSigningScript("joint3w", BinNameDefault, "")
	require.NoError(t, err)

	funding := &Tx{
		Version: 1,
		TxIns:   []*TxIn{{Index: 0, Outpoint: OutPoint{Index: 0}}},
		TxOuts:  []*TxOut{{Index: 0, Value: 500_000, Script: script.TxOutScript}},
		Status:  TxConfirmed,
	}
	_, err = v.InsertTx(funding)
	require.NoError(t, err)

	unsigned, err := v.CreateTx("joint3w", 1, 0, []*TxOut{{Value: 100_000, Script: []byte{0x51}}}, 500, "")
	require.NoError(t, err)

	require.NoError(t, v.SignTx(unsigned, names))
	require.Equal(t, TxUnsent, unsigned.Status)

	witness := unsigned.TxIns[0].Witness
	require.Equal(t, script.RedeemScript, witness[len(witness)-1])

	sigs := txscript.ParseWitnessSigs(witness, 2)
	require.Equal(t, 2, sigs.Count())
}
