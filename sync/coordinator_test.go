package sync

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/sigvault/vault/vault"
)

type fakeNetworkClient struct {
	published []*wire.MsgTx
}

func (f *fakeNetworkClient) Start() error { return nil }
func (f *fakeNetworkClient) Stop() error  { return nil }

func (f *fakeNetworkClient) PublishTransaction(tx *wire.MsgTx) error {
	f.published = append(f.published, tx)
	return nil
}

func (f *fakeNetworkClient) Rescan(int32, []chainhash.Hash, NetworkFilter) (*BlockEpochEvent, error) {
	return &BlockEpochEvent{Epochs: make(chan *BlockEpoch), Stop: func() {}}, nil
}

func seed(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b
	}
	return s
}

func newTestSetup(t *testing.T) (*vault.Vault, *vault.SigningScript) {
	v, err := vault.Open(vault.NewMemStore(), &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	kc, err := v.NewKeychain("solo", seed(0x03), nil)
	require.NoError(t, err)

	_, err = v.NewAccount("acct", 1, []string{kc.Name}, 2, true, false, false)
	require.NoError(t, err)

	script, err := v.IssueSigningScript("acct", "@default", "")
	require.NoError(t, err)

	return v, script
}

func TestSendTxRefusesUnsignedAncestor(t *testing.T) {
	v, script := newTestSetup(t)

	funding := &vault.Tx{
		Version: 1,
		TxIns: []*vault.TxIn{{
			Index:    0,
			Outpoint: vault.OutPoint{Index: 0},
		}},
		TxOuts: []*vault.TxOut{{Index: 0, Value: 50000, Script: script.TxOutScript}},
		Status: vault.TxUnsigned,
	}
	stored, err := v.InsertTx(funding)
	require.NoError(t, err)
	require.NotNil(t, stored)

	spender := &vault.Tx{
		Version: 1,
		TxIns: []*vault.TxIn{{
			Index:    0,
			Outpoint: vault.OutPoint{Hash: stored.UnsignedHash, Index: 0},
		}},
		TxOuts: []*vault.TxOut{{Index: 0, Value: 40000, Script: []byte{0x51}}},
		Status: vault.TxUnsent,
	}

	client := &fakeNetworkClient{}
	c := &Coordinator{v: v, client: client, quit: make(chan struct{})}

	err = c.SendTx(spender)
	require.Error(t, err)
	require.Empty(t, client.published)
}

func TestSendTxSendsUnsentAncestorsFirst(t *testing.T) {
	v, script := newTestSetup(t)

	funding := &vault.Tx{
		Version: 1,
		TxIns: []*vault.TxIn{{
			Index:    0,
			Outpoint: vault.OutPoint{Index: 0},
		}},
		TxOuts: []*vault.TxOut{{Index: 0, Value: 50000, Script: script.TxOutScript}},
		Status: vault.TxUnsent,
	}
	stored, err := v.InsertTx(funding)
	require.NoError(t, err)
	require.NotNil(t, stored)
	stored.SignedHash = stored.UnsignedHash

	spender := &vault.Tx{
		Version: 1,
		TxIns: []*vault.TxIn{{
			Index:    0,
			Outpoint: vault.OutPoint{Hash: stored.UnsignedHash, Index: 0},
		}},
		TxOuts: []*vault.TxOut{{Index: 0, Value: 40000, Script: []byte{0x51}}},
		Status: vault.TxUnsent,
	}
	_, err = v.InsertTx(spender)
	require.NoError(t, err)

	client := &fakeNetworkClient{}
	c := &Coordinator{v: v, client: client, quit: make(chan struct{})}

	require.NoError(t, c.SendTx(spender))
	require.Len(t, client.published, 2)

	refreshed, err := v.GetTxByUnsignedHash(stored.UnsignedHash)
	require.NoError(t, err)
	require.Equal(t, vault.TxSent, refreshed.Status)
}
