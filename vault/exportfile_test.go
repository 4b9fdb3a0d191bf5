package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedBytes(b byte) []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func TestExportImportVaultRoundTrip(t *testing.T) {
	v := newTestVault(t)

	k1, err := v.NewKeychain("alpha", seedBytes(0x01), nil)
	require.NoError(t, err)
	k2, err := v.NewKeychain("beta", seedBytes(0x02), nil)
	require.NoError(t, err)

	account, err := v.NewAccount("multisig", 2, []string{k1.Name, k2.Name}, 5, true, false, false)
	require.NoError(t, err)

	_, err = v.NewUser("alice")
	require.NoError(t, err)
	require.NoError(t, v.AddWhitelistedScript("alice", []byte{0x51}))

	data, err := v.ExportVault()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	fresh, err := Open(NewMemStore(), v.params)
	require.NoError(t, err)
	require.NoError(t, fresh.ImportVault(data))

	imported, err := fresh.GetAccount(account.Name)
	require.NoError(t, err)
	require.Equal(t, account.MinSigs, imported.MinSigs)
	require.Len(t, imported.KeychainIDs, 2)

	keychainHashes := make(map[int64][20]byte)
	err = fresh.view(func(tx StoreTx) error {
		for _, id := range imported.KeychainIDs {
			kc, err := tx.GetKeychain(id)
			if err != nil {
				return err
			}
			keychainHashes[id] = kc.Hash()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, account.Hash(map[int64][20]byte{k1.ID: k1.Hash(), k2.ID: k2.Hash()}),
		imported.Hash(keychainHashes))

	importedUser, err := fresh.GetUser("alice")
	require.NoError(t, err)
	require.True(t, importedUser.ScriptWhitelist["51"])

	reexported, err := fresh.ExportVault()
	require.NoError(t, err)
	require.False(t, bytes.Equal(data, reexported)) // IDs differ, bytes need not match
}
