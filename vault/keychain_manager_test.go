package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewKeychainCleartextVsEncrypted(t *testing.T) {
	v := newTestVault(t)

	clear, err := v.NewKeychain("clear", seedBytes(0x01), nil)
	require.NoError(t, err)
	require.True(t, clear.IsPrivate())
	require.False(t, clear.IsEncrypted())

	locked, err := v.NewKeychain("locked", seedBytes(0x02), []byte("passphrase"))
	require.NoError(t, err)
	require.True(t, locked.IsPrivate())
	require.True(t, locked.IsEncrypted())
}

func TestNewKeychainRejectsDuplicateName(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("dup", seedBytes(0x03), nil)
	require.NoError(t, err)

	_, err = v.NewKeychain("dup", seedBytes(0x04), nil)
	require.Error(t, err)
}

func TestRenameKeychain(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("old", seedBytes(0x05), nil)
	require.NoError(t, err)

	require.NoError(t, v.RenameKeychain("old", "new"))

	_, err = v.GetKeychain("old")
	require.Error(t, err)

	k, err := v.GetKeychain("new")
	require.NoError(t, err)
	require.Equal(t, "new", k.Name)
}

func TestUnlockKeychainWrongPassphraseFails(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("secret", seedBytes(0x06), []byte("correct"))
	require.NoError(t, err)

	require.Error(t, v.UnlockKeychain("secret", []byte("wrong")))
	require.NoError(t, v.UnlockKeychain("secret", []byte("correct")))
}

func TestLockKeychainClearsCachedUnlock(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("secret", seedBytes(0x07), []byte("correct"))
	require.NoError(t, err)
	require.NoError(t, v.UnlockKeychain("secret", []byte("correct")))

	require.NoError(t, v.LockKeychain("secret"))

	v.unlockedMu.Lock()
	_, stillCached := v.unlocked["secret"]
	v.unlockedMu.Unlock()
	require.False(t, stillCached)
}

func TestEncryptThenDecryptKeychainRoundTrip(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("roaming", seedBytes(0x08), nil)
	require.NoError(t, err)

	require.NoError(t, v.EncryptKeychain("roaming", []byte("newpass")))
	k, err := v.GetKeychain("roaming")
	require.NoError(t, err)
	require.True(t, k.IsEncrypted())

	require.NoError(t, v.UnlockKeychain("roaming", []byte("newpass")))

	require.NoError(t, v.DecryptKeychain("roaming"))
	k, err = v.GetKeychain("roaming")
	require.NoError(t, err)
	require.False(t, k.IsEncrypted())
}

func TestExportImportBIP32RoundTrip(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("origin", seedBytes(0x09), nil)
	require.NoError(t, err)

	pub, err := v.ExportBIP32("origin", false, nil)
	require.NoError(t, err)
	require.NotEmpty(t, pub)

	imported, err := v.ImportBIP32("imported", pub, nil)
	require.NoError(t, err)
	require.False(t, imported.IsPrivate())
}

func TestListKeychainsRootOnly(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("root1", seedBytes(0x0a), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{"root1"}, 1, true, false, false)
	require.NoError(t, err)

	all, err := v.ListKeychains(false)
	require.NoError(t, err)
	roots, err := v.ListKeychains(true)
	require.NoError(t, err)

	require.Greater(t, len(all), len(roots))
	for _, k := range roots {
		require.Equal(t, int64(0), k.ParentKeychainID)
	}
}
