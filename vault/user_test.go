package vault

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(NewMemStore(), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return v
}

func TestNewUserRejectsEmptyUsername(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewUser("")
	require.Error(t, err)
}

func TestNewUserRejectsDuplicate(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewUser("alice")
	require.NoError(t, err)

	_, err = v.NewUser("alice")
	require.Error(t, err)
}

func TestSetUserEnabledRequiresExistingUser(t *testing.T) {
	v := newTestVault(t)
	err := v.SetUserEnabled("nobody", true)
	require.Error(t, err)

	_, err = v.NewUser("alice")
	require.NoError(t, err)

	require.NoError(t, v.SetUserEnabled("alice", true))
	u, err := v.GetUser("alice")
	require.NoError(t, err)
	require.True(t, u.Enabled)
}

func TestWhitelistRoundTrip(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewUser("alice")
	require.NoError(t, err)

	script := []byte{0x76, 0xa9, 0x14}
	require.NoError(t, v.AddWhitelistedScript("alice", script))

	u, err := v.GetUser("alice")
	require.NoError(t, err)
	require.True(t, u.ScriptWhitelist["76a914"])

	require.NoError(t, v.RemoveWhitelistedScript("alice", script))
	u, err = v.GetUser("alice")
	require.NoError(t, err)
	require.False(t, u.ScriptWhitelist["76a914"])
}

func TestCheckUserWhitelistSkipsWhenNoUsernameOrDisabled(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewUser("alice")
	require.NoError(t, err)
	require.NoError(t, v.AddWhitelistedScript("alice", []byte{0x01}))

	err = v.view(func(tx StoreTx) error {
		// No username: always allowed regardless of whitelist contents.
		return checkUserWhitelist(tx, "", []*TxOut{{Script: []byte{0x02}}})
	})
	require.NoError(t, err)

	// alice is not yet enabled, so her whitelist is not enforced.
	err = v.view(func(tx StoreTx) error {
		return checkUserWhitelist(tx, "alice", []*TxOut{{Script: []byte{0x02}}})
	})
	require.NoError(t, err)
}

func TestCheckUserWhitelistEnforcesWhenEnabled(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewUser("alice")
	require.NoError(t, err)
	require.NoError(t, v.AddWhitelistedScript("alice", []byte{0x01}))
	require.NoError(t, v.SetUserEnabled("alice", true))

	err = v.view(func(tx StoreTx) error {
		return checkUserWhitelist(tx, "alice", []*TxOut{{Script: []byte{0x01}}})
	})
	require.NoError(t, err)

	err = v.view(func(tx StoreTx) error {
		return checkUserWhitelist(tx, "alice", []*TxOut{{Script: []byte{0x02}}})
	})
	require.Error(t, err)
}

func TestListUsers(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewUser("alice")
	require.NoError(t, err)
	_, err = v.NewUser("bob")
	require.NoError(t, err)

	users, err := v.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
}
