package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAccountRejectsUnknownKeychain(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewAccount("acct", 1, []string{"ghost"}, 1, true, false, false)
	require.Error(t, err)
}

func TestNewAccountRejectsDuplicateName(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("k1", seedBytes(0x11), nil)
	require.NoError(t, err)

	_, err = v.NewAccount("acct", 1, []string{"k1"}, 1, true, false, false)
	require.NoError(t, err)

	_, err = v.NewAccount("acct", 1, []string{"k1"}, 1, true, false, false)
	require.Error(t, err)
}

func TestNewAccountBinCreatesCustomBranch(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("k1", seedBytes(0x12), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{"k1"}, 3, true, false, false)
	require.NoError(t, err)

	bin, err := v.NewAccountBin("acct", "custom")
	require.NoError(t, err)
	require.Greater(t, bin.Index, uint32(BinIndexDefault))
	require.Equal(t, uint32(3), bin.ScriptCount)

	_, err = v.NewAccountBin("acct", "custom")
	require.Error(t, err)
}

func TestRefillAccountPoolTopsUpAfterIssue(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("k1", seedBytes(0x13), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{"k1"}, 2, true, false, false)
	require.NoError(t, err)

	_, err = v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)
	_, err = v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)

	require.NoError(t, v.RefillAccountPool("acct"))

	var bin *AccountBin
	require.NoError(t, v.view(func(tx StoreTx) error {
		a, err := tx.GetAccountByName("acct")
		if err != nil {
			return err
		}
		bin, err = tx.GetAccountBinByName(a.ID, BinNameDefault)
		return err
	}))
	require.Equal(t, uint32(4), bin.ScriptCount)
}

func TestIssueSigningScriptExhaustsLowestIndexFirst(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("k1", seedBytes(0x14), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct", 1, []string{"k1"}, 2, true, false, false)
	require.NoError(t, err)

	first, err := v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)
	require.Equal(t, uint32(0), first.Index)

	second, err := v.IssueSigningScript("acct", BinNameDefault, "")
	require.NoError(t, err)
	require.Equal(t, uint32(1), second.Index)
}

func TestListAccountsReturnsAllCreated(t *testing.T) {
	v := newTestVault(t)
	_, err := v.NewKeychain("k1", seedBytes(0x15), nil)
	require.NoError(t, err)
	_, err = v.NewAccount("acct1", 1, []string{"k1"}, 1, true, false, false)
	require.NoError(t, err)
	_, err = v.NewAccount("acct2", 1, []string{"k1"}, 1, true, false, false)
	require.NoError(t, err)

	accounts, err := v.ListAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
}
