package vault

import (
	"encoding/hex"

	"github.com/sigvault/vault/vaulterrors"
)

// NewUser creates a disabled, empty-whitelist user record, per spec §3's
// User (username plus optional txoutscript whitelist and enable flag).
func (v *Vault) NewUser(username string) (*User, error) {
	if !ValidUsername(username) {
		return nil, vaulterrors.NewInvalidUsername(username)
	}

	var user *User
	err := v.mutate(func(tx StoreTx) error {
		if _, err := tx.GetUserByUsername(username); err == nil {
			return vaulterrors.NewUserAlreadyExists(username)
		}
		u := &User{
			Username:        username,
			ScriptWhitelist: make(map[string]bool),
		}
		id, err := tx.InsertUser(u)
		if err != nil {
			return err
		}
		u.ID = id
		user = u
		return nil
	})
	return user, err
}

// SetUserEnabled toggles whether a user's whitelist is enforced at all; a
// disabled user's sends are never checked against ScriptWhitelist.
func (v *Vault) SetUserEnabled(username string, enabled bool) error {
	return v.mutate(func(tx StoreTx) error {
		u, err := tx.GetUserByUsername(username)
		if err != nil {
			return vaulterrors.NewUserNotFound(username)
		}
		u.Enabled = enabled
		return tx.UpdateUser(u)
	})
}

// AddWhitelistedScript adds script to username's output-script whitelist.
func (v *Vault) AddWhitelistedScript(username string, script []byte) error {
	return v.mutate(func(tx StoreTx) error {
		u, err := tx.GetUserByUsername(username)
		if err != nil {
			return vaulterrors.NewUserNotFound(username)
		}
		if u.ScriptWhitelist == nil {
			u.ScriptWhitelist = make(map[string]bool)
		}
		u.ScriptWhitelist[hex.EncodeToString(script)] = true
		return tx.UpdateUser(u)
	})
}

// RemoveWhitelistedScript removes script from username's whitelist.
func (v *Vault) RemoveWhitelistedScript(username string, script []byte) error {
	return v.mutate(func(tx StoreTx) error {
		u, err := tx.GetUserByUsername(username)
		if err != nil {
			return vaulterrors.NewUserNotFound(username)
		}
		delete(u.ScriptWhitelist, hex.EncodeToString(script))
		return tx.UpdateUser(u)
	})
}

// GetUser returns a user by username.
func (v *Vault) GetUser(username string) (*User, error) {
	var u *User
	err := v.view(func(tx StoreTx) error {
		var err error
		u, err = tx.GetUserByUsername(username)
		if err != nil {
			return vaulterrors.NewUserNotFound(username)
		}
		return nil
	})
	return u, err
}

// ListUsers returns every user record.
func (v *Vault) ListUsers() ([]*User, error) {
	var out []*User
	err := v.view(func(tx StoreTx) error {
		var err error
		out, err = tx.ListUsers()
		return err
	})
	return out, err
}

// checkUserWhitelist enforces an enabled user's output-script whitelist
// against the non-change outputs of a tx being created on their behalf, per
// spec §4.3.6/§7's OutputScriptNotInUserWhitelist. An empty username skips
// the check entirely (whitelisting is opt-in per spec §3).
func checkUserWhitelist(tx StoreTx, username string, outs []*TxOut) error {
	if username == "" {
		return nil
	}
	u, err := tx.GetUserByUsername(username)
	if err != nil || !u.Enabled || len(u.ScriptWhitelist) == 0 {
		return nil
	}
	for _, out := range outs {
		if !u.ScriptWhitelist[hex.EncodeToString(out.Script)] {
			return vaulterrors.NewOutputScriptNotInUserWhitelist(username)
		}
	}
	return nil
}
