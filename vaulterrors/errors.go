// Package vaulterrors implements the vault's tagged error taxonomy: every
// failure the vault can surface carries a numeric Code, a human-readable
// message, and whatever typed context the category calls for (e.g. the
// requested/available amounts of an insufficient-funds failure).
//
// The numeric codes and category boundaries are grounded on the original
// ciphrex/mSIGNA CoinDB VaultExceptions.h hierarchy; the representation
// itself is idiomatic Go: a single *VaultError implementing error, built by
// per-category constructors, inspected with errors.As/errors.Is rather than
// a class hierarchy.
package vaulterrors

import (
	"errors"
	"fmt"
)

// Code identifies the category of a VaultError. Ranges mirror the original
// taxonomy so log lines and bug reports stay stable across categories.
type Code int

const (
	// Vault lifecycle errors (100s).
	CodeWrongSchemaVersion Code = 101 + iota
	CodeWrongNetwork
	CodeFailedToOpenDatabase
	CodeMissingTxs
	CodeNeedsSchemaMigration
)

const (
	// Keychain errors (300s).
	CodeKeychainNotFound Code = 301 + iota
	CodeKeychainAlreadyExists
	CodeKeychainChainCodeLocked
	CodeKeychainChainCodeUnlockFailed
	CodeKeychainPrivateKeyLocked
	CodeKeychainPrivateKeyUnlockFailed
	CodeKeychainIsNotPrivate
	CodeKeychainInvalidPrivateKey
	CodeKeychainInvalidName
)

const (
	// Account errors (400s).
	CodeAccountNotFound Code = 401 + iota
	CodeAccountAlreadyExists
	CodeAccountInsufficientFunds
	CodeAccountCannotIssueChangeScript
)

const (
	// AccountBin errors (500s).
	CodeAccountBinNotFound Code = 501 + iota
	CodeAccountBinAlreadyExists
	CodeAccountBinOutOfScripts
)

const (
	// Tx errors (600s).
	CodeTxNotFound Code = 601 + iota
	CodeTxInvalidInputs
	CodeTxOutputsExceedInputs
	CodeTxOutputNotFound
	CodeTxMismatch
	CodeTxNotSigned
	CodeTxInvalidOutputs
	CodeTxOutputScriptNotInUserWhitelist
)

const (
	// Chain-state errors (700s-900s).
	CodeBlockHeaderNotFound Code = 701 + iota
)

const (
	CodeMerkleBlockInvalid Code = 801 + iota
)

const (
	CodeMerkleTxBadInsertionOrder Code = 901 + iota
	CodeMerkleTxMismatch
	CodeMerkleTxFailedToConnect
	CodeMerkleTxInvalidHeight
)

const (
	// SigningScript errors (1000s).
	CodeSigningScriptNotFound Code = 1001 + iota
)

const (
	// User errors (1100s).
	CodeUserNotFound Code = 1101 + iota
	CodeUserAlreadyExists
	CodeUserInvalidUsername
)

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

var codeNames = map[Code]string{
	CodeWrongSchemaVersion:               "WrongSchemaVersion",
	CodeWrongNetwork:                     "WrongNetwork",
	CodeFailedToOpenDatabase:             "FailedToOpenDatabase",
	CodeMissingTxs:                       "MissingTxs",
	CodeNeedsSchemaMigration:             "NeedsSchemaMigration",
	CodeKeychainNotFound:                 "KeychainNotFound",
	CodeKeychainAlreadyExists:            "KeychainAlreadyExists",
	CodeKeychainChainCodeLocked:          "ChainCodeLocked",
	CodeKeychainChainCodeUnlockFailed:    "ChainCodeUnlockFailed",
	CodeKeychainPrivateKeyLocked:         "PrivateKeyLocked",
	CodeKeychainPrivateKeyUnlockFailed:   "PrivateKeyUnlockFailed",
	CodeKeychainIsNotPrivate:             "IsNotPrivate",
	CodeKeychainInvalidPrivateKey:        "InvalidPrivateKey",
	CodeKeychainInvalidName:              "InvalidName",
	CodeAccountNotFound:                  "AccountNotFound",
	CodeAccountAlreadyExists:             "AccountAlreadyExists",
	CodeAccountInsufficientFunds:         "InsufficientFunds",
	CodeAccountCannotIssueChangeScript:   "CannotIssueChangeScript",
	CodeAccountBinNotFound:               "AccountBinNotFound",
	CodeAccountBinAlreadyExists:          "AccountBinAlreadyExists",
	CodeAccountBinOutOfScripts:           "OutOfScripts",
	CodeTxNotFound:                       "TxNotFound",
	CodeTxInvalidInputs:                  "InvalidInputs",
	CodeTxOutputsExceedInputs:            "OutputsExceedInputs",
	CodeTxOutputNotFound:                 "OutputNotFound",
	CodeTxMismatch:                       "Mismatch",
	CodeTxNotSigned:                      "NotSigned",
	CodeTxInvalidOutputs:                 "InvalidOutputs",
	CodeTxOutputScriptNotInUserWhitelist: "OutputScriptNotInUserWhitelist",
	CodeBlockHeaderNotFound:              "BlockHeaderNotFound",
	CodeMerkleBlockInvalid:               "MerkleBlockInvalid",
	CodeMerkleTxBadInsertionOrder:        "MerkleTxBadInsertionOrder",
	CodeMerkleTxMismatch:                 "MerkleTxMismatch",
	CodeMerkleTxFailedToConnect:          "MerkleTxFailedToConnect",
	CodeMerkleTxInvalidHeight:            "MerkleTxInvalidHeight",
	CodeSigningScriptNotFound:            "SigningScriptNotFound",
	CodeUserNotFound:                     "UserNotFound",
	CodeUserAlreadyExists:                "UserAlreadyExists",
	CodeUserInvalidUsername:              "InvalidUsername",
}

// VaultError is the concrete error type returned by every vault operation
// that fails for a reason named in the taxonomy. Context is category
// specific and accessed through the typed accessors below (e.g.
// InsufficientFundsContext) rather than through VaultError directly.
type VaultError struct {
	Code    Code
	Message string
	Context interface{}
	Wrapped error
}

func (e *VaultError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

func (e *VaultError) Unwrap() error { return e.Wrapped }

func newErr(code Code, msg string) *VaultError {
	return &VaultError{Code: code, Message: msg}
}

func newWithContext(code Code, msg string, ctx interface{}) *VaultError {
	return &VaultError{Code: code, Message: msg, Context: ctx}
}

// Is reports whether err is a *VaultError of the given code, so callers can
// write errors.Is(err, vaulterrors.NotFound) style sentinels via As instead.
func Is(err error, code Code) bool {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// Vault lifecycle constructors.

func NewWrongSchemaVersion(got, base, current uint32) error {
	return newWithContext(CodeWrongSchemaVersion,
		"stored schema version is incompatible with this build",
		SchemaVersionContext{Stored: got, Base: base, Current: current})
}

type SchemaVersionContext struct{ Stored, Base, Current uint32 }

func NewWrongNetwork(want, got string) error {
	return newWithContext(CodeWrongNetwork, "network mismatch",
		NetworkContext{Want: want, Got: got})
}

type NetworkContext struct{ Want, Got string }

func NewFailedToOpenDatabase(cause error) error {
	return &VaultError{Code: CodeFailedToOpenDatabase, Message: "failed to open database", Wrapped: cause}
}

func NewNeedsSchemaMigration(stored, current uint32) error {
	return newWithContext(CodeNeedsSchemaMigration, "schema migration required",
		SchemaVersionContext{Stored: stored, Current: current})
}

// Keychain constructors.

func NewKeychainNotFound(name string) error {
	return newWithContext(CodeKeychainNotFound, "keychain not found", name)
}

func NewKeychainAlreadyExists(name string) error {
	return newWithContext(CodeKeychainAlreadyExists, "keychain already exists", name)
}

func NewChainCodeLocked(name string) error {
	return newWithContext(CodeKeychainChainCodeLocked, "keychain is locked", name)
}

func NewPrivateKeyLocked(name string) error {
	return newWithContext(CodeKeychainPrivateKeyLocked, "private key is locked", name)
}

func NewPrivateKeyUnlockFailed(name string, cause error) error {
	return &VaultError{Code: CodeKeychainPrivateKeyUnlockFailed, Message: "failed to unlock private key", Context: name, Wrapped: cause}
}

func NewIsNotPrivate(name string) error {
	return newWithContext(CodeKeychainIsNotPrivate, "keychain has no private key material", name)
}

func NewInvalidPrivateKey(name string) error {
	return newWithContext(CodeKeychainInvalidPrivateKey, "invalid private key material", name)
}

func NewInvalidName(name string) error {
	return newWithContext(CodeKeychainInvalidName, "invalid keychain name", name)
}

// Account constructors.

func NewAccountNotFound(name string) error {
	return newWithContext(CodeAccountNotFound, "account not found", name)
}

func NewAccountAlreadyExists(name string) error {
	return newWithContext(CodeAccountAlreadyExists, "account already exists", name)
}

// InsufficientFundsContext carries the requested/available totals plus an
// optional username, per spec §7's Account.InsufficientFunds signature.
type InsufficientFundsContext struct {
	Requested int64
	Available int64
	Username  string
}

func NewInsufficientFunds(requested, available int64, username string) error {
	return newWithContext(CodeAccountInsufficientFunds, "insufficient funds",
		InsufficientFundsContext{Requested: requested, Available: available, Username: username})
}

func NewCannotIssueChangeScript(accountName, binName string) error {
	return newWithContext(CodeAccountCannotIssueChangeScript,
		"cannot issue a signing script from the change bin",
		AccountBinContext{Account: accountName, Bin: binName})
}

type AccountBinContext struct{ Account, Bin string }

// AccountBin constructors.

func NewAccountBinNotFound(accountName, binName string) error {
	return newWithContext(CodeAccountBinNotFound, "account bin not found",
		AccountBinContext{Account: accountName, Bin: binName})
}

func NewAccountBinAlreadyExists(accountName, binName string) error {
	return newWithContext(CodeAccountBinAlreadyExists, "account bin already exists",
		AccountBinContext{Account: accountName, Bin: binName})
}

func NewOutOfScripts(accountName, binName string) error {
	return newWithContext(CodeAccountBinOutOfScripts, "account bin pool is exhausted",
		AccountBinContext{Account: accountName, Bin: binName})
}

// Tx constructors.

func NewTxNotFound(hash string) error {
	return newWithContext(CodeTxNotFound, "transaction not found", hash)
}

func NewInvalidInputs(reason string) error {
	return newErr(CodeTxInvalidInputs, reason)
}

func NewInvalidOutputs(reason string) error {
	return newErr(CodeTxInvalidOutputs, reason)
}

func NewOutputsExceedInputs() error {
	return newErr(CodeTxOutputsExceedInputs, "outputs exceed inputs")
}

func NewOutputNotFound(hash string, index uint32) error {
	return newWithContext(CodeTxOutputNotFound, "output not found", TxOutRefContext{Hash: hash, Index: index})
}

type TxOutRefContext struct {
	Hash  string
	Index uint32
}

func NewMismatch(reason string) error {
	return newErr(CodeTxMismatch, reason)
}

func NewNotSigned(hash string) error {
	return newWithContext(CodeTxNotSigned, "transaction is not fully signed", hash)
}

func NewOutputScriptNotInUserWhitelist(username string) error {
	return newWithContext(CodeTxOutputScriptNotInUserWhitelist,
		"output script is not in the user's whitelist", username)
}

// Chain-state constructors.

func NewBlockHeaderNotFound(hash string) error {
	return newWithContext(CodeBlockHeaderNotFound, "block header not found", hash)
}

func NewMerkleBlockInvalid(reason string) error {
	return newErr(CodeMerkleBlockInvalid, reason)
}

func NewMerkleTxBadInsertionOrder() error {
	return newErr(CodeMerkleTxBadInsertionOrder, "merkle tx must be inserted in index order starting at 0")
}

func NewMerkleTxMismatch(reason string) error {
	return newErr(CodeMerkleTxMismatch, reason)
}

func NewMerkleTxFailedToConnect(prevHash string) error {
	return newWithContext(CodeMerkleTxFailedToConnect, "merkle block does not connect to known chain tip", prevHash)
}

func NewMerkleTxInvalidHeight(want, got int32) error {
	return newWithContext(CodeMerkleTxInvalidHeight, "merkle block height does not extend the chain by one",
		struct{ Want, Got int32 }{want, got})
}

// SigningScript constructors.

func NewSigningScriptNotFound(binName string, index uint32) error {
	return newWithContext(CodeSigningScriptNotFound, "signing script not found",
		struct {
			Bin   string
			Index uint32
		}{binName, index})
}

// User constructors.

func NewUserNotFound(username string) error {
	return newWithContext(CodeUserNotFound, "user not found", username)
}

func NewUserAlreadyExists(username string) error {
	return newWithContext(CodeUserAlreadyExists, "user already exists", username)
}

func NewInvalidUsername(username string) error {
	return newWithContext(CodeUserInvalidUsername, "invalid username", username)
}
