package vault

import "context"

// Store is the vault's persistence boundary. Spec §1 places the relational
// schema itself out of scope ("specified only by interface"); this
// interface is that boundary, implemented concretely by vault/walletdb
// against github.com/btcsuite/btcwallet/walletdb + go.etcd.io/bbolt.
//
// Every mutating method must run inside an Update transaction and every
// reader inside either; a Store implementation is responsible for giving
// Update transactions ACID semantics (atomic commit/rollback, isolated from
// concurrent View transactions).
type Store interface {
	// Update runs fn inside a read-write transaction, committing if fn
	// returns nil and rolling back otherwise.
	Update(ctx context.Context, fn func(StoreTx) error) error
	// View runs fn inside a read-only transaction.
	View(ctx context.Context, fn func(StoreTx) error) error
	Close() error
}

// StoreTx is the set of record accessors available within a Store
// transaction. IDs are assigned by the store on insert (0 means "not yet
// persisted"); callers pass the returned ID back to Update* calls.
type StoreTx interface {
	SchemaVersion() (uint32, error)
	SetSchemaVersion(uint32) error
	Network() (string, error)
	SetNetwork(string) error

	InsertKeychain(*Keychain) (int64, error)
	UpdateKeychain(*Keychain) error
	GetKeychain(id int64) (*Keychain, error)
	GetKeychainByName(name string) (*Keychain, error)
	GetKeychainByHash(hash [20]byte) (*Keychain, error)
	ListKeychains() ([]*Keychain, error)

	InsertKey(*Key) (int64, error)
	GetKey(id int64) (*Key, error)
	GetKeyByPubKey(pubKey []byte) (*Key, error)
	ListKeys() ([]*Key, error)

	InsertAccount(*Account) (int64, error)
	UpdateAccount(*Account) error
	GetAccount(id int64) (*Account, error)
	GetAccountByName(name string) (*Account, error)
	ListAccounts() ([]*Account, error)

	InsertAccountBin(*AccountBin) (int64, error)
	UpdateAccountBin(*AccountBin) error
	GetAccountBin(id int64) (*AccountBin, error)
	GetAccountBinByName(accountID int64, name string) (*AccountBin, error)
	ListAccountBins(accountID int64) ([]*AccountBin, error)

	InsertSigningScript(*SigningScript) (int64, error)
	UpdateSigningScript(*SigningScript) error
	GetSigningScript(id int64) (*SigningScript, error)
	GetSigningScriptByTxOutScript(script []byte) (*SigningScript, error)
	ListUnusedSigningScripts(binID int64) ([]*SigningScript, error)
	ListSigningScriptsByStatus(binID int64, status ScriptStatus) ([]*SigningScript, error)
	ListAllSigningScripts() ([]*SigningScript, error)
	CountSigningScripts(binID int64) (uint32, error)

	InsertTx(*Tx) (int64, error)
	UpdateTx(*Tx) error
	GetTx(id int64) (*Tx, error)
	GetTxByUnsignedHash(hash [32]byte) (*Tx, error)
	GetTxBySignedHash(hash [32]byte) (*Tx, error)
	ListTxsByStatus(status TxStatus) ([]*Tx, error)
	ListTxsByBlockHeight(height int32) ([]*Tx, error)
	ListAllTxs() ([]*Tx, error)
	DeleteTx(id int64) error

	InsertBlockHeader(*BlockHeader) error
	GetBlockHeader(height int32) (*BlockHeader, error)
	GetBestBlockHeader() (*BlockHeader, error)
	ListBlockHeaders() ([]*BlockHeader, error)
	DeleteBlockHeadersFrom(height int32) error

	InsertMerkleBlock(*MerkleBlock) error
	GetMerkleBlock(hash [32]byte) (*MerkleBlock, error)
	DeleteMerkleBlock(hash [32]byte) error

	InsertUser(*User) (int64, error)
	UpdateUser(*User) error
	GetUserByUsername(name string) (*User, error)
	ListUsers() ([]*User, error)
}

// ErrNotFound is returned by single-record lookups that find nothing.
var ErrNotFound = vaultErrNotFound{}

type vaultErrNotFound struct{}

func (vaultErrNotFound) Error() string { return "vault: record not found" }
