// Package walletdb implements vault.Store against
// github.com/btcsuite/btcwallet/walletdb, the same bucket-oriented database
// abstraction btcwallet itself persists to, backed here by go.etcd.io/bbolt.
package walletdb

import "encoding/binary"

// byteOrder is used for every integer key so bolt's lexicographic cursor
// order matches numeric order, per channeldb's convention.
var byteOrder = binary.BigEndian

// Top-level bucket names. Each record bucket is keyed by its big-endian
// uint64 ID; secondary-index buckets map a lookup key to that same ID.
var (
	bucketMeta = []byte("meta")

	bucketKeychains     = []byte("keychains")
	bucketKeychainByName = []byte("keychains-by-name")
	bucketKeychainByHash = []byte("keychains-by-hash")

	bucketKeys       = []byte("keys")
	bucketKeyByPub   = []byte("keys-by-pubkey")

	bucketAccounts     = []byte("accounts")
	bucketAccountByName = []byte("accounts-by-name")

	bucketAccountBins       = []byte("account-bins")
	bucketAccountBinsByName = []byte("account-bins-by-name")

	bucketSigningScripts          = []byte("signing-scripts")
	bucketSigningScriptsByTxOut   = []byte("signing-scripts-by-txout")
	bucketSigningScriptsUnusedIdx = []byte("signing-scripts-unused")

	bucketTxs              = []byte("txs")
	bucketTxsByUnsignedHash = []byte("txs-by-unsigned-hash")
	bucketTxsBySignedHash   = []byte("txs-by-signed-hash")
	bucketTxsByStatus       = []byte("txs-by-status")
	bucketTxsByHeight       = []byte("txs-by-height")

	bucketBlockHeaders = []byte("block-headers")

	bucketMerkleBlocks = []byte("merkle-blocks")

	bucketUsers       = []byte("users")
	bucketUsersByName = []byte("users-by-name")
)

// metaSchemaVersionKey/metaNetworkKey live in bucketMeta.
var (
	metaSchemaVersionKey = []byte("schema-version")
	metaNetworkKey       = []byte("network")
	metaNextIDKey        = []byte("next-id")
)

// CurrentSchemaVersion is the schema version new stores are created with.
// Bump it and add an entry to migrations when the on-disk record layout
// changes in an incompatible way.
const CurrentSchemaVersion = 1

// migration mutates a store from one schema version to the next.
type migration func(tx *Tx) error

// migrations is empty at version 1; the first real entry will run against
// a version-1 store to produce version 2.
var migrations = []migration{}

var topLevelBuckets = [][]byte{
	bucketMeta,
	bucketKeychains, bucketKeychainByName, bucketKeychainByHash,
	bucketKeys, bucketKeyByPub,
	bucketAccounts, bucketAccountByName,
	bucketAccountBins, bucketAccountBinsByName,
	bucketSigningScripts, bucketSigningScriptsByTxOut, bucketSigningScriptsUnusedIdx,
	bucketTxs, bucketTxsByUnsignedHash, bucketTxsBySignedHash, bucketTxsByStatus, bucketTxsByHeight,
	bucketBlockHeaders,
	bucketMerkleBlocks,
	bucketUsers, bucketUsersByName,
}
