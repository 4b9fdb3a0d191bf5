package sync

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// NetworkClient is the trusted source of chain data the coordinator drives
// the vault from. It is deliberately narrow, modernizing the shape of the
// chainntfs.ChainNotifier contract (block-epoch and spend notifications
// over a buffered channel) down to the subset an SPV-driven vault needs: a
// single filtered-block stream plus transaction broadcast. A neutrino light
// client, a full node's RPC/ZMQ client, or a test double can all satisfy it.
type NetworkClient interface {
	// Start connects to the network backend. It must be safe to call
	// Rescan only after Start returns successfully.
	Start() error

	// Stop tears down the connection, closing any outstanding
	// BlockEpochEvent's Epochs channel.
	Stop() error

	// PublishTransaction broadcasts tx to the network.
	PublishTransaction(tx *wire.MsgTx) error

	// Rescan installs filter and requests delivery of every block from
	// startHeight forward (using locators as the fork-point hint),
	// filtered against it. Matching blocks, and any disconnections from
	// a reorg, are delivered on the returned BlockEpochEvent until its
	// Stop func is called.
	Rescan(startHeight int32, locators []chainhash.Hash, filter NetworkFilter) (*BlockEpochEvent, error)
}

// NetworkFilter is the bloom filter parameters a Rescan call applies,
// grounded on vault.(*Vault).GetBloomFilter's return shape.
type NetworkFilter struct {
	Filter []byte
	Tweak  uint32
	FPRate float64
}

// BlockEpoch describes one block delivered by a Rescan subscription: either
// a connection (with its filtered merkle proof and any matched txs) or a
// disconnection signaling a reorg unwind back to Height.
type BlockEpoch struct {
	Header    wire.BlockHeader
	Height    int32
	Connected bool

	MerkleBlock *wire.MsgMerkleBlock
	MatchedTxs  []*wire.MsgTx
}

// BlockEpochEvent streams BlockEpoch notifications until Stop is called.
// Epochs must be treated as receive-only; it may be unbuffered, since the
// coordinator drains it into its own queue as notifications arrive.
type BlockEpochEvent struct {
	Epochs chan *BlockEpoch
	Stop   func()
}
