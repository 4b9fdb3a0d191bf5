package vault

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockHeader is a Bitcoin header plus its unique height, per spec §3.
// Heights form a contiguous prefix with no two headers sharing a height
// (testable property §8.4).
type BlockHeader struct {
	Hash       chainhash.Hash
	Version    int32
	PrevHash   chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  time.Time
	Bits       uint32
	Nonce      uint32
	Height     int32
}

// MerkleBlock is a header reference plus the minimal merkle branch proving
// inclusion of the matching transactions, per spec §3.
type MerkleBlock struct {
	BlockHash    chainhash.Hash
	TxCount      uint32
	Hashes       []chainhash.Hash
	Flags        []byte
	TxsInserted  bool
}
