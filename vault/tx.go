package vault

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxStatus is a Tx's lifecycle status, per spec §3.
type TxStatus int

const (
	TxNoStatus TxStatus = iota
	TxUnsigned
	TxUnsent
	TxSent
	TxPropagated
	TxCanceled
	TxConfirmed
)

func (s TxStatus) String() string {
	switch s {
	case TxUnsigned:
		return "UNSIGNED"
	case TxUnsent:
		return "UNSENT"
	case TxSent:
		return "SENT"
	case TxPropagated:
		return "PROPAGATED"
	case TxCanceled:
		return "CANCELED"
	case TxConfirmed:
		return "CONFIRMED"
	default:
		return "NO_STATUS"
	}
}

// statusRank gives the ordering "Status transitions" in spec §4.3.2 compares
// against: a duplicate insertTx may only move a tx forward along this scale.
var statusRank = map[TxStatus]int{
	TxNoStatus:   0,
	TxUnsigned:   1,
	TxUnsent:     2,
	TxSent:       3,
	TxPropagated: 4,
	TxCanceled:   5,
	TxConfirmed:  6,
}

// IsUpgradeFrom reports whether to is a strict forward move from from, per
// spec §4.3.2's "only accept a strict status upgrade" rule for already
// signed duplicates.
func IsUpgradeFrom(from, to TxStatus) bool {
	return statusRank[to] > statusRank[from]
}

// OutPoint references a TxOut by its owning tx hash and output index.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// TxOutStatus tracks whether a TxOut has been spent.
type TxOutStatus int

const (
	TxOutUnspent TxOutStatus = iota
	TxOutSpent
)

// TxOut is an output of a Tx, with weak links to the account/bin/script
// that can claim it and to the TxIn that spends it, per spec §3.
type TxOut struct {
	Index  uint32
	Value  int64
	Script []byte

	Status TxOutStatus
	// SpentBy is the (tx hash, input index) of the TxIn spending this
	// output, resolved lazily; zero value if unspent.
	SpentByTxHash  chainhash.Hash
	SpentByTxIndex uint32
	hasSpentBy     bool

	SendingAccountID     int64
	ReceivingAccountID   int64
	ReceivingBinID       int64
	ReceivingScriptID    int64
	SendingLabel         string
	ReceivingLabel       string
}

func (o *TxOut) MarkSpentBy(txHash chainhash.Hash, index uint32) {
	o.Status = TxOutSpent
	o.SpentByTxHash = txHash
	o.SpentByTxIndex = index
	o.hasSpentBy = true
}

func (o *TxOut) ClearSpentBy() {
	o.Status = TxOutUnspent
	o.hasSpentBy = false
}

func (o *TxOut) HasSpentBy() bool { return o.hasSpentBy }

// TxIn is an input of a Tx; its Outpoint is a weak cross-reference resolved
// lazily against the outpoint's owning Tx, per spec §3.
type TxIn struct {
	Index    uint32
	Outpoint OutPoint
	Script   []byte
	Sequence uint32
	Witness  [][]byte
}

// Tx is a transaction with its cached unsigned/signed hashes, per spec §3-4.
type Tx struct {
	ID          int64
	Version     int32
	LockTime    uint32
	Timestamp   time.Time
	TxIns       []*TxIn
	TxOuts      []*TxOut

	UnsignedHash chainhash.Hash
	SignedHash   chainhash.Hash // zero while Status == TxUnsigned

	Status      TxStatus
	Conflicting bool

	BlockHash   *chainhash.Hash
	BlockHeight int32
	BlockIndex  uint32 // position within the merkle block's tx list

	Username string // optional, v>=2 of the export format

	inputTotalCached  int64
	outputTotalCached int64
	totalsCached      bool
}

// ToWire builds the wire.MsgTx for this Tx. clearScripts controls whether
// input scriptSigs/witnesses are zeroed, which is how the unsigned hash is
// computed (spec §4.3.1).
func (t *Tx) ToWire(clearScripts bool) *wire.MsgTx {
	msg := wire.NewMsgTx(t.Version)
	msg.LockTime = t.LockTime

	for _, in := range t.TxIns {
		txIn := wire.NewTxIn(&wire.OutPoint{Hash: in.Outpoint.Hash, Index: in.Outpoint.Index}, nil, nil)
		if !clearScripts {
			txIn.SignatureScript = in.Script
			txIn.Witness = in.Witness
		}
		txIn.Sequence = in.Sequence
		msg.AddTxIn(txIn)
	}
	for _, out := range t.TxOuts {
		msg.AddTxOut(wire.NewTxOut(out.Value, out.Script))
	}
	return msg
}

// ComputeUnsignedHash computes sha256d over the tx with every input's
// script/witness cleared, the vault's identity key (spec §3, §4.3.1).
func (t *Tx) ComputeUnsignedHash() chainhash.Hash {
	return t.ToWire(true).TxHash()
}

// MissingSignatureCount sums, across every input, the number of signatures
// that input still needs: requiredSigs(i) minus presentSigs(i). A
// fully-signed tx has zero.
func (t *Tx) MissingSignatureCount(requiredSigs func(inputIndex int) int, presentSigs func(inputIndex int) int) int {
	missing := 0
	for i := range t.TxIns {
		missing += requiredSigs(i) - presentSigs(i)
	}
	return missing
}

// RecomputeSignedHash sets SignedHash to sha256d over the wire tx with its
// current scripts and witnesses; nothing else is changed. It must only be
// called once MissingSignatureCount is zero, per spec §3's invariant.
func (t *Tx) RecomputeSignedHash() {
	t.SignedHash = t.ToWire(false).TxHash()
}

// CachedTotals returns the cached input/output totals. The output total is
// summed from TxOuts and cached on first use; the input total is not
// computed and is always zero.
func (t *Tx) CachedTotals() (inputTotal, outputTotal int64) {
	if !t.totalsCached {
		var out int64
		for _, o := range t.TxOuts {
			out += o.Value
		}
		t.outputTotalCached = out
		t.totalsCached = true
	}
	return t.inputTotalCached, t.outputTotalCached
}

func (t *Tx) InvalidateTotalsCache() { t.totalsCached = false }
