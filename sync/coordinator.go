package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/sigvault/vault/vault"
	"github.com/sigvault/vault/vaulterrors"
)

// State is the coordinator's chain-sync lifecycle state, per spec §4.5.
type State int

const (
	Stopped State = iota
	Starting
	SynchingHeaders
	SynchingBlocks
	Synched
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case SynchingHeaders:
		return "SYNCHING_HEADERS"
	case SynchingBlocks:
		return "SYNCHING_BLOCKS"
	case Synched:
		return "SYNCHED"
	default:
		return "UNKNOWN"
	}
}

// DefaultRebroadcastInterval is how often the coordinator resends every
// UNSENT/SENT tx it holds, in case an earlier broadcast was dropped by the
// network backend without an error surfacing.
const DefaultRebroadcastInterval = 10 * time.Minute

// Coordinator drives a vault.Vault from a NetworkClient, translating its
// filtered-block stream into the vault's InsertMerkleBlock/InsertMerkleTx
// calls and the vault's own state into filter/locator requests back out to
// the network. All vault access happens on one goroutine (the event loop),
// mirroring the vault's own single-threaded-under-a-coarse-lock design
// (spec §5): the NetworkClient's notification producer is decoupled from it
// by a queue.ConcurrentQueue, the same producer/consumer shape the
// teacher's own notification plumbing uses that package for.
type Coordinator struct {
	v      *vault.Vault
	client NetworkClient

	mu        sync.Mutex
	state     State
	suspended bool

	queue       *queue.ConcurrentQueue
	rebroadcast ticker.Ticker

	epochEvent *BlockEpochEvent

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Coordinator. rebroadcastInterval of zero selects
// DefaultRebroadcastInterval.
func New(v *vault.Vault, client NetworkClient, rebroadcastInterval time.Duration) *Coordinator {
	if rebroadcastInterval == 0 {
		rebroadcastInterval = DefaultRebroadcastInterval
	}
	return &Coordinator{
		v:           v,
		client:      client,
		queue:       queue.NewConcurrentQueue(50),
		rebroadcast: ticker.New(rebroadcastInterval),
		quit:        make(chan struct{}),
	}
}

// State reports the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	old := c.state
	c.state = s
	c.mu.Unlock()
	if old != s {
		log.Debugf("sync: %s -> %s", old, s)
	}
}

// Start connects to the network, begins headers/blocks sync, and launches
// the event-processing loop. It does not block past the initial Rescan
// subscription.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.state != Stopped {
		c.mu.Unlock()
		return fmt.Errorf("sync: coordinator already started")
	}
	c.state = Starting
	c.mu.Unlock()

	if err := c.client.Start(); err != nil {
		c.setState(Stopped)
		return err
	}

	c.queue.Start()
	c.rebroadcast.Resume()

	if err := c.beginSync(); err != nil {
		c.queue.Stop()
		c.rebroadcast.Stop()
		c.client.Stop()
		c.setState(Stopped)
		return err
	}

	c.wg.Add(1)
	go c.eventLoop()

	return nil
}

// Stop tears the coordinator down: the event loop, the rebroadcast ticker,
// the network subscription, and finally the NetworkClient itself.
func (c *Coordinator) Stop() error {
	if c.State() == Stopped {
		return nil
	}

	close(c.quit)
	c.wg.Wait()

	c.rebroadcast.Stop()
	c.queue.Stop()
	if c.epochEvent != nil {
		c.epochEvent.Stop()
	}

	c.setState(Stopped)
	return c.client.Stop()
}

// SuspendBlockUpdates pauses delivery of further block notifications into
// the vault (spec §4.5's per-operation suspend knob). Network I/O and the
// underlying subscription keep running; epochs simply stop being applied
// until resumed.
func (c *Coordinator) SuspendBlockUpdates(suspend bool) {
	c.mu.Lock()
	c.suspended = suspend
	c.mu.Unlock()
}

func (c *Coordinator) isSuspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

func (c *Coordinator) beginSync() error {
	c.setState(SynchingHeaders)

	locators, err := c.v.GetLocatorHashes()
	if err != nil {
		return err
	}

	filter, err := c.v.GetBloomFilter(0.0001, 0, wire.BloomUpdateAll)
	if err != nil {
		return err
	}

	event, err := c.client.Rescan(0, locators, NetworkFilter{
		Filter: filter.MsgFilterLoad().Filter,
		Tweak:  0,
		FPRate: 0.0001,
	})
	if err != nil {
		return err
	}
	c.epochEvent = event

	go c.pump(event)

	c.setState(SynchingBlocks)
	return nil
}

// pump forwards the NetworkClient's notification channel onto the
// coordinator's internal queue, decoupling the client's own goroutine from
// the single-threaded consumer in eventLoop.
func (c *Coordinator) pump(event *BlockEpochEvent) {
	for epoch := range event.Epochs {
		select {
		case c.queue.ChanIn() <- epoch:
		case <-c.quit:
			return
		}
	}
}

func (c *Coordinator) eventLoop() {
	defer c.wg.Done()

	for {
		select {
		case item, ok := <-c.queue.ChanOut():
			if !ok {
				return
			}
			c.handleEpoch(item.(*BlockEpoch))

		case <-c.rebroadcast.Ticks():
			c.rebroadcastUnconfirmed()

		case <-c.quit:
			return
		}
	}
}

func (c *Coordinator) handleEpoch(epoch *BlockEpoch) {
	if c.isSuspended() {
		return
	}

	if !epoch.Connected {
		c.handleDisconnect(epoch)
		return
	}

	header := headerFromWire(&epoch.Header, epoch.Height)

	// A block with no matched txs still has to connect the header chain,
	// so it goes through the whole-block path with an empty hash list.
	// A block with matches goes through the per-tx streaming path
	// instead of also calling InsertMerkleBlock: that path's own
	// txIndex-0 branch connects the header and creates the block row,
	// and unlike InsertMerkleBlock's confirmMerkleBlockTxsUnwrapped (which
	// only confirms a tx it can already find by signed hash) it also
	// ingests a brand new incoming tx the vault has never seen before —
	// the case that matters for a NetworkClient backed by btcwallet/chain
	// (sync/neutrino_client.go), whose Notifications() stream hands over
	// already-filtered relevant txs rather than a raw BIP37 partial
	// merkle tree to validate against.
	if len(epoch.MatchedTxs) == 0 {
		mb := &vault.MerkleBlock{BlockHash: header.Hash}
		if err := c.v.InsertMerkleBlock(header, mb); err != nil {
			log.Errorf("sync: insert merkle block %s: %v", header.Hash, err)
			return
		}
		c.setState(Synched)
		return
	}

	txCount := uint32(len(epoch.MatchedTxs))
	for i, wtx := range epoch.MatchedTxs {
		t := txFromWire(wtx)
		if err := c.v.InsertMerkleTx(header, header.Hash, txCount, t, uint32(i)); err != nil {
			log.Errorf("sync: insert merkle tx %s: %v", t.UnsignedHash, err)
		}
	}

	c.setState(Synched)
}

// handleDisconnect implements the reorg-handling rule from spec §4.5: unwind
// the vault's chain state back to the disconnected block's height, then
// re-issue locator hashes so the network backend can resume from the new
// fork point. The header-collision path in vault/chainstate.go's
// connectHeaderUnwrapped already handles the unwind triggered by the next
// InsertMerkleBlock landing on the old chain's abandoned tip.
func (c *Coordinator) handleDisconnect(epoch *BlockEpoch) {
	if _, err := c.v.DeleteMerkleBlockFrom(epoch.Height); err != nil {
		log.Errorf("sync: unwind from height %d: %v", epoch.Height, err)
		return
	}

	c.setState(SynchingHeaders)
	if _, err := c.v.GetLocatorHashes(); err != nil {
		log.Errorf("sync: re-locate after reorg: %v", err)
		return
	}
	c.setState(SynchingBlocks)
}

func (c *Coordinator) rebroadcastUnconfirmed() {
	txs, err := c.v.ListUnconfirmedTxs()
	if err != nil {
		log.Errorf("sync: list unconfirmed txs for rebroadcast: %v", err)
		return
	}
	for _, t := range txs {
		if t.Status != vault.TxUnsent && t.Status != vault.TxSent {
			continue
		}
		if err := c.SendTx(t); err != nil {
			log.Debugf("sync: rebroadcast %s: %v", t.UnsignedHash, err)
		}
	}
}

// SendTx broadcasts t to the network, recursively sending any unconfirmed
// dependency that is UNSENT or PROPAGATED first, per spec §4.5. It refuses
// to send a tx that is UNSIGNED, or whose dependency chain contains an
// UNSIGNED ancestor; that check runs over the whole chain before any
// broadcast happens, so a deep refusal never leaves a partial send behind.
func (c *Coordinator) SendTx(t *vault.Tx) error {
	if err := c.checkNoUnsignedAncestor(t, make(map[[32]byte]bool)); err != nil {
		return err
	}
	return c.sendRecursive(t, make(map[[32]byte]bool))
}

// checkNoUnsignedAncestor walks every ancestor reachable through t's inputs,
// regardless of status, refusing as soon as one is found UNSIGNED. Unlike
// sendRecursive's send-walk (which only descends into UNSENT/PROPAGATED
// dependencies), this check must see the whole chain: an ancestor that is
// already SENT or CONFIRMED still had to have been signed to get there, but
// an UNSIGNED one anywhere upstream makes t unsendable per spec §4.5.
func (c *Coordinator) checkNoUnsignedAncestor(t *vault.Tx, seen map[[32]byte]bool) error {
	if t.Status == vault.TxUnsigned {
		return vaulterrors.NewNotSigned(t.UnsignedHash.String())
	}
	if seen[t.UnsignedHash] {
		return nil
	}
	seen[t.UnsignedHash] = true

	for _, in := range t.TxIns {
		dep, err := c.v.GetTxByUnsignedHash(in.Outpoint.Hash)
		if err != nil {
			continue
		}
		if err := c.checkNoUnsignedAncestor(dep, seen); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) sendRecursive(t *vault.Tx, seen map[[32]byte]bool) error {
	if seen[t.UnsignedHash] {
		return nil
	}
	seen[t.UnsignedHash] = true

	for _, in := range t.TxIns {
		dep, err := c.v.GetTxByUnsignedHash(in.Outpoint.Hash)
		if err != nil {
			continue
		}
		if dep.Status == vault.TxUnsent || dep.Status == vault.TxPropagated {
			if err := c.sendRecursive(dep, seen); err != nil {
				return err
			}
		}
	}

	if t.Status != vault.TxUnsent && t.Status != vault.TxSent && t.Status != vault.TxPropagated {
		return nil
	}
	if err := c.client.PublishTransaction(t.ToWire(false)); err != nil {
		return err
	}
	return c.v.MarkSent(t)
}

func headerFromWire(h *wire.BlockHeader, height int32) *vault.BlockHeader {
	return &vault.BlockHeader{
		Hash:       h.BlockHash(),
		Version:    h.Version,
		PrevHash:   h.PrevBlock,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  h.Timestamp,
		Bits:       h.Bits,
		Nonce:      h.Nonce,
		Height:     height,
	}
}

// txFromWire builds a vault.Tx from a wire-format tx observed on the
// network. The resulting Status is a placeholder: insertMerkleTxUnwrapped
// overwrites it to CONFIRMED (or merges into an already-stored record) as
// soon as the tx lands inside a merkle block, so only the UNSIGNED/
// non-UNSIGNED distinction (used to pick the lookup key) matters here.
func txFromWire(msg *wire.MsgTx) *vault.Tx {
	t := &vault.Tx{
		Version:  msg.Version,
		LockTime: msg.LockTime,
	}
	for i, in := range msg.TxIn {
		t.TxIns = append(t.TxIns, &vault.TxIn{
			Index: uint32(i),
			Outpoint: vault.OutPoint{
				Hash:  in.PreviousOutPoint.Hash,
				Index: in.PreviousOutPoint.Index,
			},
			Script:   in.SignatureScript,
			Sequence: in.Sequence,
			Witness:  in.Witness,
		})
	}
	for i, out := range msg.TxOut {
		t.TxOuts = append(t.TxOuts, &vault.TxOut{
			Index:  uint32(i),
			Value:  out.Value,
			Script: out.PkScript,
		})
	}
	t.UnsignedHash = t.ComputeUnsignedHash()
	t.SignedHash = msg.TxHash()
	if t.UnsignedHash == t.SignedHash {
		t.Status = vault.TxUnsigned
	} else {
		t.Status = vault.TxPropagated
	}
	return t
}
