package sync

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/chain"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightninglabs/neutrino"
)

// NeutrinoConfig mirrors the subset of the teacher's NeutrinoMode config
// this vault needs: a data directory, the backing header/filter database,
// and a peer list. There is no per-chain backend switch to make here, so
// the btcd-RPC and Litecoin-specific branches chainregistry.go carries
// alongside this have no counterpart.
type NeutrinoConfig struct {
	DataDir      string
	Database     walletdb.DB
	ChainParams  chaincfg.Params
	AddPeers     []string
	ConnectPeers []string
}

// NeutrinoClient adapts a neutrino-backed *chain.NeutrinoClient to the
// NetworkClient interface, grounded on chainregistry.go's own
// neutrino.NewChainService/chain.NewNeutrinoClient wiring for SPV mode.
type NeutrinoClient struct {
	svc    *neutrino.ChainService
	client *chain.NeutrinoClient

	epochs chan *BlockEpoch
	quit   chan struct{}
}

// NewNeutrinoClient starts nothing; call Start to connect.
func NewNeutrinoClient(cfg NeutrinoConfig) (*NeutrinoClient, error) {
	svc, err := neutrino.NewChainService(neutrino.Config{
		DataDir:      cfg.DataDir,
		Database:     cfg.Database,
		ChainParams:  cfg.ChainParams,
		AddPeers:     cfg.AddPeers,
		ConnectPeers: cfg.ConnectPeers,
	})
	if err != nil {
		return nil, fmt.Errorf("sync: unable to create neutrino chain service: %w", err)
	}

	return &NeutrinoClient{
		svc:    svc,
		client: chain.NewNeutrinoClient(svc),
		epochs: make(chan *BlockEpoch),
		quit:   make(chan struct{}),
	}, nil
}

func (n *NeutrinoClient) Start() error {
	if err := n.svc.Start(); err != nil {
		return err
	}
	return n.client.Start()
}

func (n *NeutrinoClient) Stop() error {
	n.client.Stop()
	n.client.WaitForShutdown()
	return n.svc.Stop()
}

func (n *NeutrinoClient) PublishTransaction(tx *wire.MsgTx) error {
	_, err := n.client.SendRawTransaction(tx, true)
	return err
}

// Rescan subscribes to the client's notification stream and translates it
// into BlockEpoch values until the returned event's Stop func is called.
// locators is unused beyond its first element: neutrino's own Rescan takes
// a single fork-point hash, not a full locator list, since it reconciles
// the rest from its own header store. startHeight and filter are not used:
// no filter is installed on the neutrino client.
func (n *NeutrinoClient) Rescan(startHeight int32, locators []chainhash.Hash, filter NetworkFilter) (*BlockEpochEvent, error) {
	if err := n.client.NotifyBlocks(); err != nil {
		return nil, err
	}

	var startHash *chainhash.Hash
	if len(locators) > 0 {
		startHash = &locators[0]
	}
	if err := n.client.Rescan(startHash, nil, nil); err != nil {
		return nil, err
	}

	go n.forward()

	return &BlockEpochEvent{
		Epochs: n.epochs,
		Stop:   func() { close(n.quit) },
	}, nil
}

func (n *NeutrinoClient) forward() {
	for {
		select {
		case ntfn, ok := <-n.client.Notifications():
			if !ok {
				return
			}
			n.dispatch(ntfn)

		case <-n.quit:
			return
		}
	}
}

func (n *NeutrinoClient) dispatch(ntfn interface{}) {
	switch e := ntfn.(type) {
	case chain.FilteredBlockConnected:
		header, err := n.client.GetBlockHeader(&e.Block.Hash)
		if err != nil {
			log.Errorf("sync: fetch header for connected block %s: %v", e.Block.Hash, err)
			return
		}
		n.epochs <- &BlockEpoch{
			Header:     *header,
			Height:     e.Block.Height,
			Connected:  true,
			MatchedTxs: txsFromRecords(e.RelevantTxs),
		}

	case chain.BlockDisconnected:
		header, err := n.client.GetBlockHeader(&e.Hash)
		if err != nil {
			log.Errorf("sync: fetch header for disconnected block %s: %v", e.Hash, err)
			return
		}
		n.epochs <- &BlockEpoch{
			Header:    *header,
			Height:    e.Height,
			Connected: false,
		}
	}
}

func txsFromRecords(recs []*wtxmgr.TxRecord) []*wire.MsgTx {
	txs := make([]*wire.MsgTx, len(recs))
	for i, r := range recs {
		txs[i] = &r.MsgTx
	}
	return txs
}
