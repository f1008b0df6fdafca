// Package node wires the chain, UTXO ledger, mempool, mining engine, and
// gossip hub into one running instance, and is the single place that
// serializes every mutation that touches more than one of them.
package node

import (
	stdecdsa "crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/cosmochain/cosmochain/internal/chain"
	"github.com/cosmochain/cosmochain/internal/coreerr"
	"github.com/cosmochain/cosmochain/internal/crypto"
	"github.com/cosmochain/cosmochain/internal/gossip"
	"github.com/cosmochain/cosmochain/internal/mempool"
	"github.com/cosmochain/cosmochain/internal/mining"
	"github.com/cosmochain/cosmochain/internal/snapshot"
	"github.com/cosmochain/cosmochain/internal/utxo"
)

// baseMiningReward is the coinbase amount paid for a single mined block,
// before the genesis multiplier or accumulated fees are added.
const baseMiningReward = 50

// startDifficulty is the difficulty new chains start at absent a loaded
// snapshot.
const startDifficulty = 2

// Config configures a new Node.
type Config struct {
	SnapshotPath string
	ListenAddr   string
	MinerKey     *stdecdsa.PrivateKey
	EvHandler    func(string, ...any)
}

// Node is the orchestrator: every operation that needs to touch the chain,
// ledger, and mempool together takes mu, so gossip and mining can never
// race each other into an inconsistent state.
type Node struct {
	mu sync.Mutex

	cfg Config

	chn    *chain.Chain
	ledger *utxo.Ledger
	pool   *mempool.Mempool
	engine *mining.Engine
	hub    *gossip.Hub

	minerAddress string
	evh          func(string, ...any)
}

func noop(string, ...any) {}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// New loads an existing snapshot from cfg.SnapshotPath if one exists, or
// else builds a fresh genesis block crediting cfg.MinerKey's address.
func New(cfg Config) (*Node, error) {
	if cfg.EvHandler == nil {
		cfg.EvHandler = noop
	}

	minerAddress := crypto.Address(cfg.MinerKey.PublicKey)

	n := &Node{
		cfg:          cfg,
		ledger:       utxo.NewLedger(),
		pool:         mempool.New(),
		minerAddress: minerAddress,
		evh:          cfg.EvHandler,
	}

	if err := n.load(); err != nil {
		return nil, err
	}

	n.hub = gossip.NewHub(n, cfg.EvHandler)
	n.engine = mining.New(n.chn, n.pool, n.ledger, minerAddress, n.blockFound, cfg.EvHandler)

	return n, nil
}

func (n *Node) load() error {
	doc, err := snapshot.Load(n.cfg.SnapshotPath)
	if err != nil {
		genesis, err := chain.NewGenesisBlock(n.minerAddress, baseMiningReward, nowMs())
		if err != nil {
			return fmt.Errorf("building genesis block: %w", err)
		}

		n.chn = chain.NewChain(genesis, startDifficulty, baseMiningReward)
		if err := utxo.Rebuild(n.ledger, n.chn.Blocks()); err != nil {
			return fmt.Errorf("folding genesis block: %w", err)
		}

		n.evh("node: no snapshot found at %s, starting from genesis", n.cfg.SnapshotPath)
		return nil
	}

	if len(doc.Chain) == 0 {
		return coreerr.NewTrusted(coreerr.ReasonMalformed, "snapshot chain is empty")
	}

	if err := chain.IsValidChain(doc.Chain); err != nil {
		return fmt.Errorf("snapshot chain failed validation: %w", err)
	}

	// Replace, unlike Append, does not retarget, so the persisted difficulty
	// is restored as saved rather than adjusted again for every window.
	n.chn = chain.NewChain(doc.Chain[0], doc.Difficulty, doc.MiningReward)
	if _, err := n.chn.Replace(doc.Chain); err != nil {
		return fmt.Errorf("restoring snapshot chain: %w", err)
	}

	if err := utxo.Rebuild(n.ledger, n.chn.Blocks()); err != nil {
		return fmt.Errorf("folding snapshot chain: %w", err)
	}

	n.evh("node: loaded snapshot with %d blocks from %s", len(doc.Chain), n.cfg.SnapshotPath)
	return nil
}

// persist writes the current chain and mining parameters to the
// configured snapshot path. Callers must hold mu.
func (n *Node) persist() {
	snap := n.chn.TakeSnapshot()

	doc := snapshot.Document{
		Chain:        n.chn.Blocks(),
		Difficulty:   snap.Difficulty,
		MiningReward: snap.MiningReward,
		MinerKey:     snapshot.EncodeMinerKey(n.cfg.MinerKey),
	}

	if err := snapshot.Save(n.cfg.SnapshotPath, doc); err != nil {
		n.evh("node: saving snapshot failed: %s", err)
	}
}

// Start dials the given peers and asks the tallest one for its chain. It
// does not start mining; StartMining does.
func (n *Node) Start(peerAddrs []string) {
	for _, addr := range peerAddrs {
		if _, err := n.hub.Dial(addr); err != nil {
			n.evh("node: dialing peer %s failed: %s", addr, err)
		}
	}

	n.hub.Synchronize()
}

// Hub returns the gossip hub, so the HTTP adapter can upgrade inbound
// websocket connections into it.
func (n *Node) Hub() *gossip.Hub {
	return n.hub
}

// StartMining starts the mining engine.
func (n *Node) StartMining() error {
	return n.engine.Start()
}

// StopMining stops the mining engine.
func (n *Node) StopMining() {
	n.engine.Stop()
}

// MiningStatus reports the mining engine's state and running statistics.
func (n *Node) MiningStatus() (mining.Status, mining.Stats) {
	return n.engine.Status(), n.engine.Statistics()
}

// ResetMiningStatistics zeros the mining engine's running counters.
func (n *Node) ResetMiningStatistics() {
	n.engine.ResetStatistics()
}

// SetDifficulty sets the difficulty applied to the next candidate block.
func (n *Node) SetDifficulty(d int) error {
	return n.chn.SetDifficulty(d)
}

// SetMiningReward sets the base reward applied to the next candidate block.
func (n *Node) SetMiningReward(reward uint64) {
	n.chn.SetMiningReward(reward)
}

// PendingTxCount returns the number of transactions currently in the
// mempool.
func (n *Node) PendingTxCount() int {
	return n.pool.Count()
}

// Difficulty returns the difficulty that applies to the next candidate
// block.
func (n *Node) Difficulty() int {
	return n.chn.Difficulty()
}

// ChainSnapshot implements gossip.NodeView.
func (n *Node) ChainSnapshot() (uint64, string) {
	snap := n.chn.TakeSnapshot()
	return snap.Height, snap.Tip.Hash
}

// Blocks implements gossip.NodeView.
func (n *Node) Blocks() []chain.Block {
	return n.chn.Blocks()
}

// ListenAddr implements gossip.NodeView.
func (n *Node) ListenAddr() string {
	return n.cfg.ListenAddr
}

// SeenBlock implements gossip.NodeView.
func (n *Node) SeenBlock(hash string) bool {
	_, ok := n.chn.BlockByHash(hash)
	return ok
}

// SeenTransaction implements gossip.NodeView: a transaction is seen once
// it is either pending in the mempool or present in some mined block.
func (n *Node) SeenTransaction(txID string) bool {
	if n.pool.Has(txID) {
		return true
	}

	for _, b := range n.chn.Blocks() {
		for _, tx := range b.Transactions {
			if tx.TxID == txID {
				return true
			}
		}
	}
	return false
}

// AcceptTransaction implements gossip.NodeView and is also the entry point
// for transactions submitted directly to this node.
func (n *Node) AcceptTransaction(tx chain.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.pool.Add(tx, n.ledger); err != nil {
		return err
	}

	return nil
}

// SubmitTransaction validates and admits a transaction, then gossips it to
// every connected peer.
func (n *Node) SubmitTransaction(tx chain.Transaction) error {
	if err := n.AcceptTransaction(tx); err != nil {
		return err
	}

	n.hub.GossipTransaction(tx)
	return nil
}

// AppendIfNext implements gossip.NodeView: it appends block only if it is
// the immediate successor of the local tip.
func (n *Node) AppendIfNext(block chain.Block) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.appendLocked(block)
}

// appendLocked validates block's transactions against a scratch copy of the
// ledger before touching the real one, so a block that fails partway
// through (a later transaction overspending a sender already debited by an
// earlier one in the same block) never leaves the real ledger applied out
// of step with the chain.
func (n *Node) appendLocked(block chain.Block) error {
	tip := n.chn.Tip()

	if err := chain.IsValidNewBlock(block, tip, n.chn.Difficulty()); err != nil {
		return err
	}

	scratch := n.ledger.Clone()
	for _, tx := range block.Transactions {
		if err := scratch.Process(tx); err != nil {
			return err
		}
	}

	n.ledger.Adopt(scratch)
	n.chn.Append(block)
	n.pool.RemoveBlock(block)
	n.persist()

	return nil
}

// blockFound is the mining.BlockFoundFunc: it finalizes a block the local
// engine mined, under the same lock gossiped blocks go through.
func (n *Node) blockFound(block chain.Block) error {
	n.mu.Lock()
	err := n.appendLocked(block)
	n.mu.Unlock()

	if err != nil {
		return err
	}

	n.hub.GossipBlock(block)
	return nil
}

// ReplaceChain implements gossip.NodeView.
func (n *Node) ReplaceChain(blocks []chain.Block) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	replaced, err := n.chn.Replace(blocks)
	if err != nil || !replaced {
		return replaced, err
	}

	if err := utxo.Rebuild(n.ledger, n.chn.Blocks()); err != nil {
		return false, fmt.Errorf("folding replacement chain: %w", err)
	}

	n.persist()
	return true, nil
}

// Balance returns address's current spendable balance.
func (n *Node) Balance(address string) uint64 {
	return n.ledger.Balance(address)
}

// BlockAt returns the block at the given height.
func (n *Node) BlockAt(index uint64) (chain.Block, bool) {
	return n.chn.BlockAt(index)
}

// BlockByHash returns the block with the given hash.
func (n *Node) BlockByHash(hash string) (chain.Block, bool) {
	return n.chn.BlockByHash(hash)
}

// Tip returns the current chain tip.
func (n *Node) Tip() chain.Block {
	return n.chn.Tip()
}

// TransactionStatus reports whether txID is pending, confirmed (with its
// containing block height and confirmation count), or unknown.
type TransactionStatus struct {
	Found         bool
	Pending       bool
	BlockHeight   uint64
	Confirmations uint64
}

// TransactionStatus looks up txID across the mempool and the chain.
func (n *Node) TransactionStatus(txID string) TransactionStatus {
	if n.pool.Has(txID) {
		return TransactionStatus{Found: true, Pending: true}
	}

	blocks := n.chn.Blocks()
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			if tx.TxID == txID {
				return TransactionStatus{
					Found:         true,
					BlockHeight:   b.Index,
					Confirmations: blocks[len(blocks)-1].Index - b.Index,
				}
			}
		}
	}

	return TransactionStatus{}
}
