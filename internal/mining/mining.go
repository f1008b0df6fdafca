// Package mining implements the block-producing state machine: build a
// candidate from the chain tip and mempool, run proof-of-work, and hand a
// solved block back to the owning node to finalize.
package mining

import (
	"context"
	"sync"
	"time"

	"github.com/cosmochain/cosmochain/internal/chain"
	"github.com/cosmochain/cosmochain/internal/coreerr"
	"github.com/cosmochain/cosmochain/internal/mempool"
	"github.com/cosmochain/cosmochain/internal/utxo"
)

// Status is one of the mining engine's states.
type Status int

const (
	Stopped Status = iota
	Starting
	Mining
	Stopping
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Mining:
		return "mining"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// blockCapacity is the maximum number of transactions a candidate block
// may hold, coinbase included. Mempool selection is asked for this many
// slots and reserves one for the coinbase itself.
const blockCapacity = 100

// idleBackoff is how long the mining loop sleeps between checks when the
// mempool is empty.
const idleBackoff = 200 * time.Millisecond

// BlockFoundFunc finalizes a mined block: validating it against the
// current tip, appending it to the chain, applying it to the UTXO ledger,
// removing its transactions from the mempool, persisting the snapshot,
// and broadcasting it to peers. It runs under whatever single-writer lock
// the owning node uses to serialize chain mutations; mining itself never
// holds that lock during the hash search.
type BlockFoundFunc func(block chain.Block) error

// Stats are the mining engine's running counters.
type Stats struct {
	TotalHashes    uint64
	BlocksMined    uint64
	HashRate       float64
	AvgBlockTimeMs int64
	UptimeMs       int64
}

// Engine runs the mining loop in its own goroutine once started.
type Engine struct {
	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	wg     sync.WaitGroup

	chn          *chain.Chain
	pool         *mempool.Mempool
	ledger       *utxo.Ledger
	minerAddress string
	onBlockFound BlockFoundFunc
	evHandler    func(string, ...any)

	statsMu          sync.Mutex
	startedAt        time.Time
	totalHashes      uint64
	blocksMined      uint64
	blockTimeTotalMs int64
	lastBlockFoundAt time.Time
}

// New constructs a mining engine over the given chain, mempool, and
// ledger. onBlockFound is called once per solved block.
func New(chn *chain.Chain, pool *mempool.Mempool, ledger *utxo.Ledger, minerAddress string, onBlockFound BlockFoundFunc, evHandler func(string, ...any)) *Engine {
	return &Engine{
		chn:          chn,
		pool:         pool,
		ledger:       ledger,
		minerAddress: minerAddress,
		onBlockFound: onBlockFound,
		evHandler:    evHandler,
	}
}

// Start transitions Stopped -> Starting -> Mining, refusing if the engine
// is already running or the mempool has nothing to mine.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != Stopped {
		return coreerr.NewTrusted(coreerr.ReasonMalformed, "mining engine is already running")
	}
	if e.pool.Count() == 0 {
		return coreerr.NewTrusted(coreerr.ReasonMalformed, "cannot start mining: mempool is empty")
	}

	e.status = Starting

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.statsMu.Lock()
	if e.startedAt.IsZero() {
		e.startedAt = time.Now()
	}
	e.statsMu.Unlock()

	e.wg.Add(1)
	e.status = Mining
	go e.run(ctx)

	return nil
}

// Stop transitions Mining -> Stopping -> Stopped and waits for the loop to
// observe cancellation at its next yield point.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.status != Mining && e.status != Starting {
		e.mu.Unlock()
		return
	}
	e.status = Stopping
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.status = Stopped
	e.mu.Unlock()
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Statistics returns a snapshot of the engine's running counters.
func (e *Engine) Statistics() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	var uptime time.Duration
	if !e.startedAt.IsZero() {
		uptime = time.Since(e.startedAt)
	}

	var hashRate float64
	if uptime > 0 {
		hashRate = float64(e.totalHashes) / uptime.Seconds()
	}

	var avgBlockTimeMs int64
	if e.blocksMined > 0 {
		avgBlockTimeMs = e.blockTimeTotalMs / int64(e.blocksMined)
	}

	return Stats{
		TotalHashes:    e.totalHashes,
		BlocksMined:    e.blocksMined,
		HashRate:       hashRate,
		AvgBlockTimeMs: avgBlockTimeMs,
		UptimeMs:       uptime.Milliseconds(),
	}
}

// ResetStatistics zeros the running counters without affecting whether
// the engine is mining.
func (e *Engine) ResetStatistics() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.totalHashes = 0
	e.blocksMined = 0
	e.blockTimeTotalMs = 0
	e.lastBlockFoundAt = time.Time{}
	e.startedAt = time.Now()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if e.pool.Count() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleBackoff):
				continue
			}
		}

		e.mineOnce(ctx)
	}
}

func feeSum(txs []chain.Transaction) uint64 {
	var total uint64
	for _, tx := range txs {
		total += tx.Fee
	}
	return total
}

// mineOnce builds one candidate block and runs proof-of-work over it. The
// hash search holds no lock; only the finalize step (onBlockFound) takes
// whatever writer lock the node uses.
func (e *Engine) mineOnce(ctx context.Context) {
	tip := e.chn.Tip()
	difficulty := e.chn.Difficulty()
	reward := e.chn.MiningReward()

	selected := e.pool.SelectForBlock(blockCapacity, e.ledger)
	now := time.Now().UnixMilli()

	coinbase, err := chain.NewCoinbase(e.minerAddress, reward+feeSum(selected), now)
	if err != nil {
		e.evHandler("mining: building coinbase failed: %s", err)
		return
	}

	txs := append([]chain.Transaction{coinbase}, selected...)

	candidate, err := chain.NewCandidateBlock(tip, txs, difficulty, now)
	if err != nil {
		e.evHandler("mining: building candidate failed: %s", err)
		return
	}

	attempts, err := candidate.Mine(ctx, difficulty)

	e.statsMu.Lock()
	e.totalHashes += uint64(attempts)
	e.statsMu.Unlock()

	if err != nil {
		return
	}

	if err := e.onBlockFound(candidate); err != nil {
		e.evHandler("mining: mined block rejected: %s", err)
		return
	}

	e.statsMu.Lock()
	e.blocksMined++
	if !e.lastBlockFoundAt.IsZero() {
		e.blockTimeTotalMs += time.Since(e.lastBlockFoundAt).Milliseconds()
	}
	e.lastBlockFoundAt = time.Now()
	e.statsMu.Unlock()
}
