// Package mempool holds unconfirmed transactions and selects a
// fee-ordered subset for the next block.
package mempool

import (
	"sort"
	"sync"

	"github.com/cosmochain/cosmochain/internal/chain"
	"github.com/cosmochain/cosmochain/internal/coreerr"
	"github.com/cosmochain/cosmochain/internal/utxo"
)

// Mempool is the set of transactions admitted but not yet mined, keyed by
// tx_id.
type Mempool struct {
	mu   sync.RWMutex
	pool map[string]chain.Transaction
}

// New constructs an empty mempool.
func New() *Mempool {
	return &Mempool{
		pool: make(map[string]chain.Transaction),
	}
}

// Add admits tx if it individually validates, the sender (as seen by
// ledger) can cover amount+fee, and tx_id is not already present.
func (m *Mempool) Add(tx chain.Transaction, ledger *utxo.Ledger) error {
	if err := tx.IsValid(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pool[tx.TxID]; exists {
		return coreerr.NewTrusted(coreerr.ReasonDuplicate, "tx_id %s already in mempool", tx.TxID)
	}

	if !ledger.CanProcess(tx) {
		return coreerr.NewTrusted(coreerr.ReasonInsufficientFunds, "sender %s cannot cover amount+fee", tx.From)
	}

	m.pool[tx.TxID] = tx
	return nil
}

// Has reports whether tx_id is currently in the mempool.
func (m *Mempool) Has(txID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.pool[txID]
	return ok
}

// Get returns the transaction for tx_id, if present.
func (m *Mempool) Get(txID string) (chain.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.pool[txID]
	return tx, ok
}

// Remove drops tx_id from the mempool.
func (m *Mempool) Remove(txID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pool, txID)
}

// RemoveBlock drops every transaction included in block from the mempool.
// Surviving transactions are not re-validated here; the next admission
// attempt (or selection pass) is what catches a now-invalid survivor.
func (m *Mempool) RemoveBlock(block chain.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range block.Transactions {
		delete(m.pool, tx.TxID)
	}
}

// Count returns the number of transactions currently pending.
func (m *Mempool) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pool)
}

// All returns a copy of every pending transaction.
func (m *Mempool) All() []chain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]chain.Transaction, 0, len(m.pool))
	for _, tx := range m.pool {
		out = append(out, tx)
	}
	return out
}

// SelectForBlock returns up to maxCount-1 admissible transactions (room is
// left for the coinbase), sorted by descending fee. A running in-memory
// spend tally per sender is kept during selection so the returned set
// never lets a single address overspend across two transactions that were
// each individually affordable at admission time.
func (m *Mempool) SelectForBlock(maxCount int, ledger *utxo.Ledger) []chain.Transaction {
	m.mu.RLock()
	txs := make([]chain.Transaction, 0, len(m.pool))
	for _, tx := range m.pool {
		txs = append(txs, tx)
	}
	m.mu.RUnlock()

	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Fee != txs[j].Fee {
			return txs[i].Fee > txs[j].Fee
		}
		return txs[i].TxID < txs[j].TxID
	})

	limit := maxCount - 1
	if limit < 0 {
		limit = 0
	}

	committed := make(map[string]uint64)
	selected := make([]chain.Transaction, 0, limit)

	for _, tx := range txs {
		if len(selected) >= limit {
			break
		}

		need := tx.Amount + tx.Fee
		available := ledger.Balance(tx.From)
		if available < committed[tx.From]+need {
			continue
		}

		committed[tx.From] += need
		selected = append(selected, tx)
	}

	return selected
}
