// Package utxo implements the spendable-output ledger. A transfer consumes
// whole outputs and mints a new change output for any remainder; the
// ledger never tracks a single running balance independent of outputs.
package utxo

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cosmochain/cosmochain/internal/chain"
	"github.com/cosmochain/cosmochain/internal/coreerr"
	"github.com/cosmochain/cosmochain/internal/crypto"
)

// changeOutputIndex is the fixed output index minted for spend change.
const changeOutputIndex = 1

// Output is a single unspent claim on funds.
type Output struct {
	TxID        string `json:"tx_id"`
	OutputIndex int    `json:"output_index"`
	Amount      uint64 `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
}

// Ledger is the per-address set of unspent outputs plus a cached balance
// per address, kept in lockstep with the outputs on every mutation.
type Ledger struct {
	mu       sync.RWMutex
	outputs  map[string][]Output
	balances map[string]uint64
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		outputs:  make(map[string][]Output),
		balances: make(map[string]uint64),
	}
}

// Add credits address with a new output.
func (l *Ledger) Add(address, txID string, amount uint64, outputIndex int, timestamp int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outputs[address] = append(l.outputs[address], Output{
		TxID:        txID,
		OutputIndex: outputIndex,
		Amount:      amount,
		Timestamp:   timestamp,
	})
	l.balances[address] += amount
}

// Balance returns the cached spendable balance for address.
func (l *Ledger) Balance(address string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[address]
}

// Outputs returns a copy of address's current unspent outputs.
func (l *Ledger) Outputs(address string) []Output {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Output, len(l.outputs[address]))
	copy(out, l.outputs[address])
	return out
}

// CanProcess reports whether tx could be applied given the current ledger
// state: always true for coinbase, balance-sufficiency for transfers.
func (l *Ledger) CanProcess(tx chain.Transaction) bool {
	if tx.IsCoinbase() {
		return true
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[tx.From] >= tx.Amount+tx.Fee
}

// spend consumes outputs of address greedily largest-first until amount is
// covered, decrements the balance, and mints a change output for any
// remainder. It fails with InsufficientFunds if the balance cannot cover
// amount.
func (l *Ledger) spend(address string, amount uint64, timestamp int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[address] < amount {
		return coreerr.NewTrusted(coreerr.ReasonInsufficientFunds, "balance %d for %s is less than %d", l.balances[address], address, amount)
	}

	outs := l.outputs[address]
	order := make([]int, len(outs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return outs[order[i]].Amount > outs[order[j]].Amount })

	used := make(map[int]bool, len(order))
	var consumed uint64
	for _, idx := range order {
		if consumed >= amount {
			break
		}
		used[idx] = true
		consumed += outs[idx].Amount
	}

	kept := make([]Output, 0, len(outs))
	for i, o := range outs {
		if !used[i] {
			kept = append(kept, o)
		}
	}

	if change := consumed - amount; change > 0 {
		kept = append(kept, Output{
			TxID:        changeTxID(address, timestamp, change),
			OutputIndex: changeOutputIndex,
			Amount:      change,
			Timestamp:   timestamp,
		})
	}

	l.outputs[address] = kept
	l.balances[address] -= amount

	return nil
}

// changeTxID synthesizes a tx_id for a change output. It never collides
// with a real transaction id because it is hashed from a distinct prefix.
func changeTxID(address string, timestamp int64, amount uint64) string {
	return crypto.Sha256Hex([]byte(fmt.Sprintf("change:%s:%d:%d", address, timestamp, amount)))
}

// Process applies tx to the ledger: a coinbase only adds; a transfer
// spends amount+fee from the sender and adds amount to the recipient. The
// fee itself is not separately credited here — it was already folded into
// the block's coinbase amount.
func (l *Ledger) Process(tx chain.Transaction) error {
	if tx.IsCoinbase() {
		l.Add(tx.To, tx.TxID, tx.Amount, 0, tx.Timestamp)
		return nil
	}

	if err := l.spend(tx.From, tx.Amount+tx.Fee, tx.Timestamp); err != nil {
		return err
	}

	l.Add(tx.To, tx.TxID, tx.Amount, 0, tx.Timestamp)
	return nil
}

// Clone returns a deep copy of the ledger, so a block's transactions can be
// validated against a scratch copy before any of them touch the real
// ledger.
func (l *Ledger) Clone() *Ledger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	clone := NewLedger()
	for address, outs := range l.outputs {
		copied := make([]Output, len(outs))
		copy(copied, outs)
		clone.outputs[address] = copied
	}
	for address, balance := range l.balances {
		clone.balances[address] = balance
	}
	return clone
}

// Adopt replaces the ledger's state with other's. Used to commit a scratch
// ledger that has already had a block's transactions applied to it.
func (l *Ledger) Adopt(other *Ledger) {
	other.mu.RLock()
	outputs := other.outputs
	balances := other.balances
	other.mu.RUnlock()

	l.mu.Lock()
	l.outputs = outputs
	l.balances = balances
	l.mu.Unlock()
}

// Clear resets the ledger to empty. Used before re-folding a chain.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outputs = make(map[string][]Output)
	l.balances = make(map[string]uint64)
}

// TotalSupply sums every address's cached balance.
func (l *Ledger) TotalSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total uint64
	for _, b := range l.balances {
		total += b
	}
	return total
}

// Rebuild clears the ledger and re-applies blocks' transactions in order,
// the deterministic fold the chain's UTXO state is always derived from.
func Rebuild(l *Ledger, blocks []chain.Block) error {
	l.Clear()

	for _, block := range blocks {
		for _, tx := range block.Transactions {
			if err := l.Process(tx); err != nil {
				return err
			}
		}
	}

	return nil
}
