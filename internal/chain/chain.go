package chain

import (
	"sync"

	"github.com/cosmochain/cosmochain/internal/coreerr"
)

// RetargetInterval is the block count between difficulty adjustments.
const RetargetInterval = 10

// TargetBlockTimeMs is the desired average time between blocks.
const TargetBlockTimeMs = 10_000

// MinDifficulty is the floor difficulty never retargeted below.
const MinDifficulty = 1

// MaxDifficulty is the ceiling accepted by SetDifficulty.
const MaxDifficulty = 10

// Chain is the ordered, append-only sequence of blocks plus the mutable
// mining parameters that apply to the next block. It is safe for
// concurrent use; callers wanting a consistent multi-step read (e.g.
// tip + difficulty together) should use TakeSnapshot.
type Chain struct {
	mu sync.RWMutex

	blocks       []Block
	difficulty   int
	miningReward uint64
}

// NewChain constructs a chain starting from genesis with the given
// starting difficulty and mining reward.
func NewChain(genesis Block, difficulty int, miningReward uint64) *Chain {
	return &Chain{
		blocks:       []Block{genesis},
		difficulty:   difficulty,
		miningReward: miningReward,
	}
}

// Tip returns the most recently appended block.
func (c *Chain) Tip() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Len returns the number of blocks in the chain, genesis included.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Blocks returns a copy of every block in the chain.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// BlockAt returns the block at the given height.
func (c *Chain) BlockAt(index uint64) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if index >= uint64(len(c.blocks)) {
		return Block{}, false
	}
	return c.blocks[index], true
}

// BlockByHash searches for a block by its hash.
func (c *Chain) BlockByHash(hash string) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, b := range c.blocks {
		if b.Hash == hash {
			return b, true
		}
	}
	return Block{}, false
}

// Difficulty returns the difficulty that applies to the next candidate
// block.
func (c *Chain) Difficulty() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.difficulty
}

// SetDifficulty sets the difficulty effective for the next candidate
// block only.
func (c *Chain) SetDifficulty(n int) error {
	if n < MinDifficulty || n > MaxDifficulty {
		return coreerr.NewTrusted(coreerr.ReasonMalformed, "difficulty must be between %d and %d", MinDifficulty, MaxDifficulty)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.difficulty = n
	return nil
}

// MiningReward returns the base reward that applies to the next candidate
// block.
func (c *Chain) MiningReward() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.miningReward
}

// SetMiningReward sets the base reward effective for the next candidate
// block only.
func (c *Chain) SetMiningReward(x uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.miningReward = x
}

// IsValidNewBlock checks new against prev per the linkage, hash, PoW, and
// transaction-set invariants. It does not check the candidate against the
// chain's difficulty history, only against the difficulty the caller
// considers current.
func IsValidNewBlock(newBlock, prev Block, difficulty int) error {
	if newBlock.Index != prev.Index+1 {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "block index %d is not %d", newBlock.Index, prev.Index+1)
	}
	if newBlock.PreviousHash != prev.Hash {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "previous_hash does not match prev.hash")
	}
	if err := newBlock.selfConsistent(); err != nil {
		return err
	}
	if !isHashSolved(difficulty, newBlock.Hash) {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "hash does not satisfy difficulty %d", difficulty)
	}
	if err := newBlock.hasValidTransactions(); err != nil {
		return err
	}
	return nil
}

// IsValidChain folds IsValidNewBlock pairwise starting at index 1; genesis
// (index 0) is trusted, matching the constructor's exemption from PoW.
func IsValidChain(blocks []Block) error {
	if len(blocks) == 0 {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "chain is empty")
	}
	if blocks[0].Index != 0 || blocks[0].PreviousHash != "0" {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "genesis block malformed")
	}

	for i := 1; i < len(blocks); i++ {
		if err := IsValidNewBlock(blocks[i], blocks[i-1], blocks[i].Difficulty); err != nil {
			return err
		}
	}
	return nil
}

// Append adds newBlock to the chain and runs the difficulty retarget check.
// The caller is responsible for having already validated newBlock and
// applied it to the UTXO ledger.
func (c *Chain) Append(newBlock Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = append(c.blocks, newBlock)
	c.retarget()
}

// retarget adjusts difficulty after a block whose index is a nonzero
// multiple of RetargetInterval, comparing the actual time taken for the
// last window against the expected time. Must be called with c.mu held.
func (c *Chain) retarget() {
	last := len(c.blocks) - 1
	index := c.blocks[last].Index

	if index == 0 || index%RetargetInterval != 0 {
		return
	}

	windowStart := last - RetargetInterval
	if windowStart < 0 {
		return
	}

	actual := c.blocks[last].Timestamp - c.blocks[windowStart].Timestamp
	expected := int64(RetargetInterval * TargetBlockTimeMs)

	switch {
	case actual < expected/2:
		if c.difficulty < MaxDifficulty {
			c.difficulty++
		}
	case actual > expected*2:
		if c.difficulty > MinDifficulty {
			c.difficulty--
		}
	}
}

// Replace adopts candidate if it is strictly longer than the local chain
// and fully valid. Equal-length candidates never replace. It returns
// whether the replacement happened.
func (c *Chain) Replace(candidate []Block) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(candidate) <= len(c.blocks) {
		return false, nil
	}

	if err := IsValidChain(candidate); err != nil {
		return false, err
	}

	c.blocks = append([]Block(nil), candidate...)
	return true, nil
}

// Snapshot is a consistent point-in-time view of the chain's tip,
// difficulty, and mining reward, useful for status reporting.
type Snapshot struct {
	Height       uint64
	Tip          Block
	Difficulty   int
	MiningReward uint64
}

// TakeSnapshot returns a consistent snapshot of the chain's current state.
func (c *Chain) TakeSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Height:       c.blocks[len(c.blocks)-1].Index,
		Tip:          c.blocks[len(c.blocks)-1],
		Difficulty:   c.difficulty,
		MiningReward: c.miningReward,
	}
}
