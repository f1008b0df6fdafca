package chain_test

import (
	"context"
	"testing"

	"github.com/cosmochain/cosmochain/internal/chain"
)

func mineNextBlock(t *testing.T, prev chain.Block, minerAddress string, difficulty int, timestamp int64) chain.Block {
	t.Helper()

	coinbase, err := chain.NewCoinbase(minerAddress, 50, timestamp)
	if err != nil {
		t.Fatalf("NewCoinbase: %s", err)
	}

	candidate, err := chain.NewCandidateBlock(prev, []chain.Transaction{coinbase}, difficulty, timestamp)
	if err != nil {
		t.Fatalf("NewCandidateBlock: %s", err)
	}

	if _, err := candidate.Mine(context.Background(), difficulty); err != nil {
		t.Fatalf("Mine: %s", err)
	}

	return candidate
}

func TestChainAppendGrowsLength(t *testing.T) {
	miner := mustMinerAddress(t)
	genesis, err := chain.NewGenesisBlock(miner, 50, 1000)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}

	c := chain.NewChain(genesis, 1, 50)
	next := mineNextBlock(t, genesis, miner, 1, 2000)
	c.Append(next)

	if c.Len() != 2 {
		t.Fatalf("chain length %d, want 2", c.Len())
	}
	if c.Tip().Hash != next.Hash {
		t.Fatal("Tip() did not return the just-appended block")
	}
}

func TestReplaceRejectsEqualOrShorterChain(t *testing.T) {
	miner := mustMinerAddress(t)
	genesis, err := chain.NewGenesisBlock(miner, 50, 1000)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}

	c := chain.NewChain(genesis, 1, 50)

	replaced, err := c.Replace([]chain.Block{genesis})
	if err != nil {
		t.Fatalf("Replace: %s", err)
	}
	if replaced {
		t.Fatal("Replace accepted a chain of equal length")
	}
}

func TestReplaceAcceptsStrictlyLongerValidChain(t *testing.T) {
	miner := mustMinerAddress(t)
	genesis, err := chain.NewGenesisBlock(miner, 50, 1000)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}

	c := chain.NewChain(genesis, 1, 50)

	second := mineNextBlock(t, genesis, miner, 1, 2000)
	candidate := []chain.Block{genesis, second}

	replaced, err := c.Replace(candidate)
	if err != nil {
		t.Fatalf("Replace: %s", err)
	}
	if !replaced {
		t.Fatal("Replace rejected a strictly longer, valid chain")
	}
	if c.Len() != 2 {
		t.Fatalf("chain length %d, want 2 after replace", c.Len())
	}
}

func TestReplaceRejectsInvalidChain(t *testing.T) {
	miner := mustMinerAddress(t)
	genesis, err := chain.NewGenesisBlock(miner, 50, 1000)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}

	c := chain.NewChain(genesis, 1, 50)

	second := mineNextBlock(t, genesis, miner, 1, 2000)
	second.PreviousHash = "tampered"

	_, err = c.Replace([]chain.Block{genesis, second})
	if err == nil {
		t.Fatal("Replace accepted a chain with broken linkage")
	}
	if c.Len() != 1 {
		t.Fatal("Replace mutated the chain despite rejecting the candidate")
	}
}

func TestSetDifficultyBounds(t *testing.T) {
	genesis, err := chain.NewGenesisBlock(mustMinerAddress(t), 50, 1000)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	c := chain.NewChain(genesis, 1, 50)

	if err := c.SetDifficulty(0); err == nil {
		t.Fatal("SetDifficulty accepted a value below the floor")
	}
	if err := c.SetDifficulty(chain.MaxDifficulty + 1); err == nil {
		t.Fatal("SetDifficulty accepted a value above the ceiling")
	}
	if err := c.SetDifficulty(5); err != nil {
		t.Fatalf("SetDifficulty rejected an in-range value: %s", err)
	}
	if c.Difficulty() != 5 {
		t.Fatalf("Difficulty() = %d, want 5", c.Difficulty())
	}
}

// appendWindow appends chain.RetargetInterval raw blocks on top of c's
// current tip, spaced spacingMs apart, so only the timestamps that matter
// to retarget need to be controlled.
func appendWindow(c *chain.Chain, spacingMs int64) {
	tip := c.Tip()
	for i := 0; i < chain.RetargetInterval; i++ {
		tip = chain.Block{
			Index:     tip.Index + 1,
			Timestamp: tip.Timestamp + spacingMs,
		}
		c.Append(tip)
	}
}

func TestRetargetIncreasesDifficultyWhenWindowIsFast(t *testing.T) {
	genesis, err := chain.NewGenesisBlock(mustMinerAddress(t), 50, 0)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	c := chain.NewChain(genesis, 2, 50)

	appendWindow(c, chain.TargetBlockTimeMs/10)

	if c.Difficulty() != 3 {
		t.Fatalf("difficulty %d, want 3 after a window mined in much less than the target time", c.Difficulty())
	}
}

func TestRetargetDecreasesDifficultyWhenWindowIsSlow(t *testing.T) {
	genesis, err := chain.NewGenesisBlock(mustMinerAddress(t), 50, 0)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	c := chain.NewChain(genesis, 2, 50)

	appendWindow(c, chain.TargetBlockTimeMs*3)

	if c.Difficulty() != 1 {
		t.Fatalf("difficulty %d, want 1 after a window mined in much more than the target time", c.Difficulty())
	}
}

func TestRetargetHoldsDifficultyWhenWindowIsOnTarget(t *testing.T) {
	genesis, err := chain.NewGenesisBlock(mustMinerAddress(t), 50, 0)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	c := chain.NewChain(genesis, 2, 50)

	appendWindow(c, chain.TargetBlockTimeMs)

	if c.Difficulty() != 2 {
		t.Fatalf("difficulty %d, want 2 unchanged for a window mined at the target time", c.Difficulty())
	}
}

func TestRetargetDoesNotFireBetweenWindowBoundaries(t *testing.T) {
	genesis, err := chain.NewGenesisBlock(mustMinerAddress(t), 50, 0)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	c := chain.NewChain(genesis, 2, 50)

	tip := genesis
	for i := 0; i < chain.RetargetInterval-1; i++ {
		tip = chain.Block{
			Index:     tip.Index + 1,
			Timestamp: tip.Timestamp + chain.TargetBlockTimeMs/10,
		}
		c.Append(tip)

		if c.Difficulty() != 2 {
			t.Fatalf("difficulty %d changed at index %d, want unchanged until index %d", c.Difficulty(), tip.Index, chain.RetargetInterval)
		}
	}
}

func TestRetargetNeverDropsBelowMinDifficulty(t *testing.T) {
	genesis, err := chain.NewGenesisBlock(mustMinerAddress(t), 50, 0)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	c := chain.NewChain(genesis, chain.MinDifficulty, 50)

	appendWindow(c, chain.TargetBlockTimeMs*3)

	if c.Difficulty() != chain.MinDifficulty {
		t.Fatalf("difficulty %d, want the floor %d to hold", c.Difficulty(), chain.MinDifficulty)
	}
}

func TestRetargetNeverExceedsMaxDifficulty(t *testing.T) {
	genesis, err := chain.NewGenesisBlock(mustMinerAddress(t), 50, 0)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	c := chain.NewChain(genesis, chain.MaxDifficulty, 50)

	appendWindow(c, chain.TargetBlockTimeMs/10)

	if c.Difficulty() != chain.MaxDifficulty {
		t.Fatalf("difficulty %d, want the ceiling %d to hold", c.Difficulty(), chain.MaxDifficulty)
	}
}

func TestTakeSnapshotIsConsistent(t *testing.T) {
	genesis, err := chain.NewGenesisBlock(mustMinerAddress(t), 50, 1000)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	c := chain.NewChain(genesis, 3, 50)

	snap := c.TakeSnapshot()
	if snap.Height != 0 || snap.Difficulty != 3 || snap.MiningReward != 50 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Tip.Hash != genesis.Hash {
		t.Fatal("snapshot tip does not match genesis")
	}
}
