package chain

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/cosmochain/cosmochain/internal/coreerr"
	"github.com/cosmochain/cosmochain/internal/crypto"
	"github.com/cosmochain/cosmochain/internal/merkle"
)

// genesisRewardMultiplier is how many base rewards the genesis coinbase
// credits the miner with, ahead of any blocks actually being mined.
const genesisRewardMultiplier = 10

// miningYieldInterval is how many nonce attempts Mine tries before checking
// whether its context has been cancelled.
const miningYieldInterval = 1000

// Block is a header plus its transaction list. PreviousHash is the literal
// string "0" for genesis.
type Block struct {
	Index        uint64        `json:"index"`
	PreviousHash string        `json:"previous_hash"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	Nonce        uint64        `json:"nonce"`
	Hash         string        `json:"hash"`
	MerkleRoot   string        `json:"merkle_root"`
	Difficulty   int           `json:"difficulty"`
}

// hashPayload is the canonical serialization that gets SHA-256'd to produce
// a block's hash. Listing transactions by tx_id (not the full transaction)
// keeps the payload's shape stable regardless of transaction encoding.
type hashPayload struct {
	Index        uint64   `json:"index"`
	PreviousHash string   `json:"previous_hash"`
	Timestamp    int64    `json:"timestamp"`
	TxIDs        []string `json:"tx_ids"`
	Nonce        uint64   `json:"nonce"`
}

func (b Block) computeHash() (string, error) {
	payload := hashPayload{
		Index:        b.Index,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
		Nonce:        b.Nonce,
	}
	for _, tx := range b.Transactions {
		payload.TxIDs = append(payload.TxIDs, tx.TxID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return crypto.Sha256Hex(data), nil
}

func (b Block) computeMerkleRoot() (string, error) {
	if len(b.Transactions) == 0 {
		return "", coreerr.NewTrusted(coreerr.ReasonMalformed, "block must contain at least one transaction")
	}

	tree, err := merkle.NewTree(b.Transactions)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(tree.MerkleRoot), nil
}

// NewGenesisBlock builds the unmined, self-consistent genesis block that
// credits minerAddress with 10x the base reward. Genesis is never run
// through Mine: it is exempt from proof-of-work by design.
func NewGenesisBlock(minerAddress string, baseReward uint64, timestamp int64) (Block, error) {
	coinbase, err := NewCoinbase(minerAddress, baseReward*genesisRewardMultiplier, timestamp)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Index:        0,
		PreviousHash: "0",
		Timestamp:    timestamp,
		Transactions: []Transaction{coinbase},
	}

	root, err := b.computeMerkleRoot()
	if err != nil {
		return Block{}, err
	}
	b.MerkleRoot = root

	hash, err := b.computeHash()
	if err != nil {
		return Block{}, err
	}
	b.Hash = hash

	return b, nil
}

// NewCandidateBlock builds an unmined block extending prev with txs. The
// caller still needs to call Mine before the block is valid at any
// difficulty greater than zero.
func NewCandidateBlock(prev Block, txs []Transaction, difficulty int, timestamp int64) (Block, error) {
	if len(txs) == 0 {
		return Block{}, coreerr.NewTrusted(coreerr.ReasonMalformed, "candidate block needs at least the coinbase transaction")
	}

	b := Block{
		Index:        prev.Index + 1,
		PreviousHash: prev.Hash,
		Timestamp:    timestamp,
		Transactions: txs,
		Difficulty:   difficulty,
	}

	root, err := b.computeMerkleRoot()
	if err != nil {
		return Block{}, err
	}
	b.MerkleRoot = root

	return b, nil
}

// randomNonce picks a uniformly random starting nonce so concurrently
// mining nodes do not retread each other's search space.
func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func isHashSolved(difficulty int, hash string) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(hash) {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}

// Mine searches for a nonce producing a hash with difficulty leading hex
// zeros, yielding to ctx cancellation roughly every miningYieldInterval
// attempts so shutdown and inbound messages stay responsive. It returns
// the number of attempts made, win or lose, so callers can track hash
// rate.
func (b *Block) Mine(ctx context.Context, difficulty int) (int, error) {
	b.Difficulty = difficulty

	nonce, err := randomNonce()
	if err != nil {
		return 0, err
	}
	b.Nonce = nonce

	attempts := 0
	for {
		hash, err := b.computeHash()
		if err != nil {
			return attempts, err
		}

		attempts++

		if isHashSolved(difficulty, hash) {
			b.Hash = hash
			return attempts, nil
		}

		b.Nonce++

		if attempts%miningYieldInterval == 0 {
			select {
			case <-ctx.Done():
				return attempts, ctx.Err()
			default:
			}
		}
	}
}

// selfConsistent reports whether the block's stored hash and merkle root
// match what its current fields recompute to.
func (b Block) selfConsistent() error {
	root, err := b.computeMerkleRoot()
	if err != nil {
		return err
	}
	if root != b.MerkleRoot {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "merkle root mismatch")
	}

	hash, err := b.computeHash()
	if err != nil {
		return err
	}
	if hash != b.Hash {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "hash mismatch")
	}

	return nil
}

// hasValidTransactions checks that the block has exactly one coinbase, in
// first position, and every other transaction is an individually valid
// transfer.
func (b Block) hasValidTransactions() error {
	if len(b.Transactions) == 0 {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "block has no transactions")
	}

	first := b.Transactions[0]
	if !first.IsCoinbase() {
		return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "first transaction must be coinbase")
	}
	if err := first.IsValid(); err != nil {
		return err
	}

	for _, tx := range b.Transactions[1:] {
		if tx.IsCoinbase() {
			return coreerr.NewTrusted(coreerr.ReasonInvalidBlock, "only the first transaction may be coinbase")
		}
		if err := tx.IsValid(); err != nil {
			return err
		}
	}

	return nil
}

// feeTotal sums the fee of every non-coinbase transaction in the block.
func (b Block) feeTotal() uint64 {
	var total uint64
	for _, tx := range b.Transactions {
		if !tx.IsCoinbase() {
			total += tx.Fee
		}
	}
	return total
}
