// Package snapshot loads and saves the single JSON file that is this
// node's only persistence: the chain, the current mining parameters, and
// the miner's key.
package snapshot

import (
	stdecdsa "crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/cosmochain/cosmochain/internal/chain"
)

// Document is the on-disk shape of the snapshot file.
type Document struct {
	Chain        []chain.Block `json:"chain"`
	Difficulty   int           `json:"difficulty"`
	MiningReward uint64        `json:"mining_reward"`
	MinerKey     string        `json:"miner_key"`
	Timestamp    int64         `json:"timestamp"`
}

// Load reads and parses the snapshot file at path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing snapshot: %w", err)
	}

	return doc, nil
}

// Save writes doc to path atomically: it writes to a temp file in the
// same directory then renames over the destination, so a crash mid-write
// never leaves a truncated or half-written snapshot on disk.
func Save(path string, doc Document) error {
	doc.Timestamp = time.Now().UnixMilli()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp snapshot into place: %w", err)
	}

	return nil
}

// EncodeMinerKey encodes a private key for storage in the miner_key field.
func EncodeMinerKey(key *stdecdsa.PrivateKey) string {
	return hex.EncodeToString(gethcrypto.FromECDSA(key))
}

// DecodeMinerKey decodes the miner_key field back into a private key.
func DecodeMinerKey(s string) (*stdecdsa.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding miner key: %w", err)
	}

	return gethcrypto.ToECDSA(b)
}
