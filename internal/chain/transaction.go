// Package chain implements the transaction and block data model together
// with the rules that decide whether a chain of blocks is valid.
package chain

import (
	stdecdsa "crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/cosmochain/cosmochain/internal/coreerr"
	"github.com/cosmochain/cosmochain/internal/crypto"
)

// Kind distinguishes the two transaction variants. Every switch over Kind
// in this package has an explicit case for both so a future third kind
// fails loudly instead of falling through to coinbase or transfer behavior.
type Kind string

const (
	// KindCoinbase pays a miner the block reward; it has no sender and no
	// signature.
	KindCoinbase Kind = "coinbase"
	// KindTransfer moves value between two addresses and must be signed by
	// the sender.
	KindTransfer Kind = "transfer"
)

// Signature is the wire form of a recoverable secp256k1 signature.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V string `json:"recovery_id"`
}

func signatureOf(sig crypto.Signature) Signature {
	return Signature{R: sig.R.Text(16), S: sig.S.Text(16), V: sig.V.Text(16)}
}

func (s Signature) value() (crypto.Signature, error) {
	r, ok := new(big.Int).SetString(s.R, 16)
	if !ok {
		return crypto.Signature{}, fmt.Errorf("bad signature r value %q", s.R)
	}
	sVal, ok := new(big.Int).SetString(s.S, 16)
	if !ok {
		return crypto.Signature{}, fmt.Errorf("bad signature s value %q", s.S)
	}
	v, ok := new(big.Int).SetString(s.V, 16)
	if !ok {
		return crypto.Signature{}, fmt.Errorf("bad signature recovery id %q", s.V)
	}

	return crypto.Signature{R: r, S: sVal, V: v}, nil
}

// Transaction is an immutable transfer record. Coinbase transactions are
// produced only by NewCoinbase, transfers only by NewTransfer; both
// constructors stamp Kind and TxID so the rest of the package can trust
// them instead of re-deriving intent from which fields happen to be set.
type Transaction struct {
	TxID      string     `json:"tx_id"`
	Kind      Kind       `json:"kind"`
	From      string     `json:"from_address,omitempty"`
	To        string     `json:"to_address"`
	Amount    uint64     `json:"amount"`
	Fee       uint64     `json:"fee"`
	Timestamp int64      `json:"timestamp"`
	Signature *Signature `json:"signature,omitempty"`
}

// NewCoinbase constructs the reward-paying transaction for a block.
func NewCoinbase(to string, amount uint64, timestamp int64) (Transaction, error) {
	if amount == 0 {
		return Transaction{}, coreerr.NewTrusted(coreerr.ReasonMalformed, "coinbase amount must be positive")
	}
	if !crypto.IsValidAddress(to) {
		return Transaction{}, coreerr.NewTrusted(coreerr.ReasonMalformed, "invalid to address %q", to)
	}

	tx := Transaction{
		Kind:      KindCoinbase,
		To:        to,
		Amount:    amount,
		Timestamp: timestamp,
	}
	tx.TxID = tx.computeID()

	return tx, nil
}

// NewTransfer constructs an unsigned transfer. Call Sign before submitting
// it anywhere; IsValid rejects an unsigned transfer.
func NewTransfer(from, to string, amount, fee uint64, timestamp int64) (Transaction, error) {
	if amount == 0 {
		return Transaction{}, coreerr.NewTrusted(coreerr.ReasonMalformed, "transfer amount must be positive")
	}
	if !crypto.IsValidAddress(from) {
		return Transaction{}, coreerr.NewTrusted(coreerr.ReasonMalformed, "invalid from address %q", from)
	}
	if !crypto.IsValidAddress(to) {
		return Transaction{}, coreerr.NewTrusted(coreerr.ReasonMalformed, "invalid to address %q", to)
	}
	if from == to {
		return Transaction{}, coreerr.NewTrusted(coreerr.ReasonMalformed, "from and to address must differ")
	}

	tx := Transaction{
		Kind:      KindTransfer,
		From:      from,
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Timestamp: timestamp,
	}
	tx.TxID = tx.computeID()

	return tx, nil
}

// computeID hashes the non-signature fields in a fixed order so the id is
// stable whether or not the transaction has been signed yet.
func (tx Transaction) computeID() string {
	data := fmt.Sprintf("%s|%s|%d|%d|%d", tx.From, tx.To, tx.Amount, tx.Fee, tx.Timestamp)
	return crypto.Sha256Hex([]byte(data))
}

// idHash decodes TxID into the 32-byte digest that gets signed.
func (tx Transaction) idHash() ([32]byte, error) {
	b, err := hex.DecodeString(tx.TxID)
	if err != nil || len(b) != 32 {
		return [32]byte{}, fmt.Errorf("malformed tx_id %q", tx.TxID)
	}

	var h [32]byte
	copy(h[:], b)
	return h, nil
}

// Sign signs the transaction's tx_id with priv, returning a new signed
// value. tx_id does not change: it was computed before signing.
func (tx Transaction) Sign(priv *stdecdsa.PrivateKey) (Transaction, error) {
	if tx.Kind == KindCoinbase {
		return Transaction{}, coreerr.NewTrusted(coreerr.ReasonMalformed, "coinbase transactions cannot be signed")
	}

	hash, err := tx.idHash()
	if err != nil {
		return Transaction{}, err
	}

	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return Transaction{}, err
	}

	signature := signatureOf(sig)
	tx.Signature = &signature

	return tx, nil
}

// Equals reports whether two transactions are the same by tx_id.
func (tx Transaction) Equals(other Transaction) bool {
	return tx.TxID == other.TxID
}

// Hash returns the transaction id as raw bytes, satisfying merkle.Hashable.
func (tx Transaction) Hash() ([]byte, error) {
	b, err := hex.DecodeString(tx.TxID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// IsCoinbase reports whether tx is a coinbase transaction.
func (tx Transaction) IsCoinbase() bool {
	return tx.Kind == KindCoinbase
}

// IsValid checks every invariant for tx's kind. Both kinds are handled
// explicitly; an unrecognized kind is rejected rather than silently
// treated as one of the two.
func (tx Transaction) IsValid() error {
	if tx.computeID() != tx.TxID {
		return coreerr.NewTrusted(coreerr.ReasonMalformed, "tx_id does not match its fields")
	}

	switch tx.Kind {
	case KindCoinbase:
		if tx.Amount == 0 {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "coinbase amount must be positive")
		}
		if tx.From != "" {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "coinbase must not have a from address")
		}
		if tx.Signature != nil {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "coinbase must not carry a signature")
		}
		if !crypto.IsValidAddress(tx.To) {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "invalid to address")
		}
		return nil

	case KindTransfer:
		if tx.Amount == 0 {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "amount must be positive")
		}
		if tx.From == "" || tx.To == "" {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "from and to address are required")
		}
		if tx.From == tx.To {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "from and to address must differ")
		}
		if !crypto.IsValidAddress(tx.From) || !crypto.IsValidAddress(tx.To) {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "invalid address")
		}
		if tx.Signature == nil {
			return coreerr.NewTrusted(coreerr.ReasonInvalidSignature, "transfer is not signed")
		}

		hash, err := tx.idHash()
		if err != nil {
			return coreerr.NewTrusted(coreerr.ReasonMalformed, "%s", err)
		}

		sigValue, err := tx.Signature.value()
		if err != nil {
			return coreerr.NewTrusted(coreerr.ReasonInvalidSignature, "%s", err)
		}

		if err := crypto.VerifyAddress(hash, sigValue, tx.From); err != nil {
			return coreerr.NewTrusted(coreerr.ReasonInvalidSignature, "%s", err)
		}

		return nil

	default:
		return coreerr.NewTrusted(coreerr.ReasonMalformed, "unknown transaction kind %q", tx.Kind)
	}
}
