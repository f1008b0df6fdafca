// Package coreerr defines the error taxonomy shared by the core blockchain
// packages. Trusted errors carry a reason code the outer API layer can
// translate into a response; everything else is only ever logged.
package coreerr

import "fmt"

// Reason enumerates the handful of rejection reasons the core surfaces to
// callers. These are the only errors a submitter should be shown.
type Reason int

const (
	// ReasonMalformed covers missing fields, wrong types, or bad hash lengths.
	ReasonMalformed Reason = iota + 1
	// ReasonInvalidSignature covers a signature that does not recover to the
	// claimed from_address.
	ReasonInvalidSignature
	// ReasonInsufficientFunds covers a spend the UTXO ledger cannot cover.
	ReasonInsufficientFunds
	// ReasonDuplicate covers a tx_id or block hash already known.
	ReasonDuplicate
	// ReasonInvalidBlock covers an index/link/PoW/tx-set invariant violation.
	ReasonInvalidBlock
	// ReasonChainMismatch covers a gossiped tip that neither extends nor
	// matches the local chain.
	ReasonChainMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonInvalidSignature:
		return "invalid_signature"
	case ReasonInsufficientFunds:
		return "insufficient_funds"
	case ReasonDuplicate:
		return "duplicate"
	case ReasonInvalidBlock:
		return "invalid_block"
	case ReasonChainMismatch:
		return "chain_mismatch"
	default:
		return "unknown"
	}
}

// Trusted is an error the core has classified as user-facing: the message is
// safe to return to whoever submitted the rejected request.
type Trusted struct {
	Reason Reason
	Msg    string
}

// NewTrusted constructs a Trusted error with the given reason.
func NewTrusted(reason Reason, format string, args ...any) *Trusted {
	return &Trusted{
		Reason: reason,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (t *Trusted) Error() string {
	return fmt.Sprintf("%s: %s", t.Reason, t.Msg)
}

// IsTrusted reports whether err is a Trusted error and returns it.
func IsTrusted(err error) (*Trusted, bool) {
	t, ok := err.(*Trusted)
	return t, ok
}
