package chain_test

import (
	"testing"

	"github.com/cosmochain/cosmochain/internal/chain"
	"github.com/cosmochain/cosmochain/internal/coreerr"
	"github.com/cosmochain/cosmochain/internal/crypto"
)

func TestNewCoinbaseRejectsZeroAmount(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	to := crypto.Address(key.PublicKey)

	if _, err := chain.NewCoinbase(to, 0, 1000); err == nil {
		t.Fatal("NewCoinbase accepted a zero amount")
	}
}

func TestNewCoinbaseIsValid(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	to := crypto.Address(key.PublicKey)

	tx, err := chain.NewCoinbase(to, 50, 1000)
	if err != nil {
		t.Fatalf("NewCoinbase: %s", err)
	}

	if err := tx.IsValid(); err != nil {
		t.Fatalf("IsValid: %s", err)
	}
	if !tx.IsCoinbase() {
		t.Fatal("IsCoinbase() = false for a coinbase transaction")
	}
}

func TestCoinbaseCannotBeSigned(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	to := crypto.Address(key.PublicKey)

	tx, err := chain.NewCoinbase(to, 50, 1000)
	if err != nil {
		t.Fatalf("NewCoinbase: %s", err)
	}

	if _, err := tx.Sign(key); err == nil {
		t.Fatal("Sign accepted a coinbase transaction")
	}
}

func TestTransferSignAndVerifyRoundTrip(t *testing.T) {
	from, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	to, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}

	fromAddr := crypto.Address(from.PublicKey)
	toAddr := crypto.Address(to.PublicKey)

	tx, err := chain.NewTransfer(fromAddr, toAddr, 100, 1, 1000)
	if err != nil {
		t.Fatalf("NewTransfer: %s", err)
	}

	if err := tx.IsValid(); err == nil {
		t.Fatal("an unsigned transfer should not be valid")
	}

	signed, err := tx.Sign(from)
	if err != nil {
		t.Fatalf("Sign: %s", err)
	}

	if signed.TxID != tx.TxID {
		t.Fatal("signing changed the tx_id")
	}

	if err := signed.IsValid(); err != nil {
		t.Fatalf("IsValid on signed transfer: %s", err)
	}
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	addr := crypto.Address(key.PublicKey)

	if _, err := chain.NewTransfer(addr, addr, 10, 0, 1000); err == nil {
		t.Fatal("NewTransfer accepted from == to")
	}
}

func TestSignedTransferRejectsTamperedAmount(t *testing.T) {
	from, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	to, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}

	tx, err := chain.NewTransfer(crypto.Address(from.PublicKey), crypto.Address(to.PublicKey), 100, 1, 1000)
	if err != nil {
		t.Fatalf("NewTransfer: %s", err)
	}

	signed, err := tx.Sign(from)
	if err != nil {
		t.Fatalf("Sign: %s", err)
	}

	signed.Amount = 1_000_000

	if err := signed.IsValid(); err == nil {
		t.Fatal("IsValid accepted a transaction with a tampered amount")
	}
}

func TestIsValidRejectsUnknownKind(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	to := crypto.Address(key.PublicKey)

	tx, err := chain.NewCoinbase(to, 50, 1000)
	if err != nil {
		t.Fatalf("NewCoinbase: %s", err)
	}

	tx.Kind = chain.Kind("mint")

	err = tx.IsValid()
	if err == nil {
		t.Fatal("IsValid accepted an unknown transaction kind")
	}

	trusted, ok := coreerr.IsTrusted(err)
	if !ok || trusted.Reason != coreerr.ReasonMalformed {
		t.Fatalf("got error %v, want a Trusted malformed error", err)
	}
}
