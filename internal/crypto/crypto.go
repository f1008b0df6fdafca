// Package crypto provides the hashing, key, signing, and address primitives
// the rest of the node is built on: SHA-256 hashing, secp256k1 signatures
// with recoverable public keys, and RIPEMD-160 based address derivation.
package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160"
)

// AddressPrefix is prepended to every derived address.
const AddressPrefix = "cosmos"

var addressPattern = regexp.MustCompile(`^cosmos[0-9a-f]{40}$`)

// Signature is the r, s, recovery-id triple produced by Sign.
type Signature struct {
	R *big.Int
	S *big.Int
	V *big.Int
}

// GenerateKey produces a new secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// LoadPrivateKey reads a hex-encoded secp256k1 private key from disk.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	return crypto.LoadECDSA(path)
}

// SavePrivateKey writes a hex-encoded secp256k1 private key to disk.
func SavePrivateKey(path string, key *ecdsa.PrivateKey) error {
	return crypto.SaveECDSA(path, key)
}

// Sha256 returns the SHA-256 digest of data.
func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Sha256Hex returns the lowercase hex encoding of the SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	h := Sha256(data)
	return hex.EncodeToString(h[:])
}

// Ripemd160 returns the 20-byte RIPEMD-160 digest of data.
func Ripemd160(data []byte) []byte {
	h := ripemd160.New()
	h.Write(data)
	return h.Sum(nil)
}

// Address derives the cosmos-style address for a public key: the prefix
// followed by the first 40 hex characters of RIPEMD160(SHA256(pubkey)).
func Address(pub ecdsa.PublicKey) string {
	pubBytes := crypto.FromECDSAPub(&pub)
	digest := Sha256(pubBytes)
	ripe := Ripemd160(digest[:])
	return AddressPrefix + hex.EncodeToString(ripe)[:40]
}

// IsValidAddress reports whether s has the exact cosmos address shape.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// Sign produces a recoverable secp256k1 signature over a 32-byte hash.
func Sign(hash [32]byte, priv *ecdsa.PrivateKey) (Signature, error) {
	sig, err := crypto.Sign(hash[:], priv)
	if err != nil {
		return Signature{}, err
	}

	return Signature{
		R: new(big.Int).SetBytes(sig[:32]),
		S: new(big.Int).SetBytes(sig[32:64]),
		V: new(big.Int).SetBytes([]byte{sig[64]}),
	}, nil
}

// bytes reassembles the 65-byte [R|S|V] form go-ethereum's crypto package
// expects for recovery and verification.
func (sig Signature) bytes() []byte {
	b := make([]byte, 65)
	sig.R.FillBytes(b[0:32])
	sig.S.FillBytes(b[32:64])
	b[64] = byte(sig.V.Uint64())
	return b
}

// validate checks the recovery id and signature values are in canonical
// range before any recovery is attempted.
func validate(sig Signature) error {
	v := sig.V.Uint64()
	if v != 0 && v != 1 {
		return errors.New("invalid recovery id")
	}

	if !crypto.ValidateSignatureValues(byte(v), sig.R, sig.S, false) {
		return errors.New("invalid signature values")
	}

	return nil
}

// RecoverAddress recovers the address of the public key that produced sig
// over hash.
func RecoverAddress(hash [32]byte, sig Signature) (string, error) {
	if err := validate(sig); err != nil {
		return "", err
	}

	pub, err := crypto.SigToPub(hash[:], sig.bytes())
	if err != nil {
		return "", err
	}

	return Address(*pub), nil
}

// VerifyAddress checks that sig over hash recovers to address.
func VerifyAddress(hash [32]byte, sig Signature, address string) error {
	recovered, err := RecoverAddress(hash, sig)
	if err != nil {
		return err
	}

	if recovered != address {
		return errors.New("signature does not match from_address")
	}

	return nil
}
