// Package signing implements ECDSA secp256k1 order-intent signatures and
// their EIP-712 typed-data encoding, adapted from the teacher's
// pkg/crypto/{signer.go,eip712.go}.
package signing

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps a secp256k1 key pair used to sign intents (dev/test tooling
// and the sign-order CLI; trader keys themselves are never custodied here
// per spec.md §1 Non-goals).
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func GenerateKey() (*Signer, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func (s *Signer) Address() common.Address { return s.address }

func (s *Signer) PrivateKeyHex() string { return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey)) }

// Sign signs a 32-byte digest and returns the 65-byte [R||S||V] signature.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, s.privateKey)
}

// VerifySignature reports whether signature over digest was produced by
// address's key.
func VerifySignature(address common.Address, digest, signature []byte) bool {
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false
	}
	return recovered == address
}

func RecoverAddress(digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("invalid digest length: %d", len(digest))
	}
	pubBytes, err := crypto.Ecrecover(digest, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("unmarshal public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
