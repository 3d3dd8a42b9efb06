// Package crypto implements the signing and hashing collaborators consumed
// by the exchange core: secp256k1 key management and EIP-712 order digests.
package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Signer holds one secp256k1 key pair and signs digests on its behalf.
// It implements exchange.DigestSigner.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a Signer with a fresh random key pair.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key
// (64 hex chars, no 0x prefix).
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

// DeriveKey creates a Signer deterministically from a seed label, so dev
// tooling gets stable addresses across runs. Never use for real funds.
func DeriveKey(seed string) (*Signer, error) {
	digest := sha3.Sum256([]byte(seed))
	privateKey, err := crypto.ToECDSA(digest[:])
	if err != nil {
		return nil, fmt.Errorf("derive key from seed %q: %w", seed, err)
	}
	return newSigner(privateKey), nil
}

func newSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the identity derived from the public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDigest signs a 32-byte digest and returns the 65-byte [R || S || V]
// signature.
func (s *Signer) SignDigest(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

// Verifier recovers signer identities from signatures. Stateless; it
// implements exchange.SignatureVerifier.
type Verifier struct{}

// RecoverSigner returns the address that produced signature over digest.
func (Verifier) RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(signature), crypto.SignatureLength)
	}
	pubBytes, err := crypto.Ecrecover(digest.Bytes(), signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("unmarshal public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
