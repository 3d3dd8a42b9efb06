package exchange

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Hasher computes the digest of an order. Implementations must be
// deterministic and injective over the order fields, and domain-separated
// by the order's exchange address so a signature cannot be replayed on
// another venue.
type Hasher interface {
	HashOrder(o *Order) (common.Hash, error)
}

// DigestSigner binds a digest to one identity's key.
type DigestSigner interface {
	Address() common.Address
	SignDigest(digest common.Hash) ([]byte, error)
}

// SignatureVerifier recovers the identity that produced a signature over a
// digest.
type SignatureVerifier interface {
	RecoverSigner(digest common.Hash, signature []byte) (common.Address, error)
}

// SignOrder computes the order digest and binds it to the maker's identity.
// The signer must hold the key for order.Maker; signing an unexpired order
// is the caller's last chance to catch a stale expiration.
func SignOrder(order *Order, hasher Hasher, signer DigestSigner, now time.Time) (*SignedOrder, error) {
	if order.Expired(now) {
		return nil, fmt.Errorf("%w at signing time (%s)", ErrExpiredOrder, order.ExpirationTimeSeconds)
	}
	if signer.Address() != order.Maker {
		return nil, fmt.Errorf("%w: signer %s is not maker %s", ErrSigning, signer.Address().Hex(), order.Maker.Hex())
	}
	digest, err := hasher.HashOrder(order)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	sig, err := signer.SignDigest(digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return &SignedOrder{Order: *order, Signature: sig}, nil
}

// VerifySignedOrder checks that the signature recovers to the order's maker.
func VerifySignedOrder(o *SignedOrder, hasher Hasher, verifier SignatureVerifier) error {
	digest, err := hasher.HashOrder(&o.Order)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signer, err := verifier.RecoverSigner(digest, o.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != o.Maker {
		return fmt.Errorf("%w: recovered %s, maker %s", ErrInvalidSignature, signer.Hex(), o.Maker.Hex())
	}
	return nil
}
