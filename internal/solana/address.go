// Package solana holds the small amount of Solana-specific knowledge copybot
// needs: validating public keys supplied by configuration or the feed.
package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLen is the decoded size of a Solana account address.
const PublicKeyLen = 32

var (
	ErrInvalidBase58 = errors.New("solana: invalid base58")
	ErrInvalidLength = errors.New("solana: invalid public key length")
	ErrOffCurve      = errors.New("solana: public key is not on the ed25519 curve")
)

// DecodePublicKey decodes a base58 address and checks its length.
func DecodePublicKey(addr string) ([]byte, error) {
	if addr == "" {
		return nil, ErrInvalidBase58
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase58, err)
	}
	if len(raw) != PublicKeyLen {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidLength, len(raw))
	}
	return raw, nil
}

// ValidateAddress accepts any 32-byte base58 address, including program
// derived addresses such as token mints.
func ValidateAddress(addr string) error {
	_, err := DecodePublicKey(addr)
	return err
}

// ValidateWallet additionally requires the key to be an ed25519 point, which
// holds for every wallet that can sign a transaction.
func ValidateWallet(addr string) error {
	raw, err := DecodePublicKey(addr)
	if err != nil {
		return err
	}
	if !IsOnCurve(raw) {
		return ErrOffCurve
	}
	return nil
}

// IsOnCurve reports whether b is a valid compressed ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeyLen {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// Short renders an address as its first and last four characters.
func Short(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:4] + ".." + addr[len(addr)-4:]
}
