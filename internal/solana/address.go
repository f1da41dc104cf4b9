package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PubkeyLen is the byte length of a Solana public key.
const PubkeyLen = 32

// ErrInvalidAddress is returned for malformed public keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// ValidatePubkey checks that s is a base58 encoded 32-byte key.
func ValidatePubkey(s string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	if len(raw) != PubkeyLen {
		return fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(raw))
	}
	return nil
}

// ValidateWallet checks that s is a pubkey on the ed25519 curve.
// Program derived addresses are off-curve and cannot own a wallet.
func ValidateWallet(s string) error {
	if err := ValidatePubkey(s); err != nil {
		return err
	}
	raw, _ := base58.Decode(s)
	if !isOnCurve(raw) {
		return fmt.Errorf("%w: %q is not an ed25519 point", ErrInvalidAddress, s)
	}
	return nil
}

func isOnCurve(key []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(key)
	return err == nil
}
