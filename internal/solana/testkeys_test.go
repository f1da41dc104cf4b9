package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
)

// walletKey returns a deterministic on-curve pubkey.
func walletKey(seed byte) string {
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	pub := ed25519.NewKeyFromSeed(s).Public().(ed25519.PublicKey)
	return base58.Encode(pub)
}

// hashKey returns a deterministic 32-byte pubkey that may be off-curve.
func hashKey(label string) string {
	sum := sha256.Sum256([]byte(label))
	return base58.Encode(sum[:])
}

// offCurveKey returns a 32-byte pubkey that is not an ed25519 point.
func offCurveKey(t *testing.T) string {
	t.Helper()
	for i := 0; i < 256; i++ {
		sum := sha256.Sum256([]byte{byte(i)})
		if !isOnCurve(sum[:]) {
			return base58.Encode(sum[:])
		}
	}
	t.Fatal("no off-curve key found")
	return ""
}

func encodedAccount(t *testing.T, acc TokenAccount) string {
	t.Helper()
	raw, err := EncodeTokenAccount(acc)
	if err != nil {
		t.Fatalf("EncodeTokenAccount: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}
