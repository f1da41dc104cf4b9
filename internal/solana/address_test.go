package solana

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePubkey(t *testing.T) {
	assert.NoError(t, ValidatePubkey(TokenProgramID))
	assert.NoError(t, ValidatePubkey(hashKey("anything")))

	for _, bad := range []string{"", "0OIl", "abc", hashKey("x") + "2"} {
		err := ValidatePubkey(bad)
		assert.True(t, errors.Is(err, ErrInvalidAddress), "input %q: %v", bad, err)
	}
}

func TestValidateWallet(t *testing.T) {
	assert.NoError(t, ValidateWallet(walletKey(7)))

	err := ValidateWallet(offCurveKey(t))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	err = ValidateWallet("not-base58-0")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
