package solana

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokenAccount_RoundTrip(t *testing.T) {
	acc := TokenAccount{
		Address: hashKey("ata"),
		Mint:    hashKey("mint"),
		Owner:   walletKey(3),
		Amount:  math.MaxUint64,
	}

	got, err := DecodeTokenAccount(acc.Address, encodedAccount(t, acc))
	require.NoError(t, err)
	assert.Equal(t, acc, got)
}

func TestParseTokenAccount_Token2022Extensions(t *testing.T) {
	acc := TokenAccount{Address: hashKey("ata"), Mint: hashKey("mint"), Owner: walletKey(3), Amount: 42}
	raw, err := EncodeTokenAccount(acc)
	require.NoError(t, err)

	// extension data after the base layout is ignored
	raw = append(raw, make([]byte, 100)...)
	got, err := ParseTokenAccount(acc.Address, raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Amount)
}

func TestParseTokenAccount_Errors(t *testing.T) {
	_, err := ParseTokenAccount("x", make([]byte, 71))
	assert.Error(t, err)

	_, err = DecodeTokenAccount("x", "not base64!")
	assert.Error(t, err)
}

func TestTotalAmount(t *testing.T) {
	mint := hashKey("mint")
	other := hashKey("other")
	accounts := []TokenAccount{
		{Mint: mint, Amount: math.MaxUint64},
		{Mint: mint, Amount: 1},
		{Mint: other, Amount: 1000},
	}

	total := TotalAmount(accounts, mint)

	want := new(big.Int).SetUint64(math.MaxUint64)
	want.Add(want, big.NewInt(1))
	assert.Equal(t, 0, total.Cmp(want), "sum must not overflow uint64")
	assert.Equal(t, int64(0), TotalAmount(nil, mint).Int64())
}
