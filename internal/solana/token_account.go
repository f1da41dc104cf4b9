package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
)

// SPL token account layout: mint (32) | owner (32) | amount (u64 LE) | ...
const (
	tokenAccountMintOffset   = 0
	tokenAccountOwnerOffset  = 32
	tokenAccountAmountOffset = 64
	tokenAccountMinLen       = tokenAccountAmountOffset + 8
)

// DecodeTokenAccount decodes base64 account data into a TokenAccount.
func DecodeTokenAccount(address, data string) (TokenAccount, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return TokenAccount{}, fmt.Errorf("decode token account %s: %w", address, err)
	}
	return ParseTokenAccount(address, raw)
}

// ParseTokenAccount parses raw SPL token account bytes.
func ParseTokenAccount(address string, raw []byte) (TokenAccount, error) {
	if len(raw) < tokenAccountMinLen {
		return TokenAccount{}, fmt.Errorf("token account %s data too short: %d", address, len(raw))
	}
	return TokenAccount{
		Address: address,
		Mint:    base58.Encode(raw[tokenAccountMintOffset:tokenAccountOwnerOffset]),
		Owner:   base58.Encode(raw[tokenAccountOwnerOffset:tokenAccountAmountOffset]),
		Amount:  binary.LittleEndian.Uint64(raw[tokenAccountAmountOffset:tokenAccountMinLen]),
	}, nil
}

// EncodeTokenAccount builds base layout account bytes. Used by stubs and tests.
func EncodeTokenAccount(acc TokenAccount) ([]byte, error) {
	mint, err := base58.Decode(acc.Mint)
	if err != nil || len(mint) != PubkeyLen {
		return nil, fmt.Errorf("invalid mint %q", acc.Mint)
	}
	owner, err := base58.Decode(acc.Owner)
	if err != nil || len(owner) != PubkeyLen {
		return nil, fmt.Errorf("invalid owner %q", acc.Owner)
	}
	raw := make([]byte, 165)
	copy(raw[tokenAccountMintOffset:], mint)
	copy(raw[tokenAccountOwnerOffset:], owner)
	binary.LittleEndian.PutUint64(raw[tokenAccountAmountOffset:], acc.Amount)
	return raw, nil
}

// TotalAmount sums base-unit amounts of accounts holding mint.
// big.Int because several u64 balances can overflow uint64.
func TotalAmount(accounts []TokenAccount, mint string) *big.Int {
	total := new(big.Int)
	for _, acc := range accounts {
		if acc.Mint != mint {
			continue
		}
		total.Add(total, new(big.Int).SetUint64(acc.Amount))
	}
	return total
}
