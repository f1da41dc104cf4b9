package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"

	"solana-swap-ledger/internal/domain"
)

// ComputeEntryID computes a deterministic journal entry_id using SHA256.
// Formula: SHA256(position_id|side|trade_ref|cumulative_after)
// cumulative_after is the position's entry amount after a buy or exit amount after a sell.
// It strictly increases within a position, so two applications never share an id
// even when the trade reference is empty or reused.
// Returns hex-encoded hash (64 characters).
func ComputeEntryID(
	positionID string,
	side domain.EntrySide,
	tradeRef string,
	cumulativeAfter decimal.Decimal,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		positionID,
		string(side),
		tradeRef,
		domain.Normalize(cumulativeAfter).String(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
