package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntrySide is the direction of a journal entry.
type EntrySide string

const (
	EntrySideBuy  EntrySide = "BUY"
	EntrySideSell EntrySide = "SELL"
)

// String returns the string representation of EntrySide.
func (s EntrySide) String() string {
	return string(s)
}

// LedgerEntry is an append-only journal record of one applied buy or sell.
// Corresponds to the ledger_entries analytics table.
type LedgerEntry struct {
	EntryID    string // deterministic hash, see idhash.ComputeEntryID
	PositionID string
	WalletID   string
	Token      string
	Side       EntrySide
	TradeRef   string

	Amount      decimal.Decimal // received (buy) or sold (sell) amount
	Value       decimal.Decimal // cost (buy) or proceeds (sell)
	CostBasis   decimal.Decimal // zero for buys
	RealizedPnL decimal.Decimal // zero for buys

	// Position snapshot after the entry was applied
	StateAfter     PositionState
	RemainingAfter decimal.Decimal
	AvgPriceAfter  decimal.Decimal

	RecordedAt time.Time
}
