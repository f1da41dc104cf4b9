package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	PositionOpen    PositionState = "OPEN"
	PositionPartial PositionState = "PARTIAL"
	PositionClosed  PositionState = "CLOSED"
)

// String returns the string representation of PositionState.
func (s PositionState) String() string {
	return string(s)
}

// IsValid checks if the state is a valid value.
func (s PositionState) IsValid() bool {
	return s == PositionOpen || s == PositionPartial || s == PositionClosed
}

// IsActive reports whether a position in this state accepts sells.
func (s PositionState) IsActive() bool {
	return s == PositionOpen || s == PositionPartial
}

// rank orders states along the only allowed direction OPEN -> PARTIAL -> CLOSED.
func (s PositionState) rank() int {
	switch s {
	case PositionOpen:
		return 0
	case PositionPartial:
		return 1
	case PositionClosed:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle monotonic.
func (s PositionState) CanTransitionTo(next PositionState) bool {
	return s.IsValid() && next.IsValid() && next.rank() >= s.rank() && s != PositionClosed
}

// Position is one wallet's holding of one token across a single open-to-closed lifecycle.
// Corresponds to the positions table. All quantities are base units.
type Position struct {
	ID       string // uuid, one per lifecycle instance
	WalletID string
	Token    string // token symbol
	State    PositionState

	// Entry side (monotonically non-decreasing)
	EntryAmount   decimal.Decimal
	EntryCost     decimal.Decimal
	AvgEntryPrice decimal.Decimal // EntryCost / EntryAmount, recomputed on buys only

	RemainingAmount decimal.Decimal // EntryAmount - ExitAmount

	// Exit side (monotonically non-decreasing)
	ExitAmount   decimal.Decimal
	ExitProceeds decimal.Decimal
	RealizedPnL  decimal.Decimal

	FirstEntryAt time.Time
	LastExitAt   *time.Time
	ClosedAt     *time.Time

	LastTradeRef string // external trade reference of the latest applied swap
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a copy that shares no pointers with p.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	if p.LastExitAt != nil {
		t := *p.LastExitAt
		c.LastExitAt = &t
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// Value returns the remaining amount priced at the average entry price.
func (p *Position) Value() decimal.Decimal {
	return p.RemainingAmount.Mul(p.AvgEntryPrice)
}

// CheckInvariants verifies the accounting identities that must hold for every stored row.
func (p *Position) CheckInvariants() error {
	if !p.State.IsValid() {
		return &InvariantError{PositionID: p.ID, Reason: "unknown state " + string(p.State)}
	}
	if p.RemainingAmount.IsNegative() {
		return &InvariantError{PositionID: p.ID, Reason: "remaining amount " + p.RemainingAmount.String() + " is negative"}
	}
	if !p.EntryAmount.Sub(p.ExitAmount).Equal(p.RemainingAmount) {
		return &InvariantError{
			PositionID: p.ID,
			Reason: "remaining " + p.RemainingAmount.String() + " != entry " +
				p.EntryAmount.String() + " - exit " + p.ExitAmount.String(),
		}
	}
	switch p.State {
	case PositionOpen:
		if !p.ExitAmount.IsZero() {
			return &InvariantError{PositionID: p.ID, Reason: "OPEN position has exits"}
		}
	case PositionPartial:
		if p.ExitAmount.IsZero() || !p.RemainingAmount.IsPositive() {
			return &InvariantError{PositionID: p.ID, Reason: "PARTIAL position needs exits and a positive remainder"}
		}
	case PositionClosed:
		if !p.RemainingAmount.IsZero() || p.ClosedAt == nil {
			return &InvariantError{PositionID: p.ID, Reason: "CLOSED position needs zero remainder and closed_at"}
		}
	}
	return nil
}

// InvariantError reports a position row that violates ledger accounting.
type InvariantError struct {
	PositionID string
	Reason     string
}

func (e *InvariantError) Error() string {
	return "position " + e.PositionID + " invariant violated: " + e.Reason
}
