package domain

import "time"

// FlagType categorizes an anomaly.
type FlagType string

// Flag types raised by the ledger and the reconciliation job.
const (
	FlagSellWithoutPosition FlagType = "sell_without_position"
	FlagSellExceedsPosition FlagType = "sell_exceeds_position"
	FlagOversizedPosition   FlagType = "oversized_position"
	FlagSuspiciousPnL       FlagType = "suspicious_pnl"
	FlagBalanceMismatch     FlagType = "balance_mismatch"
)

// String returns the string representation of FlagType.
func (t FlagType) String() string {
	return string(t)
}

// Severity is the urgency of a flag.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// String returns the string representation of Severity.
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Flag is an immutable anomaly record awaiting human review.
// Corresponds to the position_flags table.
type Flag struct {
	ID          string  // uuid
	PositionID  *string // nullable
	TradeRef    *string // nullable
	WalletID    string
	Type        FlagType
	Severity    Severity
	Description string

	Resolved        bool
	ResolvedBy      *string
	ResolutionNotes *string
	ResolvedAt      *time.Time

	CreatedAt time.Time
}

// Clone returns a copy that shares no pointers with f.
func (f *Flag) Clone() *Flag {
	if f == nil {
		return nil
	}
	c := *f
	c.PositionID = cloneString(f.PositionID)
	c.TradeRef = cloneString(f.TradeRef)
	c.ResolvedBy = cloneString(f.ResolvedBy)
	c.ResolutionNotes = cloneString(f.ResolutionNotes)
	if f.ResolvedAt != nil {
		t := *f.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Resolution is the operator's decision closing a flag.
type Resolution struct {
	ResolvedBy string
	Notes      string
	ResolvedAt time.Time
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
