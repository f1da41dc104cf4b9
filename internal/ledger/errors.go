package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rejection kinds. Match with errors.Is; the returned error is a *RejectionError
// carrying the wallet, token and amounts involved.
var (
	// ErrInvalidAmount is a caller contract violation: non-positive amount or cost,
	// negative proceeds. Rejected before storage is touched, no flag raised.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput is a missing wallet or token identifier.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoOpenPosition is a sell against a pair with no OPEN/PARTIAL position.
	// A critical sell_without_position flag was persisted.
	ErrNoOpenPosition = errors.New("no open position")

	// ErrInsufficientPosition is a sell larger than the remaining amount.
	// A critical sell_exceeds_position flag was persisted.
	ErrInsufficientPosition = errors.New("insufficient position size")

	// ErrInvalidFlag is a FlagIssue call missing wallet, type or a valid severity.
	ErrInvalidFlag = errors.New("invalid flag")
)

// RejectionError is returned for every refused buy or sell.
type RejectionError struct {
	Kind      error
	Op        string // "buy" or "sell"
	WalletID  string
	Token     string
	Requested decimal.Decimal
	Available decimal.Decimal // set for ErrInsufficientPosition
	Reason    string          // set for ErrInvalidAmount and ErrInvalidInput
	FlagID    string          // set when a flag was persisted
}

func (e *RejectionError) Error() string {
	switch e.Kind {
	case ErrNoOpenPosition:
		return fmt.Sprintf("%s: wallet %s token %s: attempted to sell %s",
			e.Kind, e.WalletID, e.Token, e.Requested)
	case ErrInsufficientPosition:
		return fmt.Sprintf("%s: wallet %s token %s: requested %s, available %s",
			e.Kind, e.WalletID, e.Token, e.Requested, e.Available)
	default:
		return fmt.Sprintf("%s: %s %s: wallet %q token %q", e.Kind, e.Op, e.Reason, e.WalletID, e.Token)
	}
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

// RejectionReason returns a short label for metrics and API error codes.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNoOpenPosition):
		return "no_open_position"
	case errors.Is(err, ErrInsufficientPosition):
		return "insufficient_position"
	default:
		return ""
	}
}
