// Package ledger records completed swaps against per-wallet, per-token positions.
//
// Cost basis uses the weighted average entry price: every buy folds into one running
// average and every sell is costed at that average. The ledger never fabricates
// corrective entries. Impossible sells are refused and leave a critical flag behind.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/idhash"
	"solana-swap-ledger/internal/observability"
	"solana-swap-ledger/internal/storage"
)

// Config holds the advisory thresholds evaluated on every sell.
type Config struct {
	// LargePositionThreshold raises oversized_position when the pre-sell position value
	// (remaining × average entry price) exceeds it. Quote-currency units.
	LargePositionThreshold decimal.Decimal

	// SuspiciousPnLMargin raises suspicious_pnl when a sell lost money although
	// proceeds exceeded cost basis × (1 + margin).
	SuspiciousPnLMargin decimal.Decimal
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		LargePositionThreshold: decimal.NewFromInt(50000),
		SuspiciousPnLMargin:    decimal.RequireFromString("0.10"),
	}
}

// Ledger applies buys and sells atomically through a storage.LedgerStore.
// It holds no mutable state of its own and is safe for concurrent use.
type Ledger struct {
	store   storage.LedgerStore
	cfg     Config
	now     func() time.Time
	newID   func() string
	journal storage.LedgerEntryStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the timestamp source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator sets the generator for position and flag ids. Defaults to uuid.NewString.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithJournal appends a LedgerEntry for every applied buy and sell after commit.
func WithJournal(j storage.LedgerEntryStore) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithMetrics records ledger metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogger sets the logger. Defaults to zap.NewNop.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a Ledger over store.
func New(store storage.LedgerStore, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "ledger"))
	return l
}

// GetOpenPosition returns the OPEN or PARTIAL position for (wallet, token),
// or nil, nil when there is none. CLOSED positions are never returned.
func (l *Ledger) GetOpenPosition(ctx context.Context, walletID, token string) (*domain.Position, error) {
	p, err := l.store.GetOpenPosition(ctx, walletID, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open position for wallet %s token %s: %w", walletID, token, err)
	}
	return p, nil
}

// timestamp returns the clock reading in UTC, truncated to microseconds
// so values round-trip through TIMESTAMPTZ unchanged.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// observeTx records the duration and outcome of a ledger transaction.
func (l *Ledger) observeTx(op string, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case RejectionReason(err) != "":
		status = "rejected"
	case errors.Is(err, storage.ErrConflict):
		status = "conflict"
		l.metrics.LedgerTxConflicts.Inc()
	default:
		status = "error"
	}
	l.metrics.LedgerTxDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// appendJournal writes one entry after commit. Failures are logged and counted;
// the positions table stays the source of truth.
func (l *Ledger) appendJournal(ctx context.Context, side domain.EntrySide, p *domain.Position,
	tradeRef string, amount, value, costBasis, pnl decimal.Decimal) {
	if l.journal == nil {
		return
	}

	cumulative := p.EntryAmount
	if side == domain.EntrySideSell {
		cumulative = p.ExitAmount
	}
	entry := &domain.LedgerEntry{
		EntryID:        idhash.ComputeEntryID(p.ID, side, tradeRef, cumulative),
		PositionID:     p.ID,
		WalletID:       p.WalletID,
		Token:          p.Token,
		Side:           side,
		TradeRef:       tradeRef,
		Amount:         amount,
		Value:          value,
		CostBasis:      costBasis,
		RealizedPnL:    pnl,
		StateAfter:     p.State,
		RemainingAfter: p.RemainingAmount,
		AvgPriceAfter:  p.AvgEntryPrice,
		RecordedAt:     p.UpdatedAt,
	}

	if err := l.journal.Insert(ctx, entry); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			l.logger.Debug("journal entry already present", zap.String("entry_id", entry.EntryID))
			return
		}
		l.logger.Error("journal append failed",
			zap.String("entry_id", entry.EntryID),
			zap.String("position_id", p.ID),
			zap.Error(err),
		)
		if l.metrics != nil {
			l.metrics.JournalWriteErrors.Inc()
		}
		return
	}
	if l.metrics != nil {
		l.metrics.JournalWrites.Inc()
	}
}

// validateIdentity rejects an empty wallet or token.
func validateIdentity(op, walletID, token string) error {
	if walletID == "" || token == "" {
		return &RejectionError{Kind: ErrInvalidInput, Op: op, WalletID: walletID, Token: token,
			Reason: "wallet and token are required"}
	}
	return nil
}
