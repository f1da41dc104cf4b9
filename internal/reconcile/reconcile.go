// Package reconcile compares on-chain SPL token balances with the ledger's open
// positions and raises balance_mismatch flags for human review.
//
// The reconciler never mutates positions. A mismatch is only ever reported.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/ledger"
	"solana-swap-ledger/internal/observability"
	"solana-swap-ledger/internal/solana"
	"solana-swap-ledger/internal/storage"
)

// LockKey is the lock held for the duration of a full reconciliation pass.
const LockKey = "reconcile"

// Ledger is the subset of *ledger.Ledger the reconciler reads and flags through.
type Ledger interface {
	GetOpenPosition(ctx context.Context, walletID, token string) (*domain.Position, error)
	FlagIssue(ctx context.Context, in ledger.FlagInput) (*domain.Flag, error)
}

// Target is one (wallet, token) pair to reconcile.
type Target struct {
	WalletID string
	Token    string // ledger token symbol
	Mint     string // SPL mint address
	Decimals int32  // mint decimals, used to render token units in flag descriptions
}

func (t Target) key() string {
	return t.WalletID + "|" + t.Token + "|" + t.Mint
}

// Validate checks the wallet and mint addresses.
func (t Target) Validate() error {
	if t.Token == "" {
		return fmt.Errorf("target %s: token is required", t.WalletID)
	}
	if err := solana.ValidateWallet(t.WalletID); err != nil {
		return fmt.Errorf("target wallet: %w", err)
	}
	if err := solana.ValidatePubkey(t.Mint); err != nil {
		return fmt.Errorf("target mint: %w", err)
	}
	if t.Decimals < 0 || t.Decimals > 18 {
		return fmt.Errorf("target %s/%s: decimals %d out of range", t.WalletID, t.Token, t.Decimals)
	}
	return nil
}

// Mismatch is a detected divergence between chain and ledger, in base units.
type Mismatch struct {
	Target   Target
	Slot     uint64
	OnChain  decimal.Decimal
	Ledger   decimal.Decimal
	Diff     decimal.Decimal // OnChain - Ledger
	Severity domain.Severity
	FlagID   string // empty when the same divergence was already flagged
}

// Report summarizes one reconciliation pass.
type Report struct {
	Skipped    bool // another instance holds the lock
	Checked    int
	Mismatches []Mismatch
	Errors     int
}

// Options contains configuration for creating a Reconciler.
type Options struct {
	Ledger     Ledger
	RPC        solana.RPCClient
	Subscriber solana.AccountSubscriber // optional, triggers checks on account updates
	Locker     storage.Locker
	Targets    []Target

	Interval    time.Duration   // Default: 5m
	Tolerance   decimal.Decimal // absolute, base units
	LockTTL     time.Duration   // Default: Interval
	SettleDelay time.Duration   // Default: 30s - wait after an account update before checking

	Metrics *observability.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// Reconciler runs balance reconciliation passes.
type Reconciler struct {
	ledger      Ledger
	rpc         solana.RPCClient
	subscriber  solana.AccountSubscriber
	locker      storage.Locker
	targets     []Target
	interval    time.Duration
	tolerance   decimal.Decimal
	lockTTL     time.Duration
	settleDelay time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	reported map[string]string // target key -> last flagged diff
	accounts map[string]Target // token account -> owning target
	watched  map[string]bool   // token accounts with a live subscription
}

// New creates a Reconciler. It fails on invalid targets.
func New(opts Options) (*Reconciler, error) {
	if opts.Ledger == nil || opts.RPC == nil || opts.Locker == nil {
		return nil, errors.New("reconcile: ledger, rpc and locker are required")
	}
	for _, t := range opts.Targets {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
	}
	if opts.Tolerance.IsNegative() {
		return nil, errors.New("reconcile: tolerance must not be negative")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = interval
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{
		ledger:      opts.Ledger,
		rpc:         opts.RPC,
		subscriber:  opts.Subscriber,
		locker:      opts.Locker,
		targets:     append([]Target(nil), opts.Targets...),
		interval:    interval,
		tolerance:   opts.Tolerance,
		lockTTL:     lockTTL,
		settleDelay: settle,
		metrics:     opts.Metrics,
		logger:      logger.With(zap.String("component", "reconcile")),
		now:         now,
		reported:    make(map[string]string),
		accounts:    make(map[string]Target),
		watched:     make(map[string]bool),
	}, nil
}

// RunOnce runs a full pass over all targets under the reconcile lock.
// Per-target failures are logged and counted; the pass continues.
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	release, err := r.locker.Acquire(ctx, LockKey, r.lockTTL)
	if errors.Is(err, storage.ErrLockHeld) {
		r.logger.Debug("reconcile pass skipped, lock held elsewhere")
		r.observeRun("skipped")
		return &Report{Skipped: true}, nil
	}
	if err != nil {
		r.observeRun("error")
		return nil, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	defer release()

	report := &Report{}
	for _, t := range r.targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m, err := r.CheckTarget(ctx, t)
		report.Checked++
		if err != nil {
			report.Errors++
			r.logger.Error("reconcile target failed",
				zap.String("wallet_id", t.WalletID),
				zap.String("token", t.Token),
				zap.Error(err),
			)
			continue
		}
		if m != nil {
			report.Mismatches = append(report.Mismatches, *m)
		}
	}

	status := "ok"
	if report.Errors > 0 {
		status = "error"
	} else if r.metrics != nil {
		r.metrics.LastSuccessfulReconcile.Set(float64(r.now().Unix()))
	}
	r.observeRun(status)

	r.logger.Info("reconcile pass complete",
		zap.Int("checked", report.Checked),
		zap.Int("mismatches", len(report.Mismatches)),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// CheckTarget compares one target's on-chain balance with its open position and
// flags a divergence beyond tolerance. It returns nil when the balances agree.
func (r *Reconciler) CheckTarget(ctx context.Context, t Target) (*Mismatch, error) {
	res, err := r.rpc.GetTokenAccountsByOwner(ctx, t.WalletID, t.Mint)
	if err != nil {
		return nil, fmt.Errorf("fetch token accounts %s/%s: %w", t.WalletID, t.Mint, err)
	}
	r.rememberAccounts(t, res.Accounts)

	onChain := decimal.NewFromBigInt(solana.TotalAmount(res.Accounts, t.Mint), 0)

	pos, err := r.ledger.GetOpenPosition(ctx, t.WalletID, t.Token)
	if err != nil {
		return nil, fmt.Errorf("load open position %s/%s: %w", t.WalletID, t.Token, err)
	}
	ledgerAmt := decimal.Zero
	if pos != nil {
		ledgerAmt = pos.RemainingAmount
	}

	diff := onChain.Sub(ledgerAmt)
	if diff.Abs().LessThanOrEqual(r.tolerance) {
		r.clearReported(t)
		return nil, nil
	}

	m := &Mismatch{
		Target:   t,
		Slot:     res.Slot,
		OnChain:  onChain,
		Ledger:   ledgerAmt,
		Diff:     diff,
		Severity: domain.SeverityWarning,
	}
	// tokens the ledger believes exist are missing on chain
	if diff.IsNegative() {
		m.Severity = domain.SeverityCritical
	}

	if r.metrics != nil {
		r.metrics.ReconcileMismatches.WithLabelValues(string(m.Severity)).Inc()
	}

	if !r.markReported(t, diff) {
		r.logger.Debug("balance mismatch unchanged, already flagged",
			zap.String("wallet_id", t.WalletID),
			zap.String("token", t.Token),
			zap.String("diff", diff.String()),
		)
		return m, nil
	}

	in := ledger.FlagInput{
		WalletID:    t.WalletID,
		Type:        domain.FlagBalanceMismatch,
		Severity:    m.Severity,
		Description: describe(m),
	}
	if pos != nil {
		id := pos.ID
		in.PositionID = &id
	}

	flag, err := r.ledger.FlagIssue(ctx, in)
	if err != nil {
		r.clearReported(t)
		return nil, fmt.Errorf("flag balance mismatch %s/%s: %w", t.WalletID, t.Token, err)
	}
	m.FlagID = flag.ID
	return m, nil
}

func describe(m *Mismatch) string {
	t := m.Target
	return fmt.Sprintf(
		"balance mismatch for wallet %s token %s (mint %s) at slot %d: on-chain %s (%s tokens), ledger %s (%s tokens), diff %s",
		t.WalletID, t.Token, t.Mint, m.Slot,
		m.OnChain.String(), m.OnChain.Shift(-t.Decimals).String(),
		m.Ledger.String(), m.Ledger.Shift(-t.Decimals).String(),
		m.Diff.String(),
	)
}

// markReported records diff for t and reports whether it differs from the last flagged one.
func (r *Reconciler) markReported(t Target, diff decimal.Decimal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := t.key()
	if r.reported[k] == diff.String() {
		return false
	}
	r.reported[k] = diff.String()
	return true
}

func (r *Reconciler) clearReported(t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reported, t.key())
}

func (r *Reconciler) observeRun(status string) {
	if r.metrics != nil {
		r.metrics.ReconcileRuns.WithLabelValues(status).Inc()
	}
}
