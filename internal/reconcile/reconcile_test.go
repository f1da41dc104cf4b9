package reconcile

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/ledger"
	"solana-swap-ledger/internal/observability"
	"solana-swap-ledger/internal/solana"
	"solana-swap-ledger/internal/solana/stub"
	"solana-swap-ledger/internal/storage"
	"solana-swap-ledger/internal/storage/memory"
)

func walletKey(seed byte) string {
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	return base58.Encode(ed25519.NewKeyFromSeed(s).Public().(ed25519.PublicKey))
}

func hashKey(label string) string {
	sum := sha256.Sum256([]byte(label))
	return base58.Encode(sum[:])
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ledger  *ledger.Ledger
	store   *memory.LedgerStore
	rpc     *stub.RPCClient
	locker  *memory.Locker
	metrics *observability.Metrics
	target  Target
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewLedgerStore()
	return &fixture{
		ledger:  ledger.New(store, ledger.DefaultConfig()),
		store:   store,
		rpc:     stub.NewRPCClient(),
		locker:  memory.NewLocker(),
		metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
		target:  Target{WalletID: walletKey(1), Token: "BONK", Mint: hashKey("bonk-mint"), Decimals: 5},
	}
}

func (f *fixture) reconciler(t *testing.T, mod func(*Options)) *Reconciler {
	t.Helper()
	opts := Options{
		Ledger:    f.ledger,
		RPC:       f.rpc,
		Locker:    f.locker,
		Targets:   []Target{f.target},
		Tolerance: d("10"),
		Metrics:   f.metrics,
		Logger:    zaptest.NewLogger(t),
	}
	if mod != nil {
		mod(&opts)
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func (f *fixture) buy(t *testing.T, amount string) *domain.Position {
	t.Helper()
	p, err := f.ledger.RecordBuy(context.Background(), ledger.BuyInput{
		WalletID: f.target.WalletID, Token: f.target.Token,
		Amount: d(amount), Cost: d("1"), TradeRef: "buy-" + amount,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) setChain(amounts ...uint64) {
	accounts := make([]solana.TokenAccount, len(amounts))
	for i, a := range amounts {
		accounts[i] = solana.TokenAccount{
			Address: hashKey(f.target.WalletID + string(rune('a'+i))),
			Mint:    f.target.Mint,
			Owner:   f.target.WalletID,
			Amount:  a,
		}
	}
	f.rpc.SetAccounts(f.target.WalletID, accounts...)
}

func (f *fixture) flags(t *testing.T) []*domain.Flag {
	t.Helper()
	flags, err := f.store.ListFlags(context.Background(), storage.FlagFilter{Type: domain.FlagBalanceMismatch})
	require.NoError(t, err)
	return flags
}

func TestCheckTarget_Balanced(t *testing.T) {
	f := newFixture(t)
	f.buy(t, "1000")
	f.setChain(600, 400)

	r := f.reconciler(t, nil)
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Mismatches)
	assert.Empty(t, f.flags(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileRuns.WithLabelValues("ok")))
	assert.NotZero(t, testutil.ToFloat64(f.metrics.LastSuccessfulReconcile))
}

func TestCheckTarget_WithinTolerance(t *testing.T) {
	f := newFixture(t)
	f.buy(t, "1000")
	f.setChain(990)

	m, err := f.reconciler(t, nil).CheckTarget(context.Background(), f.target)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCheckTarget_ChainBelowLedgerIsCritical(t *testing.T) {
	f := newFixture(t)
	pos := f.buy(t, "1000")
	f.setChain(400)

	m, err := f.reconciler(t, nil).CheckTarget(context.Background(), f.target)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, domain.SeverityCritical, m.Severity)
	assert.True(t, m.Diff.Equal(d("-600")))

	flags := f.flags(t)
	require.Len(t, flags, 1)
	assert.Equal(t, m.FlagID, flags[0].ID)
	assert.Equal(t, domain.SeverityCritical, flags[0].Severity)
	require.NotNil(t, flags[0].PositionID)
	assert.Equal(t, pos.ID, *flags[0].PositionID)
	assert.Contains(t, flags[0].Description, f.target.WalletID)
	assert.Contains(t, flags[0].Description, "on-chain 400 (0.004 tokens)")

	// the ledger is never corrected
	after, err := f.ledger.GetOpenPosition(context.Background(), f.target.WalletID, f.target.Token)
	require.NoError(t, err)
	assert.True(t, after.RemainingAmount.Equal(d("1000")))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileMismatches.WithLabelValues("critical")))
}

func TestCheckTarget_ChainAboveLedgerWithoutPosition(t *testing.T) {
	f := newFixture(t)
	f.setChain(5000)

	m, err := f.reconciler(t, nil).CheckTarget(context.Background(), f.target)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, domain.SeverityWarning, m.Severity)
	assert.True(t, m.Ledger.IsZero())

	flags := f.flags(t)
	require.Len(t, flags, 1)
	assert.Nil(t, flags[0].PositionID)
	assert.Equal(t, domain.SeverityWarning, flags[0].Severity)
}

func TestCheckTarget_FlagsOnlyChangedDivergence(t *testing.T) {
	f := newFixture(t)
	f.buy(t, "1000")
	f.setChain(500)
	r := f.reconciler(t, nil)
	ctx := context.Background()

	_, err := r.RunOnce(ctx)
	require.NoError(t, err)
	report, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	assert.Empty(t, report.Mismatches[0].FlagID, "unchanged divergence must not be flagged twice")
	assert.Len(t, f.flags(t), 1)

	f.setChain(300)
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, f.flags(t), 2)

	// agreement clears the memory, a later identical divergence is flagged again
	f.setChain(1000)
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	f.setChain(300)
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, f.flags(t), 3)
}

func TestCheckTarget_TokensSharingAMintAreTrackedApart(t *testing.T) {
	f := newFixture(t)
	relabeled := f.target
	relabeled.Token = "BONK-OLD"

	for _, tok := range []string{f.target.Token, relabeled.Token} {
		_, err := f.ledger.RecordBuy(context.Background(), ledger.BuyInput{
			WalletID: f.target.WalletID, Token: tok, Amount: d("1000"), Cost: d("1"), TradeRef: "buy-" + tok,
		})
		require.NoError(t, err)
	}
	f.setChain(500)

	r := f.reconciler(t, func(o *Options) { o.Targets = append(o.Targets, relabeled) })
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Mismatches, 2)
	for _, m := range report.Mismatches {
		assert.NotEmpty(t, m.FlagID, "an identical divergence on another token is still flagged")
	}
	assert.Len(t, f.flags(t), 2)
}

func TestRunOnce_SkipsWhenLocked(t *testing.T) {
	f := newFixture(t)
	release, err := f.locker.Acquire(context.Background(), LockKey, time.Minute)
	require.NoError(t, err)
	defer release()

	report, err := f.reconciler(t, nil).RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Skipped)
	assert.Zero(t, f.rpc.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileRuns.WithLabelValues("skipped")))
}

func TestRunOnce_ContinuesPastTargetErrors(t *testing.T) {
	f := newFixture(t)
	f.rpc.SetError(errors.New("rpc down"))
	second := Target{WalletID: walletKey(2), Token: "WIF", Mint: hashKey("wif-mint"), Decimals: 6}

	r := f.reconciler(t, func(o *Options) { o.Targets = append(o.Targets, second) })
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, 2, f.rpc.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileRuns.WithLabelValues("error")))

	// lock is released after the pass
	release, err := f.locker.Acquire(context.Background(), LockKey, time.Minute)
	require.NoError(t, err)
	release()
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := New(Options{RPC: f.rpc, Locker: f.locker})
	assert.Error(t, err)

	bad := []Target{
		{WalletID: "not-a-wallet", Token: "BONK", Mint: f.target.Mint},
		{WalletID: f.target.WalletID, Token: "BONK", Mint: "short"},
		{WalletID: f.target.WalletID, Token: "", Mint: f.target.Mint},
		{WalletID: f.target.WalletID, Token: "BONK", Mint: f.target.Mint, Decimals: 40},
	}
	for _, target := range bad {
		_, err := New(Options{Ledger: f.ledger, RPC: f.rpc, Locker: f.locker, Targets: []Target{target}})
		assert.Error(t, err, "target %+v", target)
	}

	_, err = New(Options{Ledger: f.ledger, RPC: f.rpc, Locker: f.locker, Tolerance: d("-1")})
	assert.Error(t, err)
}

func TestRun_AccountUpdateTriggersCheck(t *testing.T) {
	f := newFixture(t)
	f.buy(t, "1000")
	f.setChain(1000)
	sub := stub.NewSubscriber()

	r := f.reconciler(t, func(o *Options) {
		o.Subscriber = sub
		o.Interval = time.Hour
		o.SettleDelay = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	account := hashKey(f.target.WalletID + "a")
	require.Eventually(t, func() bool { return sub.Subscribed(account) }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.flags(t))

	f.setChain(200)
	require.True(t, sub.Notify(solana.AccountNotification{Address: account, Slot: 42}))

	require.Eventually(t, func() bool {
		flags, err := f.store.ListFlags(context.Background(), storage.FlagFilter{Type: domain.FlagBalanceMismatch})
		return err == nil && len(flags) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
