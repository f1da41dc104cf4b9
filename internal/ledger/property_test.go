package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
)

// randomAmount returns a positive amount with up to 6 fractional digits.
func randomAmount(rng *rand.Rand, max int64) decimal.Decimal {
	return decimal.New(rng.Int63n(max*1_000_000)+1, -6)
}

// model is the expected cumulative state of the current position.
type model struct {
	id          string
	entryAmount decimal.Decimal
	entryCost   decimal.Decimal
	exitAmount  decimal.Decimal
	state       domain.PositionState
}

func (m *model) remaining() decimal.Decimal {
	return m.entryAmount.Sub(m.exitAmount)
}

func TestLedgerProperties_RandomSequences(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 2024, 987654321} {
		seed := seed
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			runRandomSequence(t, seed, 300)
		})
	}
}

func runRandomSequence(t *testing.T, seed int64, steps int) {
	rng := rand.New(rand.NewSource(seed))
	// Advisory thresholds are exercised elsewhere; keep them out of the flag count.
	cfg := DefaultConfig()
	cfg.LargePositionThreshold = decimal.New(1, 30)
	f := newFixture(t, cfg)
	ctx := context.Background()

	var m *model
	expectedFlags := 0

	for step := 0; step < steps; step++ {
		switch op := rng.Intn(10); {
		case op < 4:
			amount := randomAmount(rng, 1000)
			cost := randomAmount(rng, 5000)

			p, err := f.ledger.RecordBuy(ctx, BuyInput{WalletID: wallet, Token: token, Amount: amount, Cost: cost})
			require.NoError(t, err, "seed %d step %d", seed, step)

			if m == nil || m.state == domain.PositionClosed {
				m = &model{id: p.ID, entryAmount: decimal.Zero, entryCost: decimal.Zero, exitAmount: decimal.Zero, state: domain.PositionOpen}
			}
			require.Equal(t, m.id, p.ID, "buys extend the open position")
			m.entryAmount = m.entryAmount.Add(amount)
			m.entryCost = m.entryCost.Add(cost)

			assert.True(t, p.AvgEntryPrice.Equal(m.entryCost.DivRound(m.entryAmount, domain.Scale)),
				"seed %d step %d: avg %s != cost %s / amount %s", seed, step, p.AvgEntryPrice, m.entryCost, m.entryAmount)
			assert.Equal(t, m.state, p.State, "buys never change state")

		case op < 9:
			if m == nil || m.state == domain.PositionClosed {
				_, err := f.sell(randomAmount(rng, 10).String(), "1")
				require.ErrorIs(t, err, ErrNoOpenPosition, "seed %d step %d", seed, step)
				expectedFlags++
				continue
			}

			var amount decimal.Decimal
			switch rng.Intn(4) {
			case 0:
				amount = m.remaining() // close exactly
			default:
				amount = decimal.Min(randomAmount(rng, 300), m.remaining())
			}
			before, err := f.store.GetPosition(ctx, m.id)
			require.NoError(t, err)

			r, err := f.ledger.RecordSell(ctx, SellInput{WalletID: wallet, Token: token, Amount: amount, Proceeds: randomAmount(rng, 3000)})
			require.NoError(t, err, "seed %d step %d", seed, step)

			m.exitAmount = m.exitAmount.Add(amount)
			next := domain.PositionPartial
			if m.remaining().IsZero() {
				next = domain.PositionClosed
				require.NotNil(t, r.Position.ClosedAt)
			}
			require.True(t, m.state.CanTransitionTo(next))
			m.state = next

			assert.Equal(t, m.state, r.Position.State)
			assert.True(t, r.Position.AvgEntryPrice.Equal(before.AvgEntryPrice), "sells never recompute the average")
			assert.True(t, r.CostBasis.Equal(domain.Normalize(before.AvgEntryPrice.Mul(amount))))

		default:
			// Oversell attempt.
			if m == nil || m.state == domain.PositionClosed {
				continue
			}
			before, err := f.store.GetPosition(ctx, m.id)
			require.NoError(t, err)

			over := m.remaining().Add(randomAmount(rng, 50))
			_, err = f.ledger.RecordSell(ctx, SellInput{WalletID: wallet, Token: token, Amount: over, Proceeds: decimal.NewFromInt(1)})
			require.ErrorIs(t, err, ErrInsufficientPosition)
			expectedFlags++

			after, err := f.store.GetPosition(ctx, m.id)
			require.NoError(t, err)
			assert.Equal(t, before, after, "rejected sell must leave the position unchanged")
		}

		if m != nil {
			p, err := f.store.GetPosition(ctx, m.id)
			require.NoError(t, err)
			require.NoError(t, p.CheckInvariants())
			assert.True(t, p.RemainingAmount.Equal(m.remaining()))
			assert.False(t, p.RemainingAmount.IsNegative())
		}
	}

	flags, err := f.store.ListFlags(ctx, storage.FlagFilter{})
	require.NoError(t, err)
	require.Len(t, flags, expectedFlags)
	for _, fl := range flags {
		assert.Equal(t, domain.SeverityCritical, fl.Severity, "only rejections raise flags here")
		assert.True(t, fl.Type == domain.FlagSellWithoutPosition || fl.Type == domain.FlagSellExceedsPosition)
	}
}

func TestLedgerProperties_ClosedPositionsRejectSells(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		amount := randomAmount(rng, 500)
		p, err := f.ledger.RecordBuy(ctx, BuyInput{WalletID: wallet, Token: token, Amount: amount, Cost: randomAmount(rng, 500)})
		require.NoError(t, err)

		r, err := f.ledger.RecordSell(ctx, SellInput{WalletID: wallet, Token: token, Amount: amount, Proceeds: randomAmount(rng, 500)})
		require.NoError(t, err)
		require.Equal(t, domain.PositionClosed, r.Position.State)

		_, err = f.ledger.RecordSell(ctx, SellInput{WalletID: wallet, Token: token, Amount: decimal.NewFromInt(1), Proceeds: decimal.Zero})
		require.True(t, errors.Is(err, ErrNoOpenPosition))

		closed, err := f.store.GetPosition(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PositionClosed, closed.State, "closed rows stay closed")
	}

	positions, err := f.store.ListPositions(ctx, wallet, storage.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, positions, 20)
}
