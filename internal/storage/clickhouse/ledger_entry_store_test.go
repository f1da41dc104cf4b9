package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
)

func TestLedgerEntryStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerEntryStore(conn)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	buy := &domain.LedgerEntry{
		EntryID:        "e-buy",
		PositionID:     "p1",
		WalletID:       "w1",
		Token:          "BONK",
		Side:           domain.EntrySideBuy,
		TradeRef:       "sig-1",
		Amount:         decimal.NewFromInt(100),
		Value:          decimal.NewFromInt(1000),
		CostBasis:      decimal.Zero,
		RealizedPnL:    decimal.Zero,
		StateAfter:     domain.PositionOpen,
		RemainingAfter: decimal.NewFromInt(100),
		AvgPriceAfter:  decimal.NewFromInt(10),
		RecordedAt:     base,
	}
	sell := &domain.LedgerEntry{
		EntryID:        "e-sell",
		PositionID:     "p1",
		WalletID:       "w1",
		Token:          "BONK",
		Side:           domain.EntrySideSell,
		TradeRef:       "sig-2",
		Amount:         decimal.NewFromInt(50),
		Value:          decimal.NewFromInt(600),
		CostBasis:      decimal.NewFromInt(500),
		RealizedPnL:    decimal.NewFromInt(100),
		StateAfter:     domain.PositionPartial,
		RemainingAfter: decimal.NewFromInt(50),
		AvgPriceAfter:  decimal.RequireFromString("10.666666667"),
		RecordedAt:     base.Add(time.Minute),
	}

	require.NoError(t, store.Insert(ctx, sell))
	require.NoError(t, store.Insert(ctx, buy))

	got, err := store.GetByPosition(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "e-buy", got[0].EntryID)
	assert.Equal(t, "e-sell", got[1].EntryID)
	assert.Equal(t, domain.EntrySideSell, got[1].Side)
	assert.Equal(t, domain.PositionPartial, got[1].StateAfter)
	assert.True(t, got[1].RealizedPnL.Equal(decimal.NewFromInt(100)))
	assert.True(t, got[1].AvgPriceAfter.Equal(decimal.RequireFromString("10.666666667")))
	assert.True(t, got[0].RecordedAt.Equal(base))

	byWallet, err := store.GetByWallet(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, byWallet, 2)

	none, err := store.GetByWallet(ctx, "w2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedgerEntryStore_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerEntryStore(conn)
	ctx := context.Background()

	e := &domain.LedgerEntry{
		EntryID:    "e1",
		PositionID: "p1",
		WalletID:   "w1",
		Side:       domain.EntrySideBuy,
		StateAfter: domain.PositionOpen,
		RecordedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, e))
	assert.ErrorIs(t, store.Insert(ctx, e), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.Insert(ctx, &domain.LedgerEntry{}), storage.ErrInvalidInput)
}
