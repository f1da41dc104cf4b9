package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
)

// BuyInput is one verified buy: Amount tokens received for Cost spent.
type BuyInput struct {
	WalletID string
	Token    string
	Amount   decimal.Decimal
	Cost     decimal.Decimal
	TradeRef string // stored for traceability, not validated
}

// RecordBuy opens a position or adds to the existing OPEN/PARTIAL one, recomputing
// the average entry price. Buys never raise flags.
func (l *Ledger) RecordBuy(ctx context.Context, in BuyInput) (*domain.Position, error) {
	if err := validateIdentity("buy", in.WalletID, in.Token); err != nil {
		return nil, err
	}
	amount := domain.Normalize(in.Amount)
	cost := domain.Normalize(in.Cost)
	if !amount.IsPositive() {
		return nil, l.reject(&RejectionError{Kind: ErrInvalidAmount, Op: "buy", WalletID: in.WalletID, Token: in.Token,
			Requested: in.Amount, Reason: "amount " + in.Amount.String() + " must be > 0"})
	}
	if !cost.IsPositive() {
		return nil, l.reject(&RejectionError{Kind: ErrInvalidAmount, Op: "buy", WalletID: in.WalletID, Token: in.Token,
			Requested: in.Amount, Reason: "cost " + in.Cost.String() + " must be > 0"})
	}
	if !domain.InRange(amount) || !domain.InRange(cost) {
		return nil, l.reject(&RejectionError{Kind: ErrInvalidAmount, Op: "buy", WalletID: in.WalletID, Token: in.Token,
			Requested: in.Amount, Reason: "amount " + in.Amount.String() + " or cost " + in.Cost.String() + " exceeds the storable range"})
	}

	start := time.Now()
	var result *domain.Position
	var rejection *RejectionError
	var opened bool

	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		result, rejection, opened = nil, nil, false
		now := l.timestamp()

		pos, err := tx.GetOpenPositionForUpdate(ctx, in.WalletID, in.Token)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			pos = &domain.Position{
				ID:              l.newID(),
				WalletID:        in.WalletID,
				Token:           in.Token,
				State:           domain.PositionOpen,
				EntryAmount:     amount,
				EntryCost:       cost,
				AvgEntryPrice:   averagePrice(cost, amount),
				RemainingAmount: amount,
				ExitAmount:      decimal.Zero,
				ExitProceeds:    decimal.Zero,
				RealizedPnL:     decimal.Zero,
				FirstEntryAt:    now,
				LastTradeRef:    in.TradeRef,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := pos.CheckInvariants(); err != nil {
				return err
			}
			if err := tx.InsertPosition(ctx, pos); err != nil {
				return fmt.Errorf("insert position: %w", err)
			}
			opened = true

		case err != nil:
			return fmt.Errorf("load open position: %w", err)

		default:
			if !domain.InRange(pos.EntryAmount.Add(amount)) || !domain.InRange(pos.EntryCost.Add(cost)) {
				rejection = &RejectionError{Kind: ErrInvalidAmount, Op: "buy", WalletID: in.WalletID, Token: in.Token,
					Requested: amount, Reason: "position " + pos.ID + " totals would exceed the storable range"}
				return nil
			}
			pos.EntryAmount = pos.EntryAmount.Add(amount)
			pos.EntryCost = pos.EntryCost.Add(cost)
			pos.AvgEntryPrice = averagePrice(pos.EntryCost, pos.EntryAmount)
			pos.RemainingAmount = pos.RemainingAmount.Add(amount)
			pos.LastTradeRef = in.TradeRef
			pos.UpdatedAt = now
			if err := pos.CheckInvariants(); err != nil {
				return err
			}
			if err := tx.UpdatePosition(ctx, pos); err != nil {
				return fmt.Errorf("update position: %w", err)
			}
		}

		result = pos
		return nil
	})
	if rejection != nil && err == nil {
		l.observeTx("buy", start, rejection)
	} else {
		l.observeTx("buy", start, err)
	}
	if err != nil {
		l.logger.Error("record buy failed",
			zap.String("wallet_id", in.WalletID),
			zap.String("token", in.Token),
			zap.String("trade_ref", in.TradeRef),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record buy for wallet %s token %s: %w", in.WalletID, in.Token, err)
	}
	if rejection != nil {
		return nil, l.reject(rejection)
	}

	if l.metrics != nil {
		l.metrics.BuysRecorded.Inc()
	}
	l.logger.Info("buy recorded",
		zap.String("position_id", result.ID),
		zap.String("wallet_id", result.WalletID),
		zap.String("token", result.Token),
		zap.Bool("opened", opened),
		zap.String("amount", amount.String()),
		zap.String("cost", cost.String()),
		zap.String("avg_entry_price", result.AvgEntryPrice.String()),
		zap.String("trade_ref", in.TradeRef),
	)
	l.appendJournal(ctx, domain.EntrySideBuy, result, in.TradeRef, amount, cost, decimal.Zero, decimal.Zero)

	return result, nil
}

// averagePrice is cost ÷ amount at the ledger scale.
func averagePrice(cost, amount decimal.Decimal) decimal.Decimal {
	return cost.DivRound(amount, domain.Scale)
}
