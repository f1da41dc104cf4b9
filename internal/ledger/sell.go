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

// SellInput is one verified sell: Amount tokens sold for Proceeds received.
type SellInput struct {
	WalletID string
	Token    string
	Amount   decimal.Decimal
	Proceeds decimal.Decimal
	TradeRef string
}

// SellResult carries the figures of an applied sell so callers never recompute them.
type SellResult struct {
	Position    *domain.Position
	RealizedPnL decimal.Decimal
	CostBasis   decimal.Decimal
}

// RecordSell applies a sell to the OPEN/PARTIAL position at the average entry price.
//
// A sell with no open position or larger than the remaining amount is refused:
// a critical flag is committed, the position is left untouched and a *RejectionError
// is returned. Advisory flags (oversized_position, suspicious_pnl) are written in the
// same transaction as a successful sell; their condition never fails it, but a
// failure to store one does.
func (l *Ledger) RecordSell(ctx context.Context, in SellInput) (*SellResult, error) {
	if err := validateIdentity("sell", in.WalletID, in.Token); err != nil {
		return nil, err
	}
	amount := domain.Normalize(in.Amount)
	proceeds := domain.Normalize(in.Proceeds)
	if !amount.IsPositive() {
		return nil, l.reject(&RejectionError{Kind: ErrInvalidAmount, Op: "sell", WalletID: in.WalletID, Token: in.Token,
			Requested: in.Amount, Reason: "amount " + in.Amount.String() + " must be > 0"})
	}
	if proceeds.IsNegative() {
		return nil, l.reject(&RejectionError{Kind: ErrInvalidAmount, Op: "sell", WalletID: in.WalletID, Token: in.Token,
			Requested: in.Amount, Reason: "proceeds " + in.Proceeds.String() + " must be >= 0"})
	}
	if !domain.InRange(amount) || !domain.InRange(proceeds) {
		return nil, l.reject(&RejectionError{Kind: ErrInvalidAmount, Op: "sell", WalletID: in.WalletID, Token: in.Token,
			Requested: in.Amount, Reason: "amount " + in.Amount.String() + " or proceeds " + in.Proceeds.String() + " exceeds the storable range"})
	}

	start := time.Now()
	var result *SellResult
	var rejection *RejectionError
	var raised []*domain.Flag
	var prevState domain.PositionState

	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		result, rejection, raised = nil, nil, nil
		now := l.timestamp()
		tradeRef := optional(in.TradeRef)

		pos, err := tx.GetOpenPositionForUpdate(ctx, in.WalletID, in.Token)
		if errors.Is(err, storage.ErrNotFound) {
			f, err := l.insertFlag(ctx, tx, now, FlagInput{
				TradeRef: tradeRef,
				WalletID: in.WalletID,
				Type:     domain.FlagSellWithoutPosition,
				Severity: domain.SeverityCritical,
				Description: fmt.Sprintf("sell of %s %s from wallet %s (trade %s) has no open position",
					amount, in.Token, in.WalletID, in.TradeRef),
			})
			if err != nil {
				return err
			}
			raised = append(raised, f)
			rejection = &RejectionError{Kind: ErrNoOpenPosition, Op: "sell", WalletID: in.WalletID,
				Token: in.Token, Requested: amount, FlagID: f.ID}
			return nil
		}
		if err != nil {
			return fmt.Errorf("load open position: %w", err)
		}

		if amount.GreaterThan(pos.RemainingAmount) {
			f, err := l.insertFlag(ctx, tx, now, FlagInput{
				PositionID: optional(pos.ID),
				TradeRef:   tradeRef,
				WalletID:   in.WalletID,
				Type:       domain.FlagSellExceedsPosition,
				Severity:   domain.SeverityCritical,
				Description: fmt.Sprintf("sell of %s %s from wallet %s (trade %s) exceeds position %s: requested %s, available %s",
					amount, in.Token, in.WalletID, in.TradeRef, pos.ID, amount, pos.RemainingAmount),
			})
			if err != nil {
				return err
			}
			raised = append(raised, f)
			rejection = &RejectionError{Kind: ErrInsufficientPosition, Op: "sell", WalletID: in.WalletID,
				Token: in.Token, Requested: amount, Available: pos.RemainingAmount, FlagID: f.ID}
			return nil
		}

		prevState = pos.State
		preSellValue := pos.Value()
		costBasis := domain.Normalize(pos.AvgEntryPrice.Mul(amount))
		pnl := proceeds.Sub(costBasis)

		if !domain.InRange(pos.ExitProceeds.Add(proceeds)) || !domain.InRange(pos.RealizedPnL.Add(pnl)) {
			rejection = &RejectionError{Kind: ErrInvalidAmount, Op: "sell", WalletID: in.WalletID, Token: in.Token,
				Requested: amount, Reason: "position " + pos.ID + " totals would exceed the storable range"}
			return nil
		}

		pos.RemainingAmount = pos.RemainingAmount.Sub(amount)
		pos.ExitAmount = pos.ExitAmount.Add(amount)
		pos.ExitProceeds = pos.ExitProceeds.Add(proceeds)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.LastExitAt = &now
		pos.LastTradeRef = in.TradeRef
		pos.UpdatedAt = now
		if pos.RemainingAmount.IsZero() {
			pos.State = domain.PositionClosed
			closedAt := now
			pos.ClosedAt = &closedAt
		} else {
			pos.State = domain.PositionPartial
		}

		if !prevState.CanTransitionTo(pos.State) {
			return &domain.InvariantError{PositionID: pos.ID,
				Reason: "illegal transition " + string(prevState) + " -> " + string(pos.State)}
		}
		if err := pos.CheckInvariants(); err != nil {
			return err
		}
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return fmt.Errorf("update position: %w", err)
		}

		// Advisory flags share the sell's transaction on purpose: if one cannot be
		// written the sell rolls back, so no applied sell is missing its flags.
		if preSellValue.GreaterThan(l.cfg.LargePositionThreshold) {
			f, err := l.insertFlag(ctx, tx, now, FlagInput{
				PositionID: optional(pos.ID),
				TradeRef:   tradeRef,
				WalletID:   in.WalletID,
				Type:       domain.FlagOversizedPosition,
				Severity:   domain.SeverityWarning,
				Description: fmt.Sprintf("position %s (%s in wallet %s) was worth %s at average entry price before selling %s, above threshold %s",
					pos.ID, in.Token, in.WalletID, domain.Normalize(preSellValue), amount, l.cfg.LargePositionThreshold),
			})
			if err != nil {
				return err
			}
			raised = append(raised, f)
		}

		if isSuspiciousPnL(pnl, proceeds, costBasis, l.cfg.SuspiciousPnLMargin) {
			f, err := l.insertFlag(ctx, tx, now, FlagInput{
				PositionID: optional(pos.ID),
				TradeRef:   tradeRef,
				WalletID:   in.WalletID,
				Type:       domain.FlagSuspiciousPnL,
				Severity:   domain.SeverityWarning,
				Description: fmt.Sprintf("sell of %s %s from wallet %s realized %s although proceeds %s exceed cost basis %s by more than %s",
					amount, in.Token, in.WalletID, pnl, proceeds, costBasis, l.cfg.SuspiciousPnLMargin),
			})
			if err != nil {
				return err
			}
			raised = append(raised, f)
		}

		result = &SellResult{Position: pos, RealizedPnL: pnl, CostBasis: costBasis}
		return nil
	})
	if rejection != nil && err == nil {
		l.observeTx("sell", start, rejection)
	} else {
		l.observeTx("sell", start, err)
	}
	if err != nil {
		l.logger.Error("record sell failed",
			zap.String("wallet_id", in.WalletID),
			zap.String("token", in.Token),
			zap.String("trade_ref", in.TradeRef),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record sell for wallet %s token %s: %w", in.WalletID, in.Token, err)
	}

	for _, f := range raised {
		l.reportFlag(f)
	}
	if rejection != nil {
		return nil, l.reject(rejection)
	}

	if l.metrics != nil {
		l.metrics.SellsRecorded.WithLabelValues(string(result.Position.State)).Inc()
		if result.RealizedPnL.IsNegative() {
			l.metrics.SellsWithLoss.Inc()
		}
	}
	l.logger.Info("sell recorded",
		zap.String("position_id", result.Position.ID),
		zap.String("wallet_id", in.WalletID),
		zap.String("token", in.Token),
		zap.String("state", string(result.Position.State)),
		zap.String("amount", amount.String()),
		zap.String("proceeds", proceeds.String()),
		zap.String("cost_basis", result.CostBasis.String()),
		zap.String("realized_pnl", result.RealizedPnL.String()),
		zap.String("trade_ref", in.TradeRef),
	)
	l.appendJournal(ctx, domain.EntrySideSell, result.Position, in.TradeRef,
		amount, proceeds, result.CostBasis, result.RealizedPnL)

	return result, nil
}

// isSuspiciousPnL reports a loss alongside proceeds above cost basis × (1 + margin).
// The two cannot both hold when amounts propagate correctly.
func isSuspiciousPnL(pnl, proceeds, costBasis, margin decimal.Decimal) bool {
	if !pnl.IsNegative() {
		return false
	}
	return proceeds.GreaterThan(costBasis.Mul(decimal.NewFromInt(1).Add(margin)))
}

// reject logs and counts a refused sell or buy, then returns it unchanged.
func (l *Ledger) reject(r *RejectionError) error {
	l.logger.Warn("trade rejected",
		zap.String("op", r.Op),
		zap.String("reason", RejectionReason(r)),
		zap.String("wallet_id", r.WalletID),
		zap.String("token", r.Token),
		zap.String("requested", r.Requested.String()),
		zap.String("available", r.Available.String()),
		zap.String("flag_id", r.FlagID),
		zap.String("detail", r.Error()),
	)
	if l.metrics != nil && r.Op == "sell" {
		l.metrics.SellRejections.WithLabelValues(RejectionReason(r)).Inc()
	}
	return r
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
