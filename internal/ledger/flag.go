package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
)

// FlagInput describes an anomaly to persist for human review.
type FlagInput struct {
	PositionID  *string
	TradeRef    *string
	WalletID    string
	Type        domain.FlagType
	Severity    domain.Severity
	Description string
}

func (in FlagInput) validate() error {
	switch {
	case in.WalletID == "":
		return fmt.Errorf("%w: wallet is required", ErrInvalidFlag)
	case in.Type == "":
		return fmt.Errorf("%w: flag type is required", ErrInvalidFlag)
	case !in.Severity.IsValid():
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidFlag, in.Severity)
	}
	return nil
}

// FlagIssue persists a flag raised outside a buy or sell, e.g. by balance
// reconciliation. The anomaly is always logged. A persistence failure is logged
// at error level and returned. A PositionID that names no position is rejected
// with ErrInvalidFlag.
func (l *Ledger) FlagIssue(ctx context.Context, in FlagInput) (*domain.Flag, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var flag *domain.Flag
	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.LedgerTx) error {
		if in.PositionID != nil {
			_, err := tx.GetPosition(ctx, *in.PositionID)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: position %s does not exist", ErrInvalidFlag, *in.PositionID)
			}
			if err != nil {
				return err
			}
		}
		f, err := l.insertFlag(ctx, tx, l.timestamp(), in)
		flag = f
		return err
	})
	if errors.Is(err, ErrInvalidFlag) {
		return nil, err
	}
	if err != nil {
		l.logger.Error("flag persistence failed",
			zap.String("wallet_id", in.WalletID),
			zap.String("flag_type", string(in.Type)),
			zap.String("severity", string(in.Severity)),
			zap.String("description", in.Description),
			zap.Error(err),
		)
		if l.metrics != nil {
			l.metrics.FlagWriteErrors.Inc()
		}
		return nil, fmt.Errorf("flag %s for wallet %s: %w", in.Type, in.WalletID, err)
	}

	l.reportFlag(flag)
	return flag, nil
}

// insertFlag writes a flag inside an open ledger transaction.
func (l *Ledger) insertFlag(ctx context.Context, tx storage.LedgerTx, now time.Time, in FlagInput) (*domain.Flag, error) {
	f := &domain.Flag{
		ID:          l.newID(),
		PositionID:  in.PositionID,
		TradeRef:    in.TradeRef,
		WalletID:    in.WalletID,
		Type:        in.Type,
		Severity:    in.Severity,
		Description: in.Description,
		CreatedAt:   now,
	}
	if err := tx.InsertFlag(ctx, f); err != nil {
		return nil, fmt.Errorf("insert %s flag: %w", in.Type, err)
	}
	return f, nil
}

// reportFlag logs a committed flag at the level matching its severity.
func (l *Ledger) reportFlag(f *domain.Flag) {
	fields := []zap.Field{
		zap.String("flag_id", f.ID),
		zap.String("flag_type", string(f.Type)),
		zap.String("severity", string(f.Severity)),
		zap.String("wallet_id", f.WalletID),
		zap.String("description", f.Description),
	}
	if f.PositionID != nil {
		fields = append(fields, zap.String("position_id", *f.PositionID))
	}
	if f.TradeRef != nil {
		fields = append(fields, zap.String("trade_ref", *f.TradeRef))
	}

	switch f.Severity {
	case domain.SeverityCritical:
		l.logger.Error("flag raised", fields...)
	case domain.SeverityWarning:
		l.logger.Warn("flag raised", fields...)
	default:
		l.logger.Info("flag raised", fields...)
	}

	if l.metrics != nil {
		l.metrics.FlagsRaised.WithLabelValues(string(f.Type), string(f.Severity)).Inc()
	}
}
