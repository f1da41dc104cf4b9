package ledger

import (
	"context"
	"fmt"

	"solana-swap-ledger/internal/domain"
)

// SwapResult is the outcome of ApplySwap. Sell is nil for buys.
type SwapResult struct {
	Position *domain.Position
	Sell     *SellResult
}

// ApplySwap records a verified swap. A buy receives AmountOut tokens for AmountIn quote;
// a sell spends AmountIn tokens for AmountOut quote. The transaction signature is the
// trade reference.
func (l *Ledger) ApplySwap(ctx context.Context, s domain.VerifiedSwap) (*SwapResult, error) {
	switch s.Side {
	case domain.SwapSideBuy:
		p, err := l.RecordBuy(ctx, BuyInput{
			WalletID: s.WalletID,
			Token:    s.Token,
			Amount:   s.AmountOut,
			Cost:     s.AmountIn,
			TradeRef: s.TxSignature,
		})
		if err != nil {
			return nil, err
		}
		return &SwapResult{Position: p}, nil

	case domain.SwapSideSell:
		r, err := l.RecordSell(ctx, SellInput{
			WalletID: s.WalletID,
			Token:    s.Token,
			Amount:   s.AmountIn,
			Proceeds: s.AmountOut,
			TradeRef: s.TxSignature,
		})
		if err != nil {
			return nil, err
		}
		return &SwapResult{Position: r.Position, Sell: r}, nil

	default:
		return nil, fmt.Errorf("%w: unknown swap side %q", ErrInvalidInput, s.Side)
	}
}
