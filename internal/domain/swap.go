package domain

import "github.com/shopspring/decimal"

// VerifiedSwap is a swap whose transferred amounts were confirmed on-chain
// by the execution pipeline. The ledger consumes only these figures.
type VerifiedSwap struct {
	WalletID    string
	Token       string          // symbol of the traded (non-quote) token
	Side        string          // "buy" | "sell"
	AmountIn    decimal.Decimal // spent: quote for buys, token for sells
	AmountOut   decimal.Decimal // received: token for buys, quote for sells
	TxSignature string          // Solana transaction signature, used as trade reference
}

// Swap side constants
const (
	SwapSideBuy  = "buy"
	SwapSideSell = "sell"
)
