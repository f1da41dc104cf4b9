package api

import (
	"time"

	"github.com/shopspring/decimal"

	"solana-swap-ledger/internal/domain"
)

// Decimals travel as JSON strings; shopspring/decimal also accepts bare numbers on input.

type buyRequest struct {
	WalletID string          `json:"wallet_id"`
	Token    string          `json:"token"`
	Amount   decimal.Decimal `json:"amount"`
	Cost     decimal.Decimal `json:"cost"`
	TradeRef string          `json:"trade_ref"`
}

type sellRequest struct {
	WalletID string          `json:"wallet_id"`
	Token    string          `json:"token"`
	Amount   decimal.Decimal `json:"amount"`
	Proceeds decimal.Decimal `json:"proceeds"`
	TradeRef string          `json:"trade_ref"`
}

type swapRequest struct {
	WalletID    string          `json:"wallet_id"`
	Token       string          `json:"token"`
	Side        string          `json:"side"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	AmountOut   decimal.Decimal `json:"amount_out"`
	TxSignature string          `json:"tx_signature"`
}

type flagRequest struct {
	PositionID  *string `json:"position_id,omitempty"`
	TradeRef    *string `json:"trade_ref,omitempty"`
	WalletID    string  `json:"wallet_id"`
	Type        string  `json:"flag_type"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
}

type positionResponse struct {
	ID              string          `json:"id"`
	WalletID        string          `json:"wallet_id"`
	Token           string          `json:"token"`
	State           string          `json:"state"`
	EntryAmount     decimal.Decimal `json:"entry_amount"`
	EntryCost       decimal.Decimal `json:"entry_cost"`
	AvgEntryPrice   decimal.Decimal `json:"avg_entry_price"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	ExitAmount      decimal.Decimal `json:"exit_amount"`
	ExitProceeds    decimal.Decimal `json:"exit_proceeds"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	FirstEntryAt    time.Time       `json:"first_entry_at"`
	LastExitAt      *time.Time      `json:"last_exit_at,omitempty"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	LastTradeRef    string          `json:"last_trade_ref"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toPosition(p *domain.Position) *positionResponse {
	if p == nil {
		return nil
	}
	return &positionResponse{
		ID:              p.ID,
		WalletID:        p.WalletID,
		Token:           p.Token,
		State:           string(p.State),
		EntryAmount:     p.EntryAmount,
		EntryCost:       p.EntryCost,
		AvgEntryPrice:   p.AvgEntryPrice,
		RemainingAmount: p.RemainingAmount,
		ExitAmount:      p.ExitAmount,
		ExitProceeds:    p.ExitProceeds,
		RealizedPnL:     p.RealizedPnL,
		FirstEntryAt:    p.FirstEntryAt,
		LastExitAt:      p.LastExitAt,
		ClosedAt:        p.ClosedAt,
		LastTradeRef:    p.LastTradeRef,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type sellResponse struct {
	Position    *positionResponse `json:"position"`
	RealizedPnL decimal.Decimal   `json:"realized_pnl"`
	CostBasis   decimal.Decimal   `json:"cost_basis"`
}

type flagResponse struct {
	ID              string     `json:"id"`
	PositionID      *string    `json:"position_id,omitempty"`
	TradeRef        *string    `json:"trade_ref,omitempty"`
	WalletID        string     `json:"wallet_id"`
	Type            string     `json:"flag_type"`
	Severity        string     `json:"severity"`
	Description     string     `json:"description"`
	Resolved        bool       `json:"resolved"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
	ResolutionNotes *string    `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toFlag(f *domain.Flag) *flagResponse {
	return &flagResponse{
		ID:              f.ID,
		PositionID:      f.PositionID,
		TradeRef:        f.TradeRef,
		WalletID:        f.WalletID,
		Type:            string(f.Type),
		Severity:        string(f.Severity),
		Description:     f.Description,
		Resolved:        f.Resolved,
		ResolvedBy:      f.ResolvedBy,
		ResolutionNotes: f.ResolutionNotes,
		ResolvedAt:      f.ResolvedAt,
		CreatedAt:       f.CreatedAt,
	}
}

type entryResponse struct {
	EntryID        string          `json:"entry_id"`
	PositionID     string          `json:"position_id"`
	WalletID       string          `json:"wallet_id"`
	Token          string          `json:"token"`
	Side           string          `json:"side"`
	TradeRef       string          `json:"trade_ref"`
	Amount         decimal.Decimal `json:"amount"`
	Value          decimal.Decimal `json:"value"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	StateAfter     string          `json:"state_after"`
	RemainingAfter decimal.Decimal `json:"remaining_after"`
	AvgPriceAfter  decimal.Decimal `json:"avg_price_after"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

func toEntry(e *domain.LedgerEntry) entryResponse {
	return entryResponse{
		EntryID:        e.EntryID,
		PositionID:     e.PositionID,
		WalletID:       e.WalletID,
		Token:          e.Token,
		Side:           string(e.Side),
		TradeRef:       e.TradeRef,
		Amount:         e.Amount,
		Value:          e.Value,
		CostBasis:      e.CostBasis,
		RealizedPnL:    e.RealizedPnL,
		StateAfter:     string(e.StateAfter),
		RemainingAfter: e.RemainingAfter,
		AvgPriceAfter:  e.AvgPriceAfter,
		RecordedAt:     e.RecordedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
