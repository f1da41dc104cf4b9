package clickhouse

import (
	"context"
	"fmt"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
)

// LedgerEntryStore implements storage.LedgerEntryStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by entry_id; reads use FINAL.
type LedgerEntryStore struct {
	conn *Conn
}

// NewLedgerEntryStore creates a new LedgerEntryStore.
func NewLedgerEntryStore(conn *Conn) *LedgerEntryStore {
	return &LedgerEntryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LedgerEntryStore = (*LedgerEntryStore)(nil)

const ledgerEntryColumns = `
	entry_id, position_id, wallet_id, token, side, trade_ref,
	amount, value, cost_basis, realized_pnl,
	state_after, remaining_after, avg_price_after, recorded_at
`

// Insert appends an entry. Returns ErrDuplicateKey if entry_id exists.
func (s *LedgerEntryStore) Insert(ctx context.Context, e *domain.LedgerEntry) error {
	if e == nil || e.EntryID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, e.EntryID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO ledger_entries ("+ledgerEntryColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.EntryID, e.PositionID, e.WalletID, e.Token, string(e.Side), e.TradeRef,
		e.Amount, e.Value, e.CostBasis, e.RealizedPnL,
		string(e.StateAfter), e.RemainingAfter, e.AvgPriceAfter, e.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByWallet retrieves a wallet's entries ordered by recorded_at ASC.
func (s *LedgerEntryStore) GetByWallet(ctx context.Context, walletID string) ([]*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerEntryColumns + `
		FROM ledger_entries FINAL
		WHERE wallet_id = ?
		ORDER BY recorded_at ASC, entry_id ASC
	`

	rows, err := s.conn.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("query by wallet: %w", err)
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// GetByPosition retrieves a position's entries ordered by recorded_at ASC.
func (s *LedgerEntryStore) GetByPosition(ctx context.Context, positionID string) ([]*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerEntryColumns + `
		FROM ledger_entries FINAL
		WHERE position_id = ?
		ORDER BY recorded_at ASC, entry_id ASC
	`

	rows, err := s.conn.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query by position: %w", err)
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *LedgerEntryStore) exists(ctx context.Context, entryID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM ledger_entries WHERE entry_id = ?`, entryID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanLedgerEntries(rows chRows) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry

	for rows.Next() {
		var e domain.LedgerEntry
		var side, stateAfter string

		err := rows.Scan(
			&e.EntryID, &e.PositionID, &e.WalletID, &e.Token, &side, &e.TradeRef,
			&e.Amount, &e.Value, &e.CostBasis, &e.RealizedPnL,
			&stateAfter, &e.RemainingAfter, &e.AvgPriceAfter, &e.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry row: %w", err)
		}

		e.Side = domain.EntrySide(side)
		e.StateAfter = domain.PositionState(stateAfter)
		e.RecordedAt = e.RecordedAt.UTC()
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entry rows: %w", err)
	}

	return entries, nil
}
