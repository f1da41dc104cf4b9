package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
)

// LedgerStore implements storage.LedgerStore and storage.FlagStore using PostgreSQL.
// Transactions run at READ COMMITTED and lock the open position with SELECT ... FOR UPDATE,
// so concurrent sells on the same pair serialize on the row.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.LedgerStore = (*LedgerStore)(nil)
	_ storage.FlagStore   = (*LedgerStore)(nil)
)

// Numeric columns are read as text and parsed through domain.ParseDecimal.
const positionColumns = `
	id::text, wallet_id, token, state,
	entry_amount::text, entry_cost::text, avg_entry_price::text, remaining_amount::text,
	exit_amount::text, exit_proceeds::text, realized_pnl::text,
	first_entry_at, last_exit_at, closed_at,
	last_trade_ref, created_at, updated_at
`

const flagColumns = `
	id::text, position_id::text, trade_ref, wallet_id, flag_type, severity, description,
	resolved, resolved_by, resolution_notes, resolved_at, created_at
`

// InTx runs fn in a READ COMMITTED transaction. Commits when fn returns nil,
// rolls back on error or panic.
func (s *LedgerStore) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.LedgerTx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return classifyTxError("commit tx", err)
	}
	return nil
}

// GetOpenPosition returns the OPEN or PARTIAL position for (wallet, token).
func (s *LedgerStore) GetOpenPosition(ctx context.Context, walletID, token string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE wallet_id = $1 AND token = $2 AND state IN ('OPEN', 'PARTIAL')
	`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, walletID, token))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get open position: %w", err)
	}
	return p, nil
}

// GetPosition retrieves a position by id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) || isInvalidIDError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// ListPositions returns a wallet's positions ordered by created_at DESC.
func (s *LedgerStore) ListPositions(ctx context.Context, walletID string, opts storage.ListOpts) ([]*domain.Position, error) {
	where := []string{"wallet_id = $1"}
	args := []any{walletID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + positionColumns + ` FROM positions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	query += limitOffset(&args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}

// GetFlag retrieves a flag by id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetFlag(ctx context.Context, id string) (*domain.Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM position_flags WHERE id = $1`

	f, err := scanFlag(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) || isInvalidIDError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get flag by id: %w", err)
	}
	return f, nil
}

// ListFlags returns flags matching filter, newest first.
func (s *LedgerStore) ListFlags(ctx context.Context, filter storage.FlagFilter) ([]*domain.Flag, error) {
	var where []string
	var args []any

	if filter.WalletID != "" {
		args = append(args, filter.WalletID)
		where = append(where, fmt.Sprintf("wallet_id = $%d", len(args)))
	}
	if filter.PositionID != "" {
		args = append(args, filter.PositionID)
		where = append(where, fmt.Sprintf("position_id::text = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("flag_type = $%d", len(args)))
	}
	if filter.UnresolvedOnly {
		where = append(where, "NOT resolved")
	}

	query := `SELECT ` + flagColumns + ` FROM position_flags`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	query += limitOffset(&args, filter.Limit, 0)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var result []*domain.Flag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}
	return result, nil
}

// ResolveFlag marks a flag resolved. Only unresolved rows are touched.
func (s *LedgerStore) ResolveFlag(ctx context.Context, id string, r domain.Resolution) error {
	var notes *string
	if r.Notes != "" {
		notes = &r.Notes
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE position_flags
		SET resolved = TRUE, resolved_by = $2, resolution_notes = $3, resolved_at = $4
		WHERE id = $1 AND NOT resolved
	`, id, r.ResolvedBy, notes, r.ResolvedAt)
	if err != nil {
		if isInvalidIDError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("resolve flag: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetFlag(ctx, id); err != nil {
		return err
	}
	return storage.ErrAlreadyResolved
}

// ledgerTx implements storage.LedgerTx on a pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) GetOpenPositionForUpdate(ctx context.Context, walletID, token string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE wallet_id = $1 AND token = $2 AND state IN ('OPEN', 'PARTIAL')
		FOR UPDATE
	`

	p, err := scanPosition(t.tx.QueryRow(ctx, query, walletID, token))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, classifyTxError("lock open position", err)
	}
	return p, nil
}

func (t *ledgerTx) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) || isInvalidIDError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, classifyTxError("get position", err)
	}
	return p, nil
}

func (t *ledgerTx) InsertPosition(ctx context.Context, p *domain.Position) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO positions (
			id, wallet_id, token, state,
			entry_amount, entry_cost, avg_entry_price, remaining_amount,
			exit_amount, exit_proceeds, realized_pnl,
			first_entry_at, last_exit_at, closed_at,
			last_trade_ref, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16, $17
		)
	`,
		p.ID, p.WalletID, p.Token, string(p.State),
		p.EntryAmount.String(), p.EntryCost.String(), p.AvgEntryPrice.String(), p.RemainingAmount.String(),
		p.ExitAmount.String(), p.ExitProceeds.String(), p.RealizedPnL.String(),
		p.FirstEntryAt, p.LastExitAt, p.ClosedAt,
		p.LastTradeRef, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isActivePositionConflict(err) {
			return classifyTxError("insert position", err)
		}
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return classifyTxError("insert position", err)
	}
	return nil
}

func (t *ledgerTx) UpdatePosition(ctx context.Context, p *domain.Position) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE positions SET
			state = $2,
			entry_amount = $3, entry_cost = $4, avg_entry_price = $5, remaining_amount = $6,
			exit_amount = $7, exit_proceeds = $8, realized_pnl = $9,
			last_exit_at = $10, closed_at = $11,
			last_trade_ref = $12, updated_at = $13
		WHERE id = $1
	`,
		p.ID, string(p.State),
		p.EntryAmount.String(), p.EntryCost.String(), p.AvgEntryPrice.String(), p.RemainingAmount.String(),
		p.ExitAmount.String(), p.ExitProceeds.String(), p.RealizedPnL.String(),
		p.LastExitAt, p.ClosedAt,
		p.LastTradeRef, p.UpdatedAt,
	)
	if err != nil {
		return classifyTxError("update position", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) InsertFlag(ctx context.Context, f *domain.Flag) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO position_flags (
			id, position_id, trade_ref, wallet_id, flag_type, severity, description,
			resolved, resolved_by, resolution_notes, resolved_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12
		)
	`,
		f.ID, f.PositionID, f.TradeRef, f.WalletID, string(f.Type), string(f.Severity), f.Description,
		f.Resolved, f.ResolvedBy, f.ResolutionNotes, f.ResolvedAt, f.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isInvalidIDError(err) || isForeignKeyError(err) {
			return fmt.Errorf("insert flag: %w (%v)", storage.ErrInvalidInput, err)
		}
		return classifyTxError("insert flag", err)
	}
	return nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var state string
	var entryAmount, entryCost, avgPrice, remaining, exitAmount, exitProceeds, pnl string
	var lastExitAt, closedAt *time.Time

	err := row.Scan(
		&p.ID, &p.WalletID, &p.Token, &state,
		&entryAmount, &entryCost, &avgPrice, &remaining,
		&exitAmount, &exitProceeds, &pnl,
		&p.FirstEntryAt, &lastExitAt, &closedAt,
		&p.LastTradeRef, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.State = domain.PositionState(state)
	if !p.State.IsValid() {
		return nil, fmt.Errorf("position %s: unknown state %q", p.ID, state)
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"entry_amount", entryAmount, &p.EntryAmount},
		{"entry_cost", entryCost, &p.EntryCost},
		{"avg_entry_price", avgPrice, &p.AvgEntryPrice},
		{"remaining_amount", remaining, &p.RemainingAmount},
		{"exit_amount", exitAmount, &p.ExitAmount},
		{"exit_proceeds", exitProceeds, &p.ExitProceeds},
		{"realized_pnl", pnl, &p.RealizedPnL},
	}
	for _, f := range fields {
		d, err := domain.ParseDecimal(f.name, f.raw)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", p.ID, err)
		}
		*f.dst = d
	}

	p.FirstEntryAt = p.FirstEntryAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.LastExitAt = utcPtr(lastExitAt)
	p.ClosedAt = utcPtr(closedAt)
	return &p, nil
}

func scanFlag(row rowScanner) (*domain.Flag, error) {
	var f domain.Flag
	var flagType, severity string

	err := row.Scan(
		&f.ID, &f.PositionID, &f.TradeRef, &f.WalletID, &flagType, &severity, &f.Description,
		&f.Resolved, &f.ResolvedBy, &f.ResolutionNotes, &f.ResolvedAt, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Type = domain.FlagType(flagType)
	f.Severity = domain.Severity(severity)
	f.CreatedAt = f.CreatedAt.UTC()
	f.ResolvedAt = utcPtr(f.ResolvedAt)
	return &f, nil
}

func limitOffset(args *[]any, limit, offset int) string {
	var clause string
	if limit > 0 {
		*args = append(*args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
