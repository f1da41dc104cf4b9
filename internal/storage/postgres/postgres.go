package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"solana-swap-ledger/internal/storage"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
// maxConns <= 0 keeps the pgxpool default.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation      = "23505" // unique_violation
	pgErrSerializationFailure = "40001" // serialization_failure
	pgErrDeadlockDetected     = "40P01" // deadlock_detected
	pgErrInvalidText          = "22P02" // invalid_text_representation
	pgErrForeignKeyViolation  = "23503" // foreign_key_violation
)

// activePositionIndex is the partial unique index guarding one OPEN/PARTIAL row per pair.
const activePositionIndex = "positions_one_active_idx"

func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgErrUniqueViolation
}

// isActivePositionConflict checks if error is a second OPEN/PARTIAL row for a pair.
func isActivePositionConflict(err error) bool {
	code, constraint := pgErrorCode(err)
	return code == pgErrUniqueViolation && constraint == activePositionIndex
}

// isRetryableError checks for serialization failures and deadlocks.
func isRetryableError(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgErrSerializationFailure || code == pgErrDeadlockDetected
}

// isInvalidIDError checks if a parameter failed to parse, e.g. a malformed uuid.
func isInvalidIDError(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgErrInvalidText
}

// isForeignKeyError checks if a referenced row does not exist.
func isForeignKeyError(err error) bool {
	code, _ := pgErrorCode(err)
	return code == pgErrForeignKeyViolation
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// classifyTxError maps transaction-level failures to storage sentinels.
func classifyTxError(op string, err error) error {
	switch {
	case isActivePositionConflict(err), isRetryableError(err):
		return fmt.Errorf("%s: %w (%v)", op, storage.ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
