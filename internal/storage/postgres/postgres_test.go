package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"solana-swap-ledger/internal/storage"
)

func TestErrorClassification(t *testing.T) {
	active := &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: activePositionIndex}
	pkey := &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "positions_pkey"}
	serialization := &pgconn.PgError{Code: pgErrSerializationFailure}
	deadlock := &pgconn.PgError{Code: pgErrDeadlockDetected}
	badUUID := &pgconn.PgError{Code: pgErrInvalidText}
	missingRef := &pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "position_flags_position_id_fkey"}

	assert.True(t, isDuplicateKeyError(fmt.Errorf("wrapped: %w", pkey)))
	assert.True(t, isActivePositionConflict(active))
	assert.False(t, isActivePositionConflict(pkey))
	assert.True(t, isRetryableError(serialization))
	assert.True(t, isRetryableError(deadlock))
	assert.False(t, isRetryableError(pkey))
	assert.True(t, isInvalidIDError(badUUID))
	assert.True(t, isForeignKeyError(missingRef))
	assert.False(t, isForeignKeyError(pkey))
	assert.True(t, isNotFoundError(fmt.Errorf("x: %w", pgx.ErrNoRows)))
	assert.False(t, isDuplicateKeyError(errors.New("plain")))

	assert.ErrorIs(t, classifyTxError("insert", active), storage.ErrConflict)
	assert.ErrorIs(t, classifyTxError("commit", deadlock), storage.ErrConflict)
	assert.NotErrorIs(t, classifyTxError("insert", pkey), storage.ErrConflict)
}
