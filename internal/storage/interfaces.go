package storage

import (
	"context"
	"time"

	"solana-swap-ledger/internal/domain"
)

// LedgerTx is the set of operations available inside a ledger transaction.
// Every write made through it commits or rolls back together.
type LedgerTx interface {
	// GetOpenPositionForUpdate returns the OPEN or PARTIAL position for (wallet, token)
	// and locks it until the transaction ends. Returns ErrNotFound if none exists.
	GetOpenPositionForUpdate(ctx context.Context, walletID, token string) (*domain.Position, error)

	// GetPosition returns any position by id as seen by this transaction,
	// including rows it has written. Returns ErrNotFound if none exists.
	GetPosition(ctx context.Context, id string) (*domain.Position, error)

	// InsertPosition adds a new position. Returns ErrConflict if another OPEN/PARTIAL
	// position exists for the same (wallet, token).
	InsertPosition(ctx context.Context, p *domain.Position) error

	// UpdatePosition overwrites the mutable fields of an existing position.
	// Returns ErrNotFound if the row does not exist.
	UpdatePosition(ctx context.Context, p *domain.Position) error

	// InsertFlag adds a new flag. Returns ErrDuplicateKey if the id exists and
	// ErrInvalidInput if PositionID names no position.
	InsertFlag(ctx context.Context, f *domain.Flag) error
}

// LedgerStore provides transactional access to positions and position_flags.
type LedgerStore interface {
	// InTx runs fn inside a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. fn must only use the given LedgerTx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	// GetOpenPosition returns the OPEN or PARTIAL position for (wallet, token).
	// Returns ErrNotFound if none exists. CLOSED positions are never returned.
	GetOpenPosition(ctx context.Context, walletID, token string) (*domain.Position, error)

	// GetPosition retrieves any position by id. Returns ErrNotFound if not exists.
	GetPosition(ctx context.Context, id string) (*domain.Position, error)

	// ListPositions returns a wallet's positions, newest first.
	ListPositions(ctx context.Context, walletID string, opts ListOpts) ([]*domain.Position, error)
}

// FlagStore provides read and resolve access to position_flags.
type FlagStore interface {
	// GetFlag retrieves a flag by id. Returns ErrNotFound if not exists.
	GetFlag(ctx context.Context, id string) (*domain.Flag, error)

	// ListFlags returns flags matching filter, newest first.
	ListFlags(ctx context.Context, filter FlagFilter) ([]*domain.Flag, error)

	// ResolveFlag marks a flag resolved. Returns ErrNotFound if the flag does not
	// exist and ErrAlreadyResolved if it was resolved before.
	ResolveFlag(ctx context.Context, id string, r domain.Resolution) error
}

// LedgerEntryStore provides access to the ledger_entries journal.
type LedgerEntryStore interface {
	// Insert appends an entry. Returns ErrDuplicateKey if entry_id exists.
	Insert(ctx context.Context, e *domain.LedgerEntry) error

	// GetByWallet retrieves a wallet's entries ordered by recorded_at ASC.
	GetByWallet(ctx context.Context, walletID string) ([]*domain.LedgerEntry, error)

	// GetByPosition retrieves a position's entries ordered by recorded_at ASC.
	GetByPosition(ctx context.Context, positionID string) ([]*domain.LedgerEntry, error)
}

// Locker hands out named, expiring mutual-exclusion locks.
type Locker interface {
	// Acquire takes the lock for key until the returned release func runs or ttl expires.
	// Returns ErrLockHeld if another owner holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FlagFilter narrows ListFlags. Zero values mean "any".
type FlagFilter struct {
	WalletID       string
	PositionID     string
	Type           domain.FlagType
	UnresolvedOnly bool
	Limit          int
}

// Matches reports whether f passes the filter. Backends without a query
// language use it directly.
func (ff FlagFilter) Matches(f *domain.Flag) bool {
	if ff.WalletID != "" && f.WalletID != ff.WalletID {
		return false
	}
	if ff.PositionID != "" && (f.PositionID == nil || *f.PositionID != ff.PositionID) {
		return false
	}
	if ff.Type != "" && f.Type != ff.Type {
		return false
	}
	if ff.UnresolvedOnly && f.Resolved {
		return false
	}
	return true
}
