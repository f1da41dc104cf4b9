package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a transaction lost a race against a concurrent
	// writer (open-position uniqueness, serialization failure, deadlock).
	// Nothing was committed; the caller may retry the whole operation.
	ErrConflict = errors.New("conflict: concurrent ledger update, retry")

	// ErrAlreadyResolved is returned when resolving a flag that is already resolved.
	ErrAlreadyResolved = errors.New("flag already resolved")

	// ErrLockHeld is returned when a named lock is held by another owner.
	ErrLockHeld = errors.New("lock held")
)
