package memory

import (
	"context"
	"sort"
	"sync"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore and storage.FlagStore.
// A transaction holds the store lock for its whole duration and stages its writes,
// so concurrent transactions are fully serialized and a failed one leaves no trace.
type LedgerStore struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position // keyed by id
	flags     map[string]*domain.Flag     // keyed by id
	flagSeq   map[string]int              // insertion order, for stable listing
	nextSeq   int
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		positions: make(map[string]*domain.Position),
		flags:     make(map[string]*domain.Flag),
		flagSeq:   make(map[string]int),
	}
}

// InTx runs fn with exclusive access to the store. Staged writes are applied
// only when fn returns nil.
func (s *LedgerStore) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &ledgerTx{
		store:     s,
		positions: make(map[string]*domain.Position),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, p := range tx.positions {
		s.positions[id] = p
	}
	for _, f := range tx.flags {
		s.flags[f.ID] = f
		s.flagSeq[f.ID] = s.nextSeq
		s.nextSeq++
	}
	return nil
}

// GetOpenPosition returns the OPEN or PARTIAL position for (wallet, token).
func (s *LedgerStore) GetOpenPosition(_ context.Context, walletID, token string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.WalletID == walletID && p.Token == token && p.State.IsActive() {
			return p.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetPosition retrieves a position by id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetPosition(_ context.Context, id string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// ListPositions returns a wallet's positions ordered by created_at DESC.
func (s *LedgerStore) ListPositions(_ context.Context, walletID string, opts storage.ListOpts) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.positions {
		if p.WalletID != walletID {
			continue
		}
		if opts.Since != nil && p.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !p.CreatedAt.Before(*opts.Until) {
			continue
		}
		result = append(result, p.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetFlag retrieves a flag by id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetFlag(_ context.Context, id string) (*domain.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flags[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return f.Clone(), nil
}

// ListFlags returns flags matching filter, newest first.
func (s *LedgerStore) ListFlags(_ context.Context, filter storage.FlagFilter) ([]*domain.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Flag
	for _, f := range s.flags {
		if filter.Matches(f) {
			result = append(result, f.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return s.flagSeq[result[i].ID] > s.flagSeq[result[j].ID]
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, 0, filter.Limit), nil
}

// ResolveFlag marks a flag resolved.
func (s *LedgerStore) ResolveFlag(_ context.Context, id string, r domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[id]
	if !ok {
		return storage.ErrNotFound
	}
	if f.Resolved {
		return storage.ErrAlreadyResolved
	}

	resolved := f.Clone()
	resolved.Resolved = true
	resolved.ResolvedBy = &r.ResolvedBy
	if r.Notes != "" {
		notes := r.Notes
		resolved.ResolutionNotes = &notes
	}
	at := r.ResolvedAt
	resolved.ResolvedAt = &at
	s.flags[id] = resolved
	return nil
}

// ledgerTx stages writes on top of the committed store state.
type ledgerTx struct {
	store     *LedgerStore
	positions map[string]*domain.Position // staged inserts and updates, keyed by id
	flags     []*domain.Flag
}

// lookup returns the staged version of a position if any, else the committed one.
func (tx *ledgerTx) lookup(id string) (*domain.Position, bool) {
	if p, ok := tx.positions[id]; ok {
		return p, true
	}
	p, ok := tx.store.positions[id]
	return p, ok
}

// activeFor finds the OPEN/PARTIAL position for (wallet, token) as seen by this tx.
func (tx *ledgerTx) activeFor(walletID, token string) *domain.Position {
	for id := range tx.positions {
		p := tx.positions[id]
		if p.WalletID == walletID && p.Token == token && p.State.IsActive() {
			return p
		}
	}
	for id, p := range tx.store.positions {
		if _, staged := tx.positions[id]; staged {
			continue
		}
		if p.WalletID == walletID && p.Token == token && p.State.IsActive() {
			return p
		}
	}
	return nil
}

func (tx *ledgerTx) GetOpenPositionForUpdate(_ context.Context, walletID, token string) (*domain.Position, error) {
	p := tx.activeFor(walletID, token)
	if p == nil {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (tx *ledgerTx) GetPosition(_ context.Context, id string) (*domain.Position, error) {
	p, ok := tx.lookup(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (tx *ledgerTx) InsertPosition(_ context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" || p.WalletID == "" || p.Token == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := tx.lookup(p.ID); exists {
		return storage.ErrDuplicateKey
	}
	if p.State.IsActive() && tx.activeFor(p.WalletID, p.Token) != nil {
		return storage.ErrConflict
	}
	tx.positions[p.ID] = p.Clone()
	return nil
}

func (tx *ledgerTx) UpdatePosition(_ context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := tx.lookup(p.ID); !exists {
		return storage.ErrNotFound
	}
	tx.positions[p.ID] = p.Clone()
	return nil
}

func (tx *ledgerTx) InsertFlag(_ context.Context, f *domain.Flag) error {
	if f == nil || f.ID == "" || f.WalletID == "" {
		return storage.ErrInvalidInput
	}
	if f.PositionID != nil {
		if _, exists := tx.lookup(*f.PositionID); !exists {
			return storage.ErrInvalidInput
		}
	}
	if _, exists := tx.store.flags[f.ID]; exists {
		return storage.ErrDuplicateKey
	}
	for _, staged := range tx.flags {
		if staged.ID == f.ID {
			return storage.ErrDuplicateKey
		}
	}
	tx.flags = append(tx.flags, f.Clone())
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ storage.LedgerStore = (*LedgerStore)(nil)
	_ storage.FlagStore   = (*LedgerStore)(nil)
)
