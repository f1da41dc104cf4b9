package memory

import (
	"context"
	"sort"
	"sync"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/storage"
)

// LedgerEntryStore is an in-memory implementation of storage.LedgerEntryStore.
type LedgerEntryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LedgerEntry // keyed by entry_id
}

// NewLedgerEntryStore creates a new in-memory journal.
func NewLedgerEntryStore() *LedgerEntryStore {
	return &LedgerEntryStore{
		data: make(map[string]*domain.LedgerEntry),
	}
}

// Insert appends an entry. Returns ErrDuplicateKey if entry_id exists.
func (s *LedgerEntryStore) Insert(_ context.Context, e *domain.LedgerEntry) error {
	if e == nil || e.EntryID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EntryID]; exists {
		return storage.ErrDuplicateKey
	}

	entry := *e
	s.data[e.EntryID] = &entry
	return nil
}

// GetByWallet retrieves a wallet's entries ordered by recorded_at ASC.
func (s *LedgerEntryStore) GetByWallet(_ context.Context, walletID string) ([]*domain.LedgerEntry, error) {
	return s.filter(func(e *domain.LedgerEntry) bool { return e.WalletID == walletID }), nil
}

// GetByPosition retrieves a position's entries ordered by recorded_at ASC.
func (s *LedgerEntryStore) GetByPosition(_ context.Context, positionID string) ([]*domain.LedgerEntry, error) {
	return s.filter(func(e *domain.LedgerEntry) bool { return e.PositionID == positionID }), nil
}

func (s *LedgerEntryStore) filter(keep func(*domain.LedgerEntry) bool) []*domain.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEntry
	for _, e := range s.data {
		if keep(e) {
			entry := *e
			result = append(result, &entry)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].RecordedAt.Equal(result[j].RecordedAt) {
			return result[i].EntryID < result[j].EntryID
		}
		return result[i].RecordedAt.Before(result[j].RecordedAt)
	})

	return result
}

var _ storage.LedgerEntryStore = (*LedgerEntryStore)(nil)
