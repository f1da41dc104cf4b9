package stub

import (
	"context"
	"errors"
	"sync"

	"solana-swap-ledger/internal/solana"
)

// Subscriber implements solana.AccountSubscriber for testing.
type Subscriber struct {
	mu     sync.Mutex
	subs   map[string]chan solana.AccountNotification
	closed bool
}

// NewSubscriber creates a new stub subscriber.
func NewSubscriber() *Subscriber {
	return &Subscriber{subs: make(map[string]chan solana.AccountNotification)}
}

// SubscribeAccount registers a channel for address.
func (s *Subscriber) SubscribeAccount(_ context.Context, address string) (<-chan solana.AccountNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("subscriber closed")
	}
	ch, ok := s.subs[address]
	if !ok {
		ch = make(chan solana.AccountNotification, 16)
		s.subs[address] = ch
	}
	return ch, nil
}

// Subscribed reports whether address has a subscription.
func (s *Subscriber) Subscribed(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[address]
	return ok
}

// Notify delivers n to the subscriber of n.Address. It reports false when nobody subscribed.
func (s *Subscriber) Notify(n solana.AccountNotification) bool {
	s.mu.Lock()
	ch, ok := s.subs[n.Address]
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- n
	return true
}

// Close closes every subscription channel.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for addr, ch := range s.subs {
		close(ch)
		delete(s.subs, addr)
	}
	return nil
}
