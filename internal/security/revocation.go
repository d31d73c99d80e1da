package security

import (
	"context"
	"sync"
	"time"
)

// RevocationSet is the deny-list consulted on every token verification so a
// logout takes effect before the token's natural expiry. Entries carry a TTL
// equal to the revoked token's remaining life, which bounds the set's growth.
type RevocationSet interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type InMemoryRevocationSet struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewInMemoryRevocationSet() *InMemoryRevocationSet {
	return &InMemoryRevocationSet{entries: make(map[string]time.Time)}
}

func (s *InMemoryRevocationSet) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tokenID] = time.Now().UTC().Add(ttl)
	return nil
}

func (s *InMemoryRevocationSet) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	expiresAt, ok := s.entries[tokenID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		s.mu.Lock()
		if exp, ok := s.entries[tokenID]; ok && now.After(exp) {
			delete(s.entries, tokenID)
		}
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Sweep drops entries whose TTL has elapsed. Reads already treat stale
// entries as absent; the sweep only reclaims memory.
func (s *InMemoryRevocationSet) Sweep() int {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, expiresAt := range s.entries {
		if now.After(expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
