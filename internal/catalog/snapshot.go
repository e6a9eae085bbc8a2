package catalog

import (
	"sync"
	"time"

	"kasirkita/backend/internal/domain"
)

// Snapshot is a live, read-only view of the full catalog keyed by code.
// Readers may observe values that are stale relative to the persisted
// catalog; that is acceptable because the checkout transaction re-validates
// against fresh reads before writing.
type Snapshot struct {
	mu        sync.RWMutex
	byCode    map[string]domain.Product
	version   int64
	updatedAt time.Time
}

func NewSnapshot() *Snapshot {
	return &Snapshot{byCode: make(map[string]domain.Product)}
}

// Replace swaps in the full product set and bumps the version.
func (s *Snapshot) Replace(products []domain.Product) {
	byCode := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byCode[p.Code] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCode = byCode
	s.version++
	s.updatedAt = time.Now().UTC()
}

func (s *Snapshot) Get(code string) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byCode[code]
	return p, ok
}

func (s *Snapshot) All() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.byCode))
	for _, p := range s.byCode {
		out = append(out, p)
	}
	return out
}

func (s *Snapshot) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Snapshot) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
