package memory

import (
	"context"
	"sync"
	"time"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// DecisionStore is an in-memory implementation of storage.DecisionStore.
type DecisionStore struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Decision
	byBucket map[bucketKey]*domain.Decision
}

type bucketKey struct {
	symbol string
	bucket int64
}

// NewDecisionStore creates a new in-memory decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{
		byID:     make(map[string]*domain.Decision),
		byBucket: make(map[bucketKey]*domain.Decision),
	}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// Insert adds a new decision. Returns ErrDuplicateKey if decision_id or
// (symbol, bucket) already exists.
func (s *DecisionStore) Insert(_ context.Context, d *domain.Decision) error {
	if d == nil || d.DecisionID == "" || d.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey{d.Symbol, d.Bucket.UnixNano()}
	if _, exists := s.byID[d.DecisionID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byBucket[key]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *d
	s.byID[d.DecisionID] = &cp
	s.byBucket[key] = &cp
	return nil
}

// GetByID retrieves a decision by its ID. Returns ErrNotFound if not exists.
func (s *DecisionStore) GetByID(_ context.Context, decisionID string) (*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[decisionID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *d
	return &cp, nil
}

// GetByBucket retrieves the decision for (symbol, bucket).
func (s *DecisionStore) GetByBucket(_ context.Context, symbol string, bucket time.Time) (*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byBucket[bucketKey{symbol, bucket.UnixNano()}]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *d
	return &cp, nil
}
