package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// IndicatorSnapshotStore is an in-memory implementation of
// storage.IndicatorSnapshotStore.
type IndicatorSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.IndicatorSnapshot
}

// NewIndicatorSnapshotStore creates a new in-memory snapshot store.
func NewIndicatorSnapshotStore() *IndicatorSnapshotStore {
	return &IndicatorSnapshotStore{
		data: make(map[string]map[int64]*domain.IndicatorSnapshot),
	}
}

// Compile-time interface check.
var _ storage.IndicatorSnapshotStore = (*IndicatorSnapshotStore)(nil)

// Insert adds a new snapshot. Returns ErrDuplicateKey if (symbol, bucket) exists.
func (s *IndicatorSnapshotStore) Insert(_ context.Context, snap *domain.IndicatorSnapshot) error {
	if snap == nil || snap.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, ok := s.data[snap.Symbol]
	if !ok {
		buckets = make(map[int64]*domain.IndicatorSnapshot)
		s.data[snap.Symbol] = buckets
	}

	key := snap.Bucket.UnixNano()
	if _, exists := buckets[key]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *snap
	buckets[key] = &cp
	return nil
}

// GetByBucket retrieves the snapshot for an exact bucket.
func (s *IndicatorSnapshotStore) GetByBucket(_ context.Context, symbol string, bucket time.Time) (*domain.IndicatorSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[symbol][bucket.UnixNano()]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *snap
	return &cp, nil
}

// GetLatest retrieves the newest snapshot for symbol.
func (s *IndicatorSnapshotStore) GetLatest(_ context.Context, symbol string) (*domain.IndicatorSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.IndicatorSnapshot
	for _, snap := range s.data[symbol] {
		if latest == nil || snap.Bucket.After(latest.Bucket) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}

	cp := *latest
	return &cp, nil
}

// GetRecent retrieves the last n snapshots for symbol, ordered by bucket ASC.
func (s *IndicatorSnapshotStore) GetRecent(_ context.Context, symbol string, n int) ([]*domain.IndicatorSnapshot, error) {
	if n <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.IndicatorSnapshot
	for _, snap := range s.data[symbol] {
		cp := *snap
		all = append(all, &cp)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Bucket.Before(all[j].Bucket)
	})

	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
