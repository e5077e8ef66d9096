package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.Candle // symbol -> bucket unix -> candle
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]map[int64]*domain.Candle),
	}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Insert adds a new candle. Returns ErrDuplicateKey if (symbol, bucket) exists.
func (s *CandleStore) Insert(_ context.Context, c *domain.Candle) error {
	if c == nil || c.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, ok := s.data[c.Symbol]
	if !ok {
		buckets = make(map[int64]*domain.Candle)
		s.data[c.Symbol] = buckets
	}

	key := c.Bucket.UnixNano()
	if _, exists := buckets[key]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *c
	buckets[key] = &cp
	return nil
}

// GetByBucket retrieves the candle for an exact bucket.
func (s *CandleStore) GetByBucket(_ context.Context, symbol string, bucket time.Time) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[symbol][bucket.UnixNano()]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *c
	return &cp, nil
}

// GetLatest retrieves the newest candle for symbol.
func (s *CandleStore) GetLatest(_ context.Context, symbol string) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Candle
	for _, c := range s.data[symbol] {
		if latest == nil || c.Bucket.After(latest.Bucket) {
			latest = c
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}

	cp := *latest
	return &cp, nil
}

// GetRecent retrieves the last n candles for symbol, ordered by bucket ASC.
func (s *CandleStore) GetRecent(_ context.Context, symbol string, n int) ([]*domain.Candle, error) {
	if n <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.Candle
	for _, c := range s.data[symbol] {
		cp := *c
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

// GetBetween retrieves candles with after < bucket < before, ordered by bucket ASC.
func (s *CandleStore) GetBetween(_ context.Context, symbol string, after, before time.Time) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Candle
	for _, c := range s.data[symbol] {
		if c.Bucket.After(after) && c.Bucket.Before(before) {
			cp := *c
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Bucket.Before(out[j].Bucket)
	})
	return out, nil
}
