package memory

import (
	"context"
	"sort"
	"sync"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
// Writes arrive through the ledger transaction (see LedgerStore), mirroring
// how the postgres trade rows commit together with the position mutation.
type TradeStore struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Trade
	byDecision map[string]*domain.Trade
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		byID:       make(map[string]*domain.Trade),
		byDecision: make(map[string]*domain.Trade),
	}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// insert adds a trade. Called from the ledger transaction commit path.
func (s *TradeStore) insert(t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[t.TradeID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byDecision[t.DecisionID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *t
	s.byID[t.TradeID] = &cp
	s.byDecision[t.DecisionID] = &cp
	return nil
}

// checkDuplicate reports whether the trade would collide without inserting.
func (s *TradeStore) checkDuplicate(t *domain.Trade) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.byID[t.TradeID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byDecision[t.DecisionID]; exists {
		return storage.ErrDuplicateKey
	}
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(_ context.Context, tradeID string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[tradeID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *t
	return &cp, nil
}

// GetByDecisionID retrieves the trade executed for a decision.
func (s *TradeStore) GetByDecisionID(_ context.Context, decisionID string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byDecision[decisionID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *t
	return &cp, nil
}

// GetBySymbol retrieves all trades for symbol, ordered by executed_at ASC.
func (s *TradeStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.byID {
		if t.Symbol == symbol {
			cp := *t
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExecutedAt.Before(result[j].ExecutedAt)
	})

	return result, nil
}
