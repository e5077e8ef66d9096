package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
// A per-symbol mutex plays the role of the postgres row locks: concurrent
// Transact calls serialize, and fn operates on staged copies that are only
// published on success, so a failed transaction leaves no trace.
type LedgerStore struct {
	mu     sync.Mutex
	ledger map[string]*ledgerEntry
	trades *TradeStore
}

type ledgerEntry struct {
	mu        sync.Mutex
	position  *domain.Position
	portfolio *domain.PortfolioBalance
}

// NewLedgerStore creates a new in-memory ledger store writing trades into
// the given trade store.
func NewLedgerStore(trades *TradeStore) *LedgerStore {
	return &LedgerStore{
		ledger: make(map[string]*ledgerEntry),
		trades: trades,
	}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// Transact runs fn with the symbol's singleton aggregate exclusively locked.
func (s *LedgerStore) Transact(_ context.Context, symbol string, fn func(tx storage.LedgerTx) error) error {
	entry, err := s.entry(symbol)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	tx := &ledgerTx{entry: entry, trades: s.trades}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// GetPosition reads the current position.
func (s *LedgerStore) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	entry, err := s.entry(symbol)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	cp := clonePosition(entry.position)
	return cp, nil
}

// GetPortfolio reads the current portfolio balance.
func (s *LedgerStore) GetPortfolio(_ context.Context, symbol string) (*domain.PortfolioBalance, error) {
	entry, err := s.entry(symbol)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	cp := clonePortfolio(entry.portfolio)
	return cp, nil
}

// Seed inserts the singleton rows for symbol if absent. Idempotent.
func (s *LedgerStore) Seed(_ context.Context, symbol string, initialCash decimal.Decimal) error {
	if symbol == "" || initialCash.Sign() < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ledger[symbol]; exists {
		return nil
	}

	now := time.Now().UTC()
	s.ledger[symbol] = &ledgerEntry{
		position:  domain.NewFlatPosition(symbol, now),
		portfolio: domain.NewPortfolioBalance(symbol, initialCash, now),
	}
	return nil
}

func (s *LedgerStore) entry(symbol string) (*ledgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.ledger[symbol]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return entry, nil
}

// ledgerTx stages writes against copies; commit publishes them atomically.
type ledgerTx struct {
	entry  *ledgerEntry
	trades *TradeStore

	stagedPosition  *domain.Position
	stagedPortfolio *domain.PortfolioBalance
	stagedTrades    []*domain.Trade
}

// Compile-time interface check.
var _ storage.LedgerTx = (*ledgerTx)(nil)

// Position returns the locked position state.
func (tx *ledgerTx) Position(_ context.Context) (*domain.Position, error) {
	return clonePosition(tx.entry.position), nil
}

// Portfolio returns the locked portfolio state.
func (tx *ledgerTx) Portfolio(_ context.Context) (*domain.PortfolioBalance, error) {
	return clonePortfolio(tx.entry.portfolio), nil
}

// InsertTrade stages a trade row.
func (tx *ledgerTx) InsertTrade(_ context.Context, t *domain.Trade) error {
	if t == nil || t.TradeID == "" || t.DecisionID == "" {
		return storage.ErrInvalidInput
	}
	// Surface the duplicate now, like the unique index would.
	if err := tx.trades.checkDuplicate(t); err != nil {
		return err
	}

	cp := *t
	tx.stagedTrades = append(tx.stagedTrades, &cp)
	return nil
}

// SavePosition stages the mutated position row.
func (tx *ledgerTx) SavePosition(_ context.Context, p *domain.Position) error {
	if err := p.CheckInvariant(); err != nil {
		return storage.ErrInvalidInput
	}
	tx.stagedPosition = clonePosition(p)
	return nil
}

// SavePortfolio stages the mutated portfolio row.
func (tx *ledgerTx) SavePortfolio(_ context.Context, b *domain.PortfolioBalance) error {
	if err := b.CheckInvariant(); err != nil {
		return storage.ErrInvalidInput
	}
	tx.stagedPortfolio = clonePortfolio(b)
	return nil
}

// commit publishes all staged writes.
func (tx *ledgerTx) commit() error {
	for _, t := range tx.stagedTrades {
		if err := tx.trades.insert(t); err != nil {
			return err
		}
	}
	if tx.stagedPosition != nil {
		tx.entry.position = tx.stagedPosition
	}
	if tx.stagedPortfolio != nil {
		tx.entry.portfolio = tx.stagedPortfolio
	}
	return nil
}

func clonePosition(p *domain.Position) *domain.Position {
	cp := *p
	if p.EntryPrice != nil {
		v := *p.EntryPrice
		cp.EntryPrice = &v
	}
	if p.EntryBucket != nil {
		v := *p.EntryBucket
		cp.EntryBucket = &v
	}
	if p.Size != nil {
		v := *p.Size
		cp.Size = &v
	}
	return &cp
}

func clonePortfolio(b *domain.PortfolioBalance) *domain.PortfolioBalance {
	cp := *b
	if b.AvgEntryPrice != nil {
		v := *b.AvgEntryPrice
		cp.AvgEntryPrice = &v
	}
	return &cp
}
