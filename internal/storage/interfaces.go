package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
)

// CandleStore provides access to candles storage. Candles are strictly
// append-only: one row per (symbol, bucket), never updated or deleted.
type CandleStore interface {
	// Insert adds a new candle. Returns ErrDuplicateKey if (symbol, bucket) exists.
	Insert(ctx context.Context, c *domain.Candle) error

	// GetByBucket retrieves the candle for an exact bucket.
	// Returns ErrNotFound if not exists.
	GetByBucket(ctx context.Context, symbol string, bucket time.Time) (*domain.Candle, error)

	// GetLatest retrieves the newest candle for symbol. Returns ErrNotFound
	// if no candle exists.
	GetLatest(ctx context.Context, symbol string) (*domain.Candle, error)

	// GetRecent retrieves the last n candles for symbol, ordered by bucket ASC.
	GetRecent(ctx context.Context, symbol string, n int) ([]*domain.Candle, error)

	// GetBetween retrieves candles with after < bucket < before, ordered by
	// bucket ASC.
	GetBetween(ctx context.Context, symbol string, after, before time.Time) ([]*domain.Candle, error)
}

// IndicatorSnapshotStore provides access to indicator_snapshots storage.
type IndicatorSnapshotStore interface {
	// Insert adds a new snapshot. Returns ErrDuplicateKey if (symbol, bucket) exists.
	Insert(ctx context.Context, s *domain.IndicatorSnapshot) error

	// GetByBucket retrieves the snapshot for an exact bucket.
	// Returns ErrNotFound if not exists.
	GetByBucket(ctx context.Context, symbol string, bucket time.Time) (*domain.IndicatorSnapshot, error)

	// GetLatest retrieves the newest snapshot for symbol. Returns ErrNotFound
	// if no snapshot exists.
	GetLatest(ctx context.Context, symbol string) (*domain.IndicatorSnapshot, error)

	// GetRecent retrieves the last n snapshots for symbol, ordered by bucket ASC.
	GetRecent(ctx context.Context, symbol string, n int) ([]*domain.IndicatorSnapshot, error)
}

// DecisionStore provides access to decisions storage.
type DecisionStore interface {
	// Insert adds a new decision. Returns ErrDuplicateKey if decision_id
	// or (symbol, bucket) already exists. Decisions are never overwritten.
	Insert(ctx context.Context, d *domain.Decision) error

	// GetByID retrieves a decision by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, decisionID string) (*domain.Decision, error)

	// GetByBucket retrieves the decision for (symbol, bucket).
	// Returns ErrNotFound if not exists.
	GetByBucket(ctx context.Context, symbol string, bucket time.Time) (*domain.Decision, error)
}

// TradeStore provides read access to trades storage. Inserts happen only
// inside a LedgerTx so the trade row commits atomically with the
// position/portfolio mutation.
type TradeStore interface {
	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.Trade, error)

	// GetByDecisionID retrieves the trade executed for a decision.
	// Returns ErrNotFound if the decision has not executed.
	GetByDecisionID(ctx context.Context, decisionID string) (*domain.Trade, error)

	// GetBySymbol retrieves all trades for symbol, ordered by executed_at ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error)
}

// LedgerTx is the unit of work over the locked singleton rows. All reads
// observe the locked state; all writes commit or roll back as one unit.
type LedgerTx interface {
	// Position returns the locked position row.
	Position(ctx context.Context) (*domain.Position, error)

	// Portfolio returns the locked portfolio balance row.
	Portfolio(ctx context.Context) (*domain.PortfolioBalance, error)

	// InsertTrade appends a trade row. Returns ErrDuplicateKey if trade_id
	// or decision_id already exists.
	InsertTrade(ctx context.Context, t *domain.Trade) error

	// SavePosition writes the mutated position row.
	SavePosition(ctx context.Context, p *domain.Position) error

	// SavePortfolio writes the mutated portfolio balance row.
	SavePortfolio(ctx context.Context, b *domain.PortfolioBalance) error
}

// LedgerStore owns the singleton Position/PortfolioBalance aggregate.
type LedgerStore interface {
	// Transact runs fn with both singleton rows exclusively locked, in a
	// fixed order (position, then portfolio balance). If fn returns an
	// error every write is rolled back; no partial state is observable.
	Transact(ctx context.Context, symbol string, fn func(tx LedgerTx) error) error

	// GetPosition reads the current position without locking.
	// Returns ErrNotFound if the symbol is not seeded.
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	// GetPortfolio reads the current portfolio balance without locking.
	// Returns ErrNotFound if the symbol is not seeded.
	GetPortfolio(ctx context.Context, symbol string) (*domain.PortfolioBalance, error)

	// Seed inserts the singleton rows for symbol if absent: a FLAT
	// position and a balance holding initialCash. Idempotent.
	Seed(ctx context.Context, symbol string, initialCash decimal.Decimal) error
}
