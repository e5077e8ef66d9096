package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL. The singleton
// position and portfolio_balances rows are locked with SELECT ... FOR UPDATE
// in a fixed order (position first) so concurrent executions serialize
// without deadlocking.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// Transact runs fn inside a transaction with both singleton rows locked.
// Any error from fn rolls back every write.
func (s *LedgerStore) Transact(ctx context.Context, symbol string, fn func(tx storage.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ltx := &ledgerTx{tx: tx, symbol: symbol}

	// Acquire both row locks up front, in the fixed order, so fn always
	// observes a fully locked aggregate.
	if _, err := ltx.Position(ctx); err != nil {
		return err
	}
	if _, err := ltx.Portfolio(ctx); err != nil {
		return err
	}

	if err := fn(ltx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// GetPosition reads the current position without locking.
func (s *LedgerStore) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx, selectPosition, symbol)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// GetPortfolio reads the current portfolio balance without locking.
func (s *LedgerStore) GetPortfolio(ctx context.Context, symbol string) (*domain.PortfolioBalance, error) {
	row := s.pool.QueryRow(ctx, selectPortfolio, symbol)
	b, err := scanPortfolio(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	return b, nil
}

// Seed inserts the singleton rows for symbol if absent. Idempotent.
func (s *LedgerStore) Seed(ctx context.Context, symbol string, initialCash decimal.Decimal) error {
	if symbol == "" || initialCash.Sign() < 0 {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (symbol, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (symbol) DO NOTHING
	`, symbol, string(domain.PositionFlat))
	if err != nil {
		return fmt.Errorf("seed position: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO portfolio_balances (symbol, cash, asset_quantity, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (symbol) DO NOTHING
	`, symbol, initialCash)
	if err != nil {
		return fmt.Errorf("seed portfolio: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}

// ledgerTx implements storage.LedgerTx over an open pgx transaction.
type ledgerTx struct {
	tx     pgx.Tx
	symbol string
}

const (
	selectPosition = `
		SELECT symbol, state, entry_price, entry_bucket, size, updated_at
		FROM positions
		WHERE symbol = $1
	`
	selectPortfolio = `
		SELECT symbol, cash, asset_quantity, avg_entry_price, updated_at
		FROM portfolio_balances
		WHERE symbol = $1
	`
)

// Position returns the position row locked for the transaction's duration.
func (l *ledgerTx) Position(ctx context.Context) (*domain.Position, error) {
	row := l.tx.QueryRow(ctx, selectPosition+` FOR UPDATE`, l.symbol)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock position: %w", err)
	}
	return p, nil
}

// Portfolio returns the portfolio row locked for the transaction's duration.
func (l *ledgerTx) Portfolio(ctx context.Context) (*domain.PortfolioBalance, error) {
	row := l.tx.QueryRow(ctx, selectPortfolio+` FOR UPDATE`, l.symbol)
	b, err := scanPortfolio(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock portfolio: %w", err)
	}
	return b, nil
}

// InsertTrade appends a trade row inside the transaction.
func (l *ledgerTx) InsertTrade(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.TradeID == "" || t.DecisionID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trades (
			trade_id, decision_id, symbol, side, bucket,
			price, asset_amount, cash_amount, realized_pnl,
			position_before, position_after, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := l.tx.Exec(ctx, query,
		t.TradeID, t.DecisionID, t.Symbol, t.Side, t.Bucket,
		t.Price, t.AssetAmount, t.CashAmount, t.RealizedPnL,
		string(t.PositionBefore), string(t.PositionAfter), t.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// SavePosition writes the mutated position row inside the transaction.
func (l *ledgerTx) SavePosition(ctx context.Context, p *domain.Position) error {
	if err := p.CheckInvariant(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	query := `
		UPDATE positions
		SET state = $2, entry_price = $3, entry_bucket = $4, size = $5, updated_at = $6
		WHERE symbol = $1
	`

	tag, err := l.tx.Exec(ctx, query,
		p.Symbol, string(p.State), nullDecimal(p.EntryPrice), p.EntryBucket, nullDecimal(p.Size), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SavePortfolio writes the mutated portfolio row inside the transaction.
func (l *ledgerTx) SavePortfolio(ctx context.Context, b *domain.PortfolioBalance) error {
	if err := b.CheckInvariant(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	query := `
		UPDATE portfolio_balances
		SET cash = $2, asset_quantity = $3, avg_entry_price = $4, updated_at = $5
		WHERE symbol = $1
	`

	tag, err := l.tx.Exec(ctx, query,
		b.Symbol, b.Cash, b.AssetQuantity, nullDecimal(b.AvgEntryPrice), b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ storage.LedgerTx = (*ledgerTx)(nil)

// nullDecimal converts an optional decimal to its SQL NULL representation.
func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p          domain.Position
		state      string
		entryPrice decimal.NullDecimal
		size       decimal.NullDecimal
	)

	err := row.Scan(&p.Symbol, &state, &entryPrice, &p.EntryBucket, &size, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.State = domain.PositionState(state)
	if entryPrice.Valid {
		p.EntryPrice = &entryPrice.Decimal
	}
	if size.Valid {
		p.Size = &size.Decimal
	}
	if p.EntryBucket != nil {
		utc := p.EntryBucket.UTC()
		p.EntryBucket = &utc
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// scanPortfolio scans a single row into a PortfolioBalance.
func scanPortfolio(row pgx.Row) (*domain.PortfolioBalance, error) {
	var (
		b        domain.PortfolioBalance
		avgEntry decimal.NullDecimal
	)

	err := row.Scan(&b.Symbol, &b.Cash, &b.AssetQuantity, &avgEntry, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if avgEntry.Valid {
		b.AvgEntryPrice = &avgEntry.Decimal
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}
