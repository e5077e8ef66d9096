package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL. Trade rows are
// written only inside a ledger transaction (see LedgerStore.Transact); this
// store serves the read side, including the idempotency probe.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	query := selectTrade + ` WHERE trade_id = $1`

	row := s.pool.QueryRow(ctx, query, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// GetByDecisionID retrieves the trade executed for a decision.
// Returns ErrNotFound if the decision has not executed.
func (s *TradeStore) GetByDecisionID(ctx context.Context, decisionID string) (*domain.Trade, error) {
	query := selectTrade + ` WHERE decision_id = $1`

	row := s.pool.QueryRow(ctx, query, decisionID)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by decision id: %w", err)
	}
	return t, nil
}

// GetBySymbol retrieves all trades for symbol, ordered by executed_at ASC.
func (s *TradeStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	query := selectTrade + ` WHERE symbol = $1 ORDER BY executed_at ASC, trade_id ASC`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("get trades by symbol: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}

const selectTrade = `
	SELECT
		trade_id, decision_id, symbol, side, bucket,
		price, asset_amount, cash_amount, realized_pnl,
		position_before, position_after, executed_at
	FROM trades
`

// scanTrade scans a single row into a Trade.
func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var (
		t      domain.Trade
		before string
		after  string
	)

	err := row.Scan(
		&t.TradeID, &t.DecisionID, &t.Symbol, &t.Side, &t.Bucket,
		&t.Price, &t.AssetAmount, &t.CashAmount, &t.RealizedPnL,
		&before, &after, &t.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	t.PositionBefore = domain.PositionState(before)
	t.PositionAfter = domain.PositionState(after)
	t.Bucket = t.Bucket.UTC()
	t.ExecutedAt = t.ExecutedAt.UTC()
	return &t, nil
}
