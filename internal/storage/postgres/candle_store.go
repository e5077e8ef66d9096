package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Insert adds a new candle. Returns ErrDuplicateKey if (symbol, bucket) exists.
func (s *CandleStore) Insert(ctx context.Context, c *domain.Candle) error {
	if c == nil || c.Symbol == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO candles (symbol, bucket, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		c.Symbol, c.Bucket, c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert candle: %w", err)
	}
	return nil
}

// GetByBucket retrieves the candle for an exact bucket. Returns ErrNotFound
// if not exists.
func (s *CandleStore) GetByBucket(ctx context.Context, symbol string, bucket time.Time) (*domain.Candle, error) {
	query := `
		SELECT symbol, bucket, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND bucket = $2
	`

	row := s.pool.QueryRow(ctx, query, symbol, bucket)
	c, err := scanCandle(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get candle by bucket: %w", err)
	}
	return c, nil
}

// GetLatest retrieves the newest candle for symbol.
func (s *CandleStore) GetLatest(ctx context.Context, symbol string) (*domain.Candle, error) {
	query := `
		SELECT symbol, bucket, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1
		ORDER BY bucket DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, symbol)
	c, err := scanCandle(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest candle: %w", err)
	}
	return c, nil
}

// GetRecent retrieves the last n candles for symbol, ordered by bucket ASC.
func (s *CandleStore) GetRecent(ctx context.Context, symbol string, n int) ([]*domain.Candle, error) {
	if n <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT symbol, bucket, open, high, low, close, volume
		FROM (
			SELECT symbol, bucket, open, high, low, close, volume
			FROM candles
			WHERE symbol = $1
			ORDER BY bucket DESC
			LIMIT $2
		) recent
		ORDER BY bucket ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("get recent candles: %w", err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}

// GetBetween retrieves candles with after < bucket < before, ordered by bucket ASC.
func (s *CandleStore) GetBetween(ctx context.Context, symbol string, after, before time.Time) ([]*domain.Candle, error) {
	query := `
		SELECT symbol, bucket, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND bucket > $2 AND bucket < $3
		ORDER BY bucket ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, after, before)
	if err != nil {
		return nil, fmt.Errorf("get candles between: %w", err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}

// scanCandle scans a single row into a Candle.
func scanCandle(row pgx.Row) (*domain.Candle, error) {
	var c domain.Candle

	err := row.Scan(&c.Symbol, &c.Bucket, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if err != nil {
		return nil, err
	}

	c.Bucket = c.Bucket.UTC()
	return &c, nil
}
