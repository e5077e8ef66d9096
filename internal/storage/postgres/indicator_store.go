package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// IndicatorSnapshotStore implements storage.IndicatorSnapshotStore using PostgreSQL.
type IndicatorSnapshotStore struct {
	pool *Pool
}

// NewIndicatorSnapshotStore creates a new IndicatorSnapshotStore.
func NewIndicatorSnapshotStore(pool *Pool) *IndicatorSnapshotStore {
	return &IndicatorSnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.IndicatorSnapshotStore = (*IndicatorSnapshotStore)(nil)

// Insert adds a new snapshot. Returns ErrDuplicateKey if (symbol, bucket) exists.
func (s *IndicatorSnapshotStore) Insert(ctx context.Context, snap *domain.IndicatorSnapshot) error {
	if snap == nil || snap.Symbol == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO indicator_snapshots (symbol, bucket, ema9, ema21)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, snap.Symbol, snap.Bucket, snap.EMA9, snap.EMA21)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert indicator snapshot: %w", err)
	}
	return nil
}

// GetByBucket retrieves the snapshot for an exact bucket.
func (s *IndicatorSnapshotStore) GetByBucket(ctx context.Context, symbol string, bucket time.Time) (*domain.IndicatorSnapshot, error) {
	query := `
		SELECT symbol, bucket, ema9, ema21
		FROM indicator_snapshots
		WHERE symbol = $1 AND bucket = $2
	`

	row := s.pool.QueryRow(ctx, query, symbol, bucket)
	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot by bucket: %w", err)
	}
	return snap, nil
}

// GetLatest retrieves the newest snapshot for symbol.
func (s *IndicatorSnapshotStore) GetLatest(ctx context.Context, symbol string) (*domain.IndicatorSnapshot, error) {
	query := `
		SELECT symbol, bucket, ema9, ema21
		FROM indicator_snapshots
		WHERE symbol = $1
		ORDER BY bucket DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, symbol)
	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return snap, nil
}

// GetRecent retrieves the last n snapshots for symbol, ordered by bucket ASC.
func (s *IndicatorSnapshotStore) GetRecent(ctx context.Context, symbol string, n int) ([]*domain.IndicatorSnapshot, error) {
	if n <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT symbol, bucket, ema9, ema21
		FROM (
			SELECT symbol, bucket, ema9, ema21
			FROM indicator_snapshots
			WHERE symbol = $1
			ORDER BY bucket DESC
			LIMIT $2
		) recent
		ORDER BY bucket ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("get recent snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.IndicatorSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return snaps, nil
}

// scanSnapshot scans a single row into an IndicatorSnapshot.
func scanSnapshot(row pgx.Row) (*domain.IndicatorSnapshot, error) {
	var snap domain.IndicatorSnapshot

	err := row.Scan(&snap.Symbol, &snap.Bucket, &snap.EMA9, &snap.EMA21)
	if err != nil {
		return nil, err
	}

	snap.Bucket = snap.Bucket.UTC()
	return &snap, nil
}
