package clickhouse

import (
	"context"
	"fmt"

	"sentinel-ledger/internal/domain"
)

// ArchiveStore mirrors candles and indicator snapshots into ClickHouse for
// offline analytics. It sits entirely outside the execution path: the
// relational store stays the single source of truth and archive failures
// never affect ledger correctness.
type ArchiveStore struct {
	conn *Conn
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(conn *Conn) *ArchiveStore {
	return &ArchiveStore{conn: conn}
}

// InsertCandles appends a batch of candles to the archive.
func (s *ArchiveStore) InsertCandles(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candle_archive (symbol, bucket, open, high, low, close, volume)
	`)
	if err != nil {
		return fmt.Errorf("prepare candle batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Symbol, c.Bucket,
			c.Open.InexactFloat64(), c.High.InexactFloat64(),
			c.Low.InexactFloat64(), c.Close.InexactFloat64(),
			c.Volume.InexactFloat64(),
		)
		if err != nil {
			return fmt.Errorf("append candle to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send candle batch: %w", err)
	}

	return nil
}

// InsertSnapshots appends a batch of indicator snapshots to the archive.
func (s *ArchiveStore) InsertSnapshots(ctx context.Context, snaps []*domain.IndicatorSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO indicator_archive (symbol, bucket, ema9, ema21)
	`)
	if err != nil {
		return fmt.Errorf("prepare snapshot batch: %w", err)
	}

	for _, snap := range snaps {
		err = batch.Append(
			snap.Symbol, snap.Bucket,
			snap.EMA9.InexactFloat64(), snap.EMA21.InexactFloat64(),
		)
		if err != nil {
			return fmt.Errorf("append snapshot to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send snapshot batch: %w", err)
	}

	return nil
}
