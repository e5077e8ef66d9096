// Package ingest appends candles to the store and drives the indicator
// updater. This is the only writer of the candle table; the execution path
// just reads it.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/indicator"
	"sentinel-ledger/internal/observability"
	"sentinel-ledger/internal/storage"
)

// Archiver mirrors ingested data into an analytics sink. Optional; failures
// are logged and swallowed so archival can never block ingestion.
type Archiver interface {
	InsertCandles(ctx context.Context, candles []*domain.Candle) error
	InsertSnapshots(ctx context.Context, snaps []*domain.IndicatorSnapshot) error
}

// Service appends candles and synchronously updates indicator snapshots,
// keeping the candle->indicator dependency an explicit call rather than a
// hidden storage side effect.
type Service struct {
	candles  storage.CandleStore
	updater  *indicator.Updater
	archiver Archiver
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewService creates an ingestion service. archiver may be nil.
func NewService(
	candles storage.CandleStore,
	updater *indicator.Updater,
	archiver Archiver,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		candles:  candles,
		updater:  updater,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// Append stores one candle and computes its indicator snapshot.
// Returns storage.ErrDuplicateKey when the bucket already has a candle.
func (s *Service) Append(ctx context.Context, c *domain.Candle) (*domain.IndicatorSnapshot, error) {
	if c == nil || c.Symbol == "" || c.Bucket.IsZero() {
		return nil, storage.ErrInvalidInput
	}
	if !domain.IsBucketAligned(c.Bucket) {
		return nil, fmt.Errorf("%w: bucket %v not minute-aligned", storage.ErrInvalidInput, c.Bucket)
	}

	if err := s.candles.Insert(ctx, c); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.IngestionErrors.Inc()
		}
		return nil, fmt.Errorf("append candle: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CandlesIngested.Inc()
	}

	snap, err := s.updater.OnCandle(ctx, c)
	if err != nil {
		// The candle row is already committed; surface the indicator
		// failure so the caller knows the snapshot sequence stalled.
		if s.metrics != nil {
			s.metrics.IngestionErrors.Inc()
		}
		return nil, fmt.Errorf("update indicators: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IndicatorUpdates.Inc()
	}

	if s.archiver != nil {
		if err := s.archiver.InsertCandles(ctx, []*domain.Candle{c}); err != nil {
			s.logger.Warn().Err(err).Msg("candle archive failed")
		}
		if err := s.archiver.InsertSnapshots(ctx, []*domain.IndicatorSnapshot{snap}); err != nil {
			s.logger.Warn().Err(err).Msg("snapshot archive failed")
		}
	}

	s.logger.Debug().
		Time("bucket", c.Bucket).
		Str("close", c.Close.String()).
		Msg("candle appended")

	return snap, nil
}
