// Package indicator incrementally maintains EMA snapshots as candles arrive.
//
// The updater is invoked synchronously by the ingestion collaborator for
// every appended candle. It requires strictly increasing bucket order;
// out-of-order insertion is rejected rather than silently corrupting the
// EMA sequence.
package indicator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// EMA periods maintained per bucket.
const (
	PeriodFast = 9
	PeriodSlow = 21
)

// ErrOutOfOrder is returned when a candle's bucket is not strictly greater
// than the latest snapshot's bucket.
var ErrOutOfOrder = errors.New("candle bucket not after latest snapshot")

// smoothing returns k = 2 / (period + 1).
func smoothing(period int64) decimal.Decimal {
	return decimal.NewFromInt(2).Div(decimal.NewFromInt(period + 1))
}

var (
	kFast = smoothing(PeriodFast)
	kSlow = smoothing(PeriodSlow)
	one   = decimal.NewFromInt(1)
)

// Updater computes and persists indicator snapshots.
type Updater struct {
	snapshots storage.IndicatorSnapshotStore
	candles   storage.CandleStore
}

// NewUpdater creates a new Updater.
func NewUpdater(snapshots storage.IndicatorSnapshotStore, candles storage.CandleStore) *Updater {
	return &Updater{snapshots: snapshots, candles: candles}
}

// OnCandle computes the snapshot for c's bucket and persists it.
// The first candle seeds both EMAs with its close; afterwards
// ema_new = close*k + ema_prev*(1-k).
//
// A stored candle between the latest snapshot and c means a past snapshot
// insert failed after its candle committed. OnCandle rolls the EMA forward
// through those closes first, so the sequence recovers instead of skipping
// them.
func (u *Updater) OnCandle(ctx context.Context, c *domain.Candle) (*domain.IndicatorSnapshot, error) {
	prev, err := u.snapshots.GetLatest(ctx, c.Symbol)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		prev = nil
	case err != nil:
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	default:
		if !c.Bucket.After(prev.Bucket) {
			return nil, fmt.Errorf("%w: %s <= %s", ErrOutOfOrder, c.Bucket, prev.Bucket)
		}
	}

	if prev != nil {
		missed, err := u.candles.GetBetween(ctx, c.Symbol, prev.Bucket, c.Bucket)
		if err != nil {
			return nil, fmt.Errorf("load missed candles: %w", err)
		}
		for _, m := range missed {
			snap := advance(prev, m)
			if err := u.snapshots.Insert(ctx, snap); err != nil {
				return nil, fmt.Errorf("insert snapshot: %w", err)
			}
			prev = snap
		}
	}

	snap := advance(prev, c)
	if err := u.snapshots.Insert(ctx, snap); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

// advance computes the snapshot following prev for candle c. A nil prev
// seeds both EMAs with c's close.
func advance(prev *domain.IndicatorSnapshot, c *domain.Candle) *domain.IndicatorSnapshot {
	snap := &domain.IndicatorSnapshot{
		Symbol: c.Symbol,
		Bucket: c.Bucket,
	}
	if prev == nil {
		snap.EMA9 = c.Close
		snap.EMA21 = c.Close
	} else {
		snap.EMA9 = step(c.Close, prev.EMA9, kFast)
		snap.EMA21 = step(c.Close, prev.EMA21, kSlow)
	}
	return snap
}

// step applies one EMA update.
func step(close, prev, k decimal.Decimal) decimal.Decimal {
	return close.Mul(k).Add(prev.Mul(one.Sub(k)))
}
