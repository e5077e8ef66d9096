package decision

import (
	"context"
	"errors"
	"fmt"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// ErrInsufficientHistory is returned when fewer candles or snapshots exist
// than the observation window needs.
var ErrInsufficientHistory = errors.New("insufficient history for observation")

// observationWindow is the number of trailing candles needed: return_5
// compares against the close five buckets back.
const observationWindow = 6

// ObservationBuilder derives producer features from stored candles,
// indicator snapshots and the live position. Feature math runs in float64:
// observations feed the policy only and never touch ledger economics.
type ObservationBuilder struct {
	candles   storage.CandleStore
	snapshots storage.IndicatorSnapshotStore
	ledger    storage.LedgerStore
}

// NewObservationBuilder creates an ObservationBuilder.
func NewObservationBuilder(
	candles storage.CandleStore,
	snapshots storage.IndicatorSnapshotStore,
	ledgerStore storage.LedgerStore,
) *ObservationBuilder {
	return &ObservationBuilder{
		candles:   candles,
		snapshots: snapshots,
		ledger:    ledgerStore,
	}
}

// Build computes the observation for the latest stored bucket of symbol.
func (b *ObservationBuilder) Build(ctx context.Context, symbol string) (*Observation, error) {
	candles, err := b.candles.GetRecent(ctx, symbol, observationWindow)
	if err != nil {
		return nil, fmt.Errorf("load recent candles: %w", err)
	}
	if len(candles) < observationWindow {
		return nil, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientHistory, len(candles), observationWindow)
	}

	snaps, err := b.snapshots.GetRecent(ctx, symbol, 2)
	if err != nil {
		return nil, fmt.Errorf("load recent snapshots: %w", err)
	}
	if len(snaps) < 2 {
		return nil, fmt.Errorf("%w: have %d snapshots, need 2", ErrInsufficientHistory, len(snaps))
	}

	pos, err := b.ledger.GetPosition(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}

	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	back5 := candles[0]

	closeNow := last.Close.InexactFloat64()
	prevSnap, lastSnap := snaps[0], snaps[1]

	obs := &Observation{
		Return1:    fractionalChange(prev.Close.InexactFloat64(), closeNow),
		Return5:    fractionalChange(back5.Close.InexactFloat64(), closeNow),
		EMASpread:  fractionalChange(lastSnap.EMA21.InexactFloat64(), lastSnap.EMA9.InexactFloat64()),
		EMA9Slope:  fractionalChange(prevSnap.EMA9.InexactFloat64(), lastSnap.EMA9.InexactFloat64()),
		EMA21Slope: fractionalChange(prevSnap.EMA21.InexactFloat64(), lastSnap.EMA21.InexactFloat64()),
	}

	if pos.State == domain.PositionLong {
		obs.Position = 1
		obs.UnrealizedPL = fractionalChange(pos.EntryPrice.InexactFloat64(), closeNow)
	}

	return obs, nil
}

// fractionalChange returns (to-from)/from, or 0 when from is 0.
func fractionalChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from
}
