package decision

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/indicator"
	"sentinel-ledger/internal/ledger"
	"sentinel-ledger/internal/storage"
	"sentinel-ledger/internal/storage/memory"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

// seedHistory appends closes as consecutive minute candles, running the
// indicator updater so snapshots stay consistent with the candle series.
func seedHistory(t *testing.T, candles *memory.CandleStore, snaps *memory.IndicatorSnapshotStore, start time.Time, closes []float64) {
	t.Helper()
	ctx := context.Background()
	u := indicator.NewUpdater(snaps, candles)

	for i, close := range closes {
		c := decimal.NewFromFloat(close)
		candle := &domain.Candle{
			Symbol: testSymbol,
			Bucket: start.Add(time.Duration(i) * time.Minute),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: decimal.NewFromInt(1),
		}
		if err := candles.Insert(ctx, candle); err != nil {
			t.Fatalf("insert candle %d: %v", i, err)
		}
		if _, err := u.OnCandle(ctx, candle); err != nil {
			t.Fatalf("update snapshot %d: %v", i, err)
		}
	}
}

func TestBuild_Features(t *testing.T) {
	ctx := context.Background()
	candles := memory.NewCandleStore()
	snaps := memory.NewIndicatorSnapshotStore()
	ledgerStore := memory.NewLedgerStore(memory.NewTradeStore())
	if err := ledgerStore.Seed(ctx, testSymbol, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	closes := []float64{100, 101, 102, 103, 104, 110}
	seedHistory(t, candles, snaps, testBucket, closes)

	b := NewObservationBuilder(candles, snaps, ledgerStore)
	obs, err := b.Build(ctx, testSymbol)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if want := (110.0 - 104.0) / 104.0; !almostEqual(obs.Return1, want) {
		t.Errorf("Return1 = %v, want %v", obs.Return1, want)
	}
	if want := (110.0 - 100.0) / 100.0; !almostEqual(obs.Return5, want) {
		t.Errorf("Return5 = %v, want %v", obs.Return5, want)
	}
	// flat book: position feature is 0 and unrealized pnl is 0
	if obs.Position != 0 {
		t.Errorf("Position = %d, want 0", obs.Position)
	}
	if obs.UnrealizedPL != 0 {
		t.Errorf("UnrealizedPL = %v, want 0", obs.UnrealizedPL)
	}
	// rising closes pull EMA9 above EMA21
	if obs.EMASpread <= 0 {
		t.Errorf("EMASpread = %v, want > 0", obs.EMASpread)
	}
	if obs.EMA9Slope <= 0 || obs.EMA21Slope <= 0 {
		t.Errorf("slopes = %v, %v, want both > 0", obs.EMA9Slope, obs.EMA21Slope)
	}
}

func TestBuild_LongPosition(t *testing.T) {
	ctx := context.Background()
	candles := memory.NewCandleStore()
	snaps := memory.NewIndicatorSnapshotStore()
	ledgerStore := memory.NewLedgerStore(memory.NewTradeStore())
	if err := ledgerStore.Seed(ctx, testSymbol, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	seedHistory(t, candles, snaps, testBucket, []float64{100, 100, 100, 100, 100, 110})

	// open a position at 100
	err := ledgerStore.Transact(ctx, testSymbol, func(tx storage.LedgerTx) error {
		pos, err := tx.Position(ctx)
		if err != nil {
			return err
		}
		bal, err := tx.Portfolio(ctx)
		if err != nil {
			return err
		}
		if _, err := ledger.ApplyBuy(pos, bal, decimal.NewFromInt(100), testBucket, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		return tx.SavePortfolio(ctx, bal)
	})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}

	b := NewObservationBuilder(candles, snaps, ledgerStore)
	obs, err := b.Build(ctx, testSymbol)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if obs.Position != 1 {
		t.Errorf("Position = %d, want 1", obs.Position)
	}
	if want := (110.0 - 100.0) / 100.0; !almostEqual(obs.UnrealizedPL, want) {
		t.Errorf("UnrealizedPL = %v, want %v", obs.UnrealizedPL, want)
	}
}

func TestBuild_InsufficientHistory(t *testing.T) {
	ctx := context.Background()
	candles := memory.NewCandleStore()
	snaps := memory.NewIndicatorSnapshotStore()
	ledgerStore := memory.NewLedgerStore(memory.NewTradeStore())
	if err := ledgerStore.Seed(ctx, testSymbol, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	seedHistory(t, candles, snaps, testBucket, []float64{100, 101, 102})

	b := NewObservationBuilder(candles, snaps, ledgerStore)
	if _, err := b.Build(ctx, testSymbol); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}
