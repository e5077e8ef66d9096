package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/indicator"
	"sentinel-ledger/internal/storage"
	"sentinel-ledger/internal/storage/memory"
)

var testBucket = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type captureArchiver struct {
	candles   []*domain.Candle
	snapshots []*domain.IndicatorSnapshot
	fail      bool
}

func (a *captureArchiver) InsertCandles(_ context.Context, cs []*domain.Candle) error {
	if a.fail {
		return errors.New("archive down")
	}
	a.candles = append(a.candles, cs...)
	return nil
}

func (a *captureArchiver) InsertSnapshots(_ context.Context, ss []*domain.IndicatorSnapshot) error {
	if a.fail {
		return errors.New("archive down")
	}
	a.snapshots = append(a.snapshots, ss...)
	return nil
}

func newIngest(archiver Archiver) (*Service, *memory.CandleStore, *memory.IndicatorSnapshotStore) {
	candles := memory.NewCandleStore()
	snaps := memory.NewIndicatorSnapshotStore()
	svc := NewService(candles, indicator.NewUpdater(snaps, candles), archiver, nil, zerolog.Nop())
	return svc, candles, snaps
}

func testCandle(bucket time.Time, close int64) *domain.Candle {
	c := decimal.NewFromInt(close)
	return &domain.Candle{
		Symbol: "BTCUSDT",
		Bucket: bucket,
		Open:   c,
		High:   c,
		Low:    c,
		Close:  c,
		Volume: decimal.NewFromInt(1),
	}
}

func TestAppend_StoresCandleAndSnapshot(t *testing.T) {
	svc, candles, snaps := newIngest(nil)
	ctx := context.Background()

	snap, err := svc.Append(ctx, testCandle(testBucket, 50000))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !snap.EMA9.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("seed EMA9 = %s, want 50000", snap.EMA9)
	}

	if _, err := candles.GetByBucket(ctx, "BTCUSDT", testBucket); err != nil {
		t.Errorf("candle not stored: %v", err)
	}
	if _, err := snaps.GetByBucket(ctx, "BTCUSDT", testBucket); err != nil {
		t.Errorf("snapshot not stored: %v", err)
	}
}

func TestAppend_DuplicateBucket(t *testing.T) {
	svc, _, _ := newIngest(nil)
	ctx := context.Background()

	if _, err := svc.Append(ctx, testCandle(testBucket, 50000)); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	if _, err := svc.Append(ctx, testCandle(testBucket, 50100)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestAppend_RejectsUnalignedBucket(t *testing.T) {
	svc, _, _ := newIngest(nil)

	_, err := svc.Append(context.Background(), testCandle(testBucket.Add(10*time.Second), 50000))
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAppend_Archives(t *testing.T) {
	archiver := &captureArchiver{}
	svc, _, _ := newIngest(archiver)

	if _, err := svc.Append(context.Background(), testCandle(testBucket, 50000)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(archiver.candles) != 1 || len(archiver.snapshots) != 1 {
		t.Errorf("archived %d candles, %d snapshots, want 1 each", len(archiver.candles), len(archiver.snapshots))
	}
}

func TestAppend_ArchiveFailureDoesNotBlock(t *testing.T) {
	svc, candles, _ := newIngest(&captureArchiver{fail: true})
	ctx := context.Background()

	if _, err := svc.Append(ctx, testCandle(testBucket, 50000)); err != nil {
		t.Fatalf("Append failed despite archive being optional: %v", err)
	}
	if _, err := candles.GetByBucket(ctx, "BTCUSDT", testBucket); err != nil {
		t.Errorf("candle not stored: %v", err)
	}
}

// flakySnapshotStore fails exactly one Insert, simulating a transient
// outage between the candle commit and the snapshot commit.
type flakySnapshotStore struct {
	*memory.IndicatorSnapshotStore
	failOnce bool
}

func (s *flakySnapshotStore) Insert(ctx context.Context, snap *domain.IndicatorSnapshot) error {
	if s.failOnce {
		s.failOnce = false
		return errors.New("snapshot store down")
	}
	return s.IndicatorSnapshotStore.Insert(ctx, snap)
}

func TestAppend_RecoversSnapshotGap(t *testing.T) {
	candles := memory.NewCandleStore()
	snaps := &flakySnapshotStore{IndicatorSnapshotStore: memory.NewIndicatorSnapshotStore()}
	svc := NewService(candles, indicator.NewUpdater(snaps, candles), nil, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.Append(ctx, testCandle(testBucket, 100)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// the candle commits, then its snapshot insert fails
	snaps.failOnce = true
	if _, err := svc.Append(ctx, testCandle(testBucket.Add(time.Minute), 200)); err == nil {
		t.Fatal("expected snapshot insert failure")
	}

	// retrying the same bucket hits the committed candle
	if _, err := svc.Append(ctx, testCandle(testBucket.Add(time.Minute), 200)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("retry: expected ErrDuplicateKey, got %v", err)
	}

	// the next bucket rolls the EMA through the stranded close, not past it:
	// ema9(200) = 200*0.2 + 100*0.8 = 120, ema9(300) = 300*0.2 + 120*0.8 = 156
	snap, err := svc.Append(ctx, testCandle(testBucket.Add(2*time.Minute), 300))
	if err != nil {
		t.Fatalf("Append after gap failed: %v", err)
	}
	if got, want := snap.EMA9.String(), "156"; got != want {
		t.Errorf("EMA9 = %s, want %s", got, want)
	}

	gap, err := snaps.GetByBucket(ctx, "BTCUSDT", testBucket.Add(time.Minute))
	if err != nil {
		t.Fatalf("gap bucket snapshot missing: %v", err)
	}
	if got, want := gap.EMA9.String(), "120"; got != want {
		t.Errorf("gap EMA9 = %s, want %s", got, want)
	}
}
