package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
	"sentinel-ledger/internal/storage/postgres"
)

func TestIndicatorSnapshotStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewIndicatorSnapshotStore(pool)
	ctx := context.Background()

	ema9, _ := decimal.NewFromString("50123.45678901")
	ema21, _ := decimal.NewFromString("50098.76543210")
	snap := &domain.IndicatorSnapshot{
		Symbol: "BTCUSDT",
		Bucket: testBucket,
		EMA9:   ema9,
		EMA21:  ema21,
	}

	err := store.Insert(ctx, snap)
	require.NoError(t, err)

	retrieved, err := store.GetByBucket(ctx, "BTCUSDT", testBucket)
	require.NoError(t, err)
	assert.True(t, retrieved.EMA9.Equal(ema9), "ema9: got %s, want %s", retrieved.EMA9, ema9)
	assert.True(t, retrieved.EMA21.Equal(ema21))

	err = store.Insert(ctx, snap)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestIndicatorSnapshotStore_GetLatestAndRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewIndicatorSnapshotStore(pool)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		err := store.Insert(ctx, &domain.IndicatorSnapshot{
			Symbol: "BTCUSDT",
			Bucket: testBucket.Add(time.Duration(i) * time.Minute),
			EMA9:   decimal.NewFromInt(int64(50000 + i)),
			EMA21:  decimal.NewFromInt(int64(50000 + i)),
		})
		require.NoError(t, err)
	}

	latest, err := store.GetLatest(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, latest.EMA9.Equal(decimal.NewFromInt(50003)))

	recent, err := store.GetRecent(ctx, "BTCUSDT", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].EMA9.Equal(decimal.NewFromInt(50002)), "recent must be ascending")
	assert.True(t, recent[1].EMA9.Equal(decimal.NewFromInt(50003)))

	_, err = store.GetLatest(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
