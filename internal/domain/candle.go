package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BucketInterval is the fixed candle bucket width. Every candle, decision
// and trade is keyed by a bucket aligned to this interval.
const BucketInterval = time.Minute

// Candle represents one immutable OHLCV bar.
// Corresponds to candles table in PostgreSQL; unique per (symbol, bucket).
type Candle struct {
	Symbol string          // instrument identifier
	Bucket time.Time       // minute-aligned bucket start (UTC)
	Open   decimal.Decimal // first price in bucket
	High   decimal.Decimal // highest price in bucket
	Low    decimal.Decimal // lowest price in bucket
	Close  decimal.Decimal // settlement price for the bucket
	Volume decimal.Decimal // traded base volume
}

// AlignBucket normalizes t to its bucket start in UTC.
func AlignBucket(t time.Time) time.Time {
	return t.UTC().Truncate(BucketInterval)
}

// IsBucketAligned reports whether t sits exactly on a bucket boundary.
func IsBucketAligned(t time.Time) bool {
	return t.Equal(AlignBucket(t))
}
