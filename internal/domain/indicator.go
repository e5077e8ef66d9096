package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IndicatorSnapshot holds the incrementally maintained EMA values for one
// bucket. Corresponds to indicator_snapshots table; unique per (symbol, bucket).
//
// Snapshots are derived strictly from the candle sequence in increasing
// bucket order; they feed decision context only and never affect ledger
// correctness.
type IndicatorSnapshot struct {
	Symbol string
	Bucket time.Time
	EMA9   decimal.Decimal
	EMA21  decimal.Decimal
}
