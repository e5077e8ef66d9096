// Package pricing resolves canonical settlement prices from the candle store.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/storage"
)

// ErrNoExecutionPrice is returned when no candle exists for the decision's
// bucket. Execution price is always the documented close of that exact
// bucket; adjacent buckets are never substituted.
var ErrNoExecutionPrice = errors.New("no execution price for bucket")

// Resolver looks up execution prices.
type Resolver struct {
	candles storage.CandleStore
}

// NewResolver creates a new Resolver backed by the candle store.
func NewResolver(candles storage.CandleStore) *Resolver {
	return &Resolver{candles: candles}
}

// Resolve returns the close price of the candle at exactly (symbol, bucket).
func (r *Resolver) Resolve(ctx context.Context, symbol string, bucket time.Time) (decimal.Decimal, error) {
	c, err := r.candles.GetByBucket(ctx, symbol, bucket)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s @ %s", ErrNoExecutionPrice, symbol, bucket.Format(time.RFC3339))
		}
		return decimal.Zero, fmt.Errorf("resolve price: %w", err)
	}
	return c.Close, nil
}
