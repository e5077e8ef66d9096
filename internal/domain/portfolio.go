package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioBalance is the singleton cash/asset row for one symbol.
// Corresponds to portfolio_balances table. Mutated in lockstep with
// Position by the same transaction.
type PortfolioBalance struct {
	Symbol        string
	Cash          decimal.Decimal // never negative
	AssetQuantity decimal.Decimal
	AvgEntryPrice *decimal.Decimal // nil while flat
	UpdatedAt     time.Time
}

// CheckInvariant verifies the balance constraints.
func (b *PortfolioBalance) CheckInvariant() error {
	if b.Cash.Sign() < 0 {
		return fmt.Errorf("negative cash %s", b.Cash)
	}
	if b.AssetQuantity.Sign() < 0 {
		return fmt.Errorf("negative asset quantity %s", b.AssetQuantity)
	}
	return nil
}

// NewPortfolioBalance returns the initial balance row for symbol.
func NewPortfolioBalance(symbol string, cash decimal.Decimal, now time.Time) *PortfolioBalance {
	return &PortfolioBalance{
		Symbol:        symbol,
		Cash:          cash,
		AssetQuantity: decimal.Zero,
		UpdatedAt:     now,
	}
}
