// Package ledger implements the position/portfolio state machine as pure
// decimal arithmetic. The execution engine applies these transitions inside
// a locked storage transaction; the decision ledger reuses CheckLegality for
// its advisory pre-check so the two rule sets can never diverge.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
)

// BuyFraction is the share of current cash committed on a BUY.
// Sizing is literally a quarter of current cash, not of total equity.
var BuyFraction = decimal.NewFromFloat(0.25)

// AssetScale is the number of fractional digits kept on asset amounts.
// Amounts are truncated, never rounded.
const AssetScale = 8

// ErrIllegal is returned when the action is not legal for the current
// position state.
var ErrIllegal = errors.New("action not legal for current position state")

// CheckLegality reports whether action may execute against state.
// BUY requires FLAT, SELL requires LONG; HOLD never executes.
func CheckLegality(state domain.PositionState, action domain.Action) error {
	switch action {
	case domain.ActionBuy:
		if state != domain.PositionFlat {
			return fmt.Errorf("%w: BUY while %s", ErrIllegal, state)
		}
	case domain.ActionSell:
		if state != domain.PositionLong {
			return fmt.Errorf("%w: SELL while %s", ErrIllegal, state)
		}
	default:
		return fmt.Errorf("%w: %s is not executable", ErrIllegal, action)
	}
	return nil
}

// BuyResult describes the economics of an opened position.
type BuyResult struct {
	CashSpent   decimal.Decimal
	AssetAmount decimal.Decimal
}

// ApplyBuy transitions FLAT -> LONG, mutating pos and bal in place.
// A quarter of current cash buys asset at price; the asset amount is
// truncated to AssetScale fractional digits.
func ApplyBuy(pos *domain.Position, bal *domain.PortfolioBalance, price decimal.Decimal, bucket time.Time, now time.Time) (*BuyResult, error) {
	if err := CheckLegality(pos.State, domain.ActionBuy); err != nil {
		return nil, err
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive execution price %s", price)
	}

	cashSpent := bal.Cash.Mul(BuyFraction)
	assetAmount := cashSpent.Div(price).Truncate(AssetScale)
	if assetAmount.Sign() <= 0 {
		return nil, fmt.Errorf("buy of %s cash at price %s truncates to zero asset", cashSpent, price)
	}

	bal.Cash = bal.Cash.Sub(cashSpent)
	bal.AssetQuantity = assetAmount
	avg := price
	bal.AvgEntryPrice = &avg
	bal.UpdatedAt = now

	entryPrice := price
	entryBucket := bucket
	size := assetAmount
	pos.State = domain.PositionLong
	pos.EntryPrice = &entryPrice
	pos.EntryBucket = &entryBucket
	pos.Size = &size
	pos.UpdatedAt = now

	return &BuyResult{CashSpent: cashSpent, AssetAmount: assetAmount}, nil
}

// SellResult describes the economics of a closed position.
type SellResult struct {
	CashReceived decimal.Decimal
	AssetAmount  decimal.Decimal
	RealizedPnL  decimal.Decimal
}

// ApplySell transitions LONG -> FLAT, mutating pos and bal in place.
// The full held amount is sold; partial closes are not supported.
func ApplySell(pos *domain.Position, bal *domain.PortfolioBalance, price decimal.Decimal, now time.Time) (*SellResult, error) {
	if err := CheckLegality(pos.State, domain.ActionSell); err != nil {
		return nil, err
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive execution price %s", price)
	}

	assetAmount := *pos.Size
	cashReceived := assetAmount.Mul(price)
	realizedPnL := price.Sub(*pos.EntryPrice).Mul(assetAmount)

	bal.Cash = bal.Cash.Add(cashReceived)
	bal.AssetQuantity = decimal.Zero
	bal.AvgEntryPrice = nil
	bal.UpdatedAt = now

	pos.State = domain.PositionFlat
	pos.EntryPrice = nil
	pos.EntryBucket = nil
	pos.Size = nil
	pos.UpdatedAt = now

	return &SellResult{
		CashReceived: cashReceived,
		AssetAmount:  assetAmount,
		RealizedPnL:  realizedPnL,
	}, nil
}
