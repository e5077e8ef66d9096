package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the exposure state of the single instrument.
type PositionState string

// Position state constants.
const (
	PositionFlat PositionState = "FLAT"
	PositionLong PositionState = "LONG"
)

// Valid reports whether s is a known state.
func (s PositionState) Valid() bool {
	return s == PositionFlat || s == PositionLong
}

// Position is the singleton exposure row for one symbol.
// Corresponds to positions table. Mutated only by the execution engine
// inside a locked transaction.
//
// Invariant: state=FLAT iff EntryPrice/EntryBucket/Size are all nil;
// state=LONG iff all are non-nil and Size > 0.
type Position struct {
	Symbol      string
	State       PositionState
	EntryPrice  *decimal.Decimal
	EntryBucket *time.Time
	Size        *decimal.Decimal
	UpdatedAt   time.Time
}

// CheckInvariant verifies the FLAT/LONG null pattern.
func (p *Position) CheckInvariant() error {
	switch p.State {
	case PositionFlat:
		if p.EntryPrice != nil || p.EntryBucket != nil || p.Size != nil {
			return fmt.Errorf("flat position with non-null entry fields")
		}
	case PositionLong:
		if p.EntryPrice == nil || p.EntryBucket == nil || p.Size == nil {
			return fmt.Errorf("long position with null entry fields")
		}
		if p.Size.Sign() <= 0 {
			return fmt.Errorf("long position with non-positive size %s", p.Size)
		}
	default:
		return fmt.Errorf("unknown position state %q", p.State)
	}
	return nil
}

// NewFlatPosition returns the initial position row for symbol.
func NewFlatPosition(symbol string, now time.Time) *Position {
	return &Position{
		Symbol:    symbol,
		State:     PositionFlat,
		UpdatedAt: now,
	}
}
