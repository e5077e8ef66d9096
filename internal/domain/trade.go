package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade side constants.
const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

// Trade represents one executed trade.
// Corresponds to trades table; append-only, unique per trade_id and per
// decision_id (the idempotency key). A decision produces at most one trade,
// no matter how many times it is submitted.
type Trade struct {
	TradeID    string // deterministic hash, see idhash
	DecisionID string
	Symbol     string
	Side       string // "BUY" | "SELL"
	Bucket     time.Time

	Price       decimal.Decimal // execution price (bucket close)
	AssetAmount decimal.Decimal // base asset traded, 8 fractional digits
	CashAmount  decimal.Decimal // quote cash moved
	RealizedPnL decimal.Decimal // zero for BUY

	// Position states persisted so idempotent replays return the original
	// result verbatim.
	PositionBefore PositionState
	PositionAfter  PositionState

	ExecutedAt time.Time
}
