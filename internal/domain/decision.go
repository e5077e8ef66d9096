package domain

import "time"

// Action is a trading decision for one bucket.
type Action string

// Action constants.
const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionHold || a == ActionBuy || a == ActionSell
}

// Executable reports whether a can reach the execution engine.
// HOLD is recorded but never executed.
func (a Action) Executable() bool {
	return a == ActionBuy || a == ActionSell
}

// Decision source constants.
const (
	DecisionSourceAgent     = "agent"
	DecisionSourceValidator = "validator"
)

// ActionProbs carries the producer's action distribution for provenance.
type ActionProbs struct {
	Hold float64
	Buy  float64
	Sell float64
}

// Decision represents one recorded trading decision.
// Corresponds to decisions table; append-only, unique per decision_id and
// per (symbol, bucket). Never mutated after creation.
type Decision struct {
	DecisionID string // idempotency key, supplied by the producer
	Symbol     string
	Bucket     time.Time
	Action     Action
	Confidence float64 // [0,1]
	Reason     string
	Source     string // "agent" | "validator"

	// Producer provenance
	ModelVersion string
	Probs        ActionProbs
	LatencyMs    float64

	CreatedAt time.Time
}
