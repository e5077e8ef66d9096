package execution

import "errors"

// Engine errors. Legality violations surface as ledger.ErrIllegal and a
// missing candle as pricing.ErrNoExecutionPrice; callers classify with
// errors.Is.
var (
	// ErrExecutionDisabled is returned while the kill-switch is off.
	// Fully recoverable by operator action; no state is touched.
	ErrExecutionDisabled = errors.New("execution disabled")

	// ErrInvalidRequest is returned for malformed or out-of-range input.
	// The caller must fix the request; retrying unchanged never succeeds.
	ErrInvalidRequest = errors.New("invalid execution request")
)
