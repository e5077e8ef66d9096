// Package execution orchestrates trade execution: validation, idempotency,
// price resolution, and the atomic ledger mutation. Exactly one economic
// effect happens per decision, even under retried or concurrent submission.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/idhash"
	"sentinel-ledger/internal/ledger"
	"sentinel-ledger/internal/observability"
	"sentinel-ledger/internal/pricing"
	"sentinel-ledger/internal/storage"
)

// Status of an execution result.
type Status string

// Result statuses.
const (
	StatusExecuted        Status = "EXECUTED"
	StatusAlreadyExecuted Status = "ALREADY_EXECUTED"
)

// Request is one decision submitted for execution.
type Request struct {
	DecisionID string
	Symbol     string
	Bucket     time.Time
	Action     domain.Action
	Confidence float64
	Source     string // "agent" | "validator"
}

// Result reports what executing a decision did. Replays of an executed
// decision return the original trade's result verbatim.
type Result struct {
	Status         Status
	TradeID        string
	Action         domain.Action
	Price          decimal.Decimal
	AssetAmount    decimal.Decimal
	CashAmount     decimal.Decimal
	PositionBefore domain.PositionState
	PositionAfter  domain.PositionState
	RealizedPnL    decimal.Decimal
	ExecutedAt     time.Time
}

// Engine executes decisions against the singleton ledger aggregate.
type Engine struct {
	symbol   string
	trades   storage.TradeStore
	ledger   storage.LedgerStore
	resolver *pricing.Resolver
	enabled  atomic.Bool
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates an execution engine for the single supported symbol.
// Execution starts in the state given by enabled.
func NewEngine(
	symbol string,
	trades storage.TradeStore,
	ledgerStore storage.LedgerStore,
	resolver *pricing.Resolver,
	enabled bool,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	e := &Engine{
		symbol:   symbol,
		trades:   trades,
		ledger:   ledgerStore,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger.With().Str("component", "execution").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	e.SetEnabled(enabled)
	return e
}

// Enabled reports the kill-switch state.
func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// SetEnabled flips the kill-switch.
func (e *Engine) SetEnabled(v bool) {
	e.enabled.Store(v)
	if e.metrics != nil {
		if v {
			e.metrics.ExecutionEnabled.Set(1)
		} else {
			e.metrics.ExecutionEnabled.Set(0)
		}
	}
}

// Symbol returns the single supported instrument.
func (e *Engine) Symbol() string {
	return e.symbol
}

// Execute runs one decision through the full pipeline. It is safe to call
// more than once with the same decision_id: replays return the original
// result without recomputing economics or touching state.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	start := e.now()

	res, err := e.execute(ctx, req)

	status := "error"
	if res != nil {
		status = string(res.Status)
	}
	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(status).Inc()
		e.metrics.ExecutionDuration.Observe(e.now().Sub(start).Seconds())
	}
	return res, err
}

func (e *Engine) execute(ctx context.Context, req Request) (*Result, error) {
	// Feature gate first: never touch state while disabled.
	if !e.Enabled() {
		return nil, ErrExecutionDisabled
	}

	if err := e.validate(req); err != nil {
		return nil, err
	}

	// Idempotency probe: a decision that already traded replays verbatim.
	if prior, err := e.trades.GetByDecisionID(ctx, req.DecisionID); err == nil {
		e.logger.Info().
			Str("decision_id", req.DecisionID).
			Str("trade_id", prior.TradeID).
			Msg("idempotent replay")
		return resultFromTrade(prior, StatusAlreadyExecuted), nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}

	price, err := e.resolver.Resolve(ctx, req.Symbol, req.Bucket)
	if err != nil {
		return nil, err
	}

	var trade *domain.Trade
	err = e.ledger.Transact(ctx, req.Symbol, func(tx storage.LedgerTx) error {
		pos, err := tx.Position(ctx)
		if err != nil {
			return err
		}
		bal, err := tx.Portfolio(ctx)
		if err != nil {
			return err
		}

		// The pre-lock view may be stale under concurrency; legality is
		// decided here, against the locked state.
		if err := ledger.CheckLegality(pos.State, req.Action); err != nil {
			return err
		}

		before := pos.State
		executedAt := e.now()

		t := &domain.Trade{
			TradeID:        idhash.ComputeTradeID(req.DecisionID, req.Symbol, req.Bucket),
			DecisionID:     req.DecisionID,
			Symbol:         req.Symbol,
			Side:           string(req.Action),
			Bucket:         req.Bucket,
			Price:          price,
			RealizedPnL:    decimal.Zero,
			PositionBefore: before,
			ExecutedAt:     executedAt,
		}

		switch req.Action {
		case domain.ActionBuy:
			buy, err := ledger.ApplyBuy(pos, bal, price, req.Bucket, executedAt)
			if err != nil {
				return err
			}
			t.AssetAmount = buy.AssetAmount
			t.CashAmount = buy.CashSpent
		case domain.ActionSell:
			sell, err := ledger.ApplySell(pos, bal, price, executedAt)
			if err != nil {
				return err
			}
			t.AssetAmount = sell.AssetAmount
			t.CashAmount = sell.CashReceived
			t.RealizedPnL = sell.RealizedPnL
		}
		t.PositionAfter = pos.State

		if err := tx.InsertTrade(ctx, t); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.SavePortfolio(ctx, bal); err != nil {
			return err
		}

		trade = t
		return nil
	})
	if err != nil {
		// A concurrent submission of the same decision may have won the race
		// between the idempotency probe and the lock. The loser's tx fails
		// on the unique decision_id; the winner's committed trade is this
		// call's result.
		if errors.Is(err, storage.ErrDuplicateKey) {
			prior, lookupErr := e.trades.GetByDecisionID(ctx, req.DecisionID)
			if lookupErr == nil {
				return resultFromTrade(prior, StatusAlreadyExecuted), nil
			}
			e.logger.Error().Err(lookupErr).Str("decision_id", req.DecisionID).Msg("replay lookup after duplicate")
			return nil, err
		}
		// The race can also surface as illegality against the winner's new
		// state. A genuine illegality has no prior trade, so propagate it.
		if errors.Is(err, ledger.ErrIllegal) {
			prior, lookupErr := e.trades.GetByDecisionID(ctx, req.DecisionID)
			if lookupErr == nil {
				return resultFromTrade(prior, StatusAlreadyExecuted), nil
			}
			if !errors.Is(lookupErr, storage.ErrNotFound) {
				e.logger.Error().Err(lookupErr).Str("decision_id", req.DecisionID).Msg("replay lookup after illegality")
			}
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.TradesExecuted.Inc()
	}
	e.logger.Info().
		Str("decision_id", req.DecisionID).
		Str("trade_id", trade.TradeID).
		Str("side", trade.Side).
		Str("price", trade.Price.String()).
		Str("asset_amount", trade.AssetAmount.String()).
		Str("realized_pnl", trade.RealizedPnL.String()).
		Str("position", string(trade.PositionAfter)).
		Msg("trade executed")

	return resultFromTrade(trade, StatusExecuted), nil
}

// validate rejects malformed requests before any state is read.
func (e *Engine) validate(req Request) error {
	if req.DecisionID == "" {
		return fmt.Errorf("%w: empty decision_id", ErrInvalidRequest)
	}
	if req.Symbol != e.symbol {
		return fmt.Errorf("%w: unsupported symbol %q", ErrInvalidRequest, req.Symbol)
	}
	if !req.Action.Executable() {
		return fmt.Errorf("%w: action %q is not executable", ErrInvalidRequest, req.Action)
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidRequest, req.Confidence)
	}
	if req.Bucket.IsZero() || !domain.IsBucketAligned(req.Bucket) {
		return fmt.Errorf("%w: bucket %v not minute-aligned", ErrInvalidRequest, req.Bucket)
	}
	return nil
}

// resultFromTrade rebuilds an execution result from a committed trade row.
func resultFromTrade(t *domain.Trade, status Status) *Result {
	return &Result{
		Status:         status,
		TradeID:        t.TradeID,
		Action:         domain.Action(t.Side),
		Price:          t.Price,
		AssetAmount:    t.AssetAmount,
		CashAmount:     t.CashAmount,
		PositionBefore: t.PositionBefore,
		PositionAfter:  t.PositionAfter,
		RealizedPnL:    t.RealizedPnL,
		ExecutedAt:     t.ExecutedAt,
	}
}
