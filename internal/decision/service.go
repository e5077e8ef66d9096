// Package decision records trading decisions and talks to the external
// decision producer.
package decision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/ledger"
	"sentinel-ledger/internal/observability"
	"sentinel-ledger/internal/storage"
)

// Service errors.
var (
	// ErrDuplicateDecision is returned when a decision for the same
	// decision_id or (symbol, bucket) is already recorded. The existing
	// record is never overwritten.
	ErrDuplicateDecision = errors.New("decision already recorded")

	// ErrInvalidDecision is returned for malformed decisions.
	ErrInvalidDecision = errors.New("invalid decision")
)

// Service is the append-only decision ledger. Before persisting it runs the
// same legality rule set the execution engine applies under the lock
// (ledger.CheckLegality) as an early, advisory rejection.
type Service struct {
	symbol    string
	decisions storage.DecisionStore
	ledger    storage.LedgerStore
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewService creates a decision ledger service for the single supported symbol.
func NewService(
	symbol string,
	decisions storage.DecisionStore,
	ledgerStore storage.LedgerStore,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		symbol:    symbol,
		decisions: decisions,
		ledger:    ledgerStore,
		metrics:   metrics,
		logger:    logger.With().Str("component", "decision").Logger(),
	}
}

// Submit validates and records a decision. Duplicates per decision_id or
// (symbol, bucket) are rejected with ErrDuplicateDecision.
//
// The legality check here is advisory: the position can change between
// recording and execution, and the engine re-checks under the lock. HOLD
// decisions are recorded without a legality check since they never execute.
func (s *Service) Submit(ctx context.Context, d *domain.Decision) error {
	if err := s.validate(d); err != nil {
		return err
	}

	if d.Action.Executable() {
		pos, err := s.ledger.GetPosition(ctx, d.Symbol)
		if err != nil {
			return fmt.Errorf("read position for advisory check: %w", err)
		}
		if err := ledger.CheckLegality(pos.State, d.Action); err != nil {
			if s.metrics != nil {
				s.metrics.DecisionRejected.WithLabelValues("illegal").Inc()
			}
			return err
		}
	}

	if err := s.decisions.Insert(ctx, d); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			if s.metrics != nil {
				s.metrics.DecisionRejected.WithLabelValues("duplicate").Inc()
			}
			return fmt.Errorf("%w: %s @ %s", ErrDuplicateDecision, d.Symbol, d.Bucket)
		}
		return fmt.Errorf("insert decision: %w", err)
	}

	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(d.Action), d.Source).Inc()
	}
	s.logger.Info().
		Str("decision_id", d.DecisionID).
		Str("action", string(d.Action)).
		Float64("confidence", d.Confidence).
		Str("source", d.Source).
		Time("bucket", d.Bucket).
		Msg("decision recorded")

	return nil
}

// Get retrieves a recorded decision by ID.
func (s *Service) Get(ctx context.Context, decisionID string) (*domain.Decision, error) {
	return s.decisions.GetByID(ctx, decisionID)
}

func (s *Service) validate(d *domain.Decision) error {
	if d == nil || d.DecisionID == "" {
		return fmt.Errorf("%w: empty decision_id", ErrInvalidDecision)
	}
	if d.Symbol != s.symbol {
		return fmt.Errorf("%w: unsupported symbol %q", ErrInvalidDecision, d.Symbol)
	}
	if !d.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidDecision, d.Confidence)
	}
	if d.Source != domain.DecisionSourceAgent && d.Source != domain.DecisionSourceValidator {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidDecision, d.Source)
	}
	if d.Bucket.IsZero() || !domain.IsBucketAligned(d.Bucket) {
		return fmt.Errorf("%w: bucket %v not minute-aligned", ErrInvalidDecision, d.Bucket)
	}
	return nil
}
