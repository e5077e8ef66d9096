package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// DecisionStore implements storage.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *Pool
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(pool *Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// Insert adds a new decision. Returns ErrDuplicateKey if decision_id or
// (symbol, bucket) already exists.
func (s *DecisionStore) Insert(ctx context.Context, d *domain.Decision) error {
	if d == nil || d.DecisionID == "" || d.Symbol == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO decisions (
			decision_id, symbol, bucket, action, confidence, reason, source,
			model_version, prob_hold, prob_buy, prob_sell, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(ctx, query,
		d.DecisionID, d.Symbol, d.Bucket, string(d.Action), d.Confidence, d.Reason, d.Source,
		d.ModelVersion, d.Probs.Hold, d.Probs.Buy, d.Probs.Sell, d.LatencyMs, d.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetByID retrieves a decision by its ID. Returns ErrNotFound if not exists.
func (s *DecisionStore) GetByID(ctx context.Context, decisionID string) (*domain.Decision, error) {
	query := selectDecision + ` WHERE decision_id = $1`

	row := s.pool.QueryRow(ctx, query, decisionID)
	d, err := scanDecision(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get decision by id: %w", err)
	}
	return d, nil
}

// GetByBucket retrieves the decision for (symbol, bucket).
func (s *DecisionStore) GetByBucket(ctx context.Context, symbol string, bucket time.Time) (*domain.Decision, error) {
	query := selectDecision + ` WHERE symbol = $1 AND bucket = $2`

	row := s.pool.QueryRow(ctx, query, symbol, bucket)
	d, err := scanDecision(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get decision by bucket: %w", err)
	}
	return d, nil
}

const selectDecision = `
	SELECT
		decision_id, symbol, bucket, action, confidence, reason, source,
		model_version, prob_hold, prob_buy, prob_sell, latency_ms, created_at
	FROM decisions
`

// scanDecision scans a single row into a Decision.
func scanDecision(row pgx.Row) (*domain.Decision, error) {
	var (
		d      domain.Decision
		action string
	)

	err := row.Scan(
		&d.DecisionID, &d.Symbol, &d.Bucket, &action, &d.Confidence, &d.Reason, &d.Source,
		&d.ModelVersion, &d.Probs.Hold, &d.Probs.Buy, &d.Probs.Sell, &d.LatencyMs, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Action = domain.Action(action)
	d.Bucket = d.Bucket.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}
