package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/ledger"
	"sentinel-ledger/internal/storage"
	"sentinel-ledger/internal/storage/memory"
)

const testSymbol = "BTCUSDT"

var testBucket = time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.LedgerStore) {
	t.Helper()

	ledgerStore := memory.NewLedgerStore(memory.NewTradeStore())
	if err := ledgerStore.Seed(context.Background(), testSymbol, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	return NewService(testSymbol, memory.NewDecisionStore(), ledgerStore, nil, zerolog.Nop()), ledgerStore
}

func decisionFor(id string, bucket time.Time, action domain.Action) *domain.Decision {
	return &domain.Decision{
		DecisionID: id,
		Symbol:     testSymbol,
		Bucket:     bucket,
		Action:     action,
		Confidence: 0.7,
		Source:     domain.DecisionSourceAgent,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestSubmit_RecordsAndRetrieves(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	d := decisionFor("dec-1", testBucket, domain.ActionBuy)
	if err := svc.Submit(ctx, d); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := svc.Get(ctx, "dec-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Action != domain.ActionBuy || !got.Bucket.Equal(testBucket) {
		t.Errorf("stored decision mismatch: %+v", got)
	}
}

func TestSubmit_DuplicateDecisionID(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Submit(ctx, decisionFor("dec-1", testBucket, domain.ActionHold)); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	err := svc.Submit(ctx, decisionFor("dec-1", testBucket.Add(time.Minute), domain.ActionHold))
	if !errors.Is(err, ErrDuplicateDecision) {
		t.Fatalf("expected ErrDuplicateDecision, got %v", err)
	}

	// the original record is not overwritten
	got, err := svc.Get(ctx, "dec-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Bucket.Equal(testBucket) {
		t.Errorf("original decision was overwritten: bucket = %v", got.Bucket)
	}
}

func TestSubmit_DuplicateBucket(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Submit(ctx, decisionFor("dec-1", testBucket, domain.ActionHold)); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}

	// one decision per (symbol, bucket)
	err := svc.Submit(ctx, decisionFor("dec-2", testBucket, domain.ActionHold))
	if !errors.Is(err, ErrDuplicateDecision) {
		t.Fatalf("expected ErrDuplicateDecision, got %v", err)
	}
}

func TestSubmit_AdvisoryLegality(t *testing.T) {
	svc, ledgerStore := newService(t)
	ctx := context.Background()

	// SELL while FLAT is rejected before it is recorded
	err := svc.Submit(ctx, decisionFor("dec-1", testBucket, domain.ActionSell))
	if !errors.Is(err, ledger.ErrIllegal) {
		t.Fatalf("expected ErrIllegal, got %v", err)
	}
	if _, err := svc.Get(ctx, "dec-1"); err == nil {
		t.Error("illegal decision was recorded")
	}

	// HOLD is always recordable, whatever the state
	if err := svc.Submit(ctx, decisionFor("dec-2", testBucket, domain.ActionHold)); err != nil {
		t.Fatalf("HOLD Submit failed: %v", err)
	}

	// once LONG, BUY is the advisory rejection and SELL passes
	err = ledgerStore.Transact(ctx, testSymbol, func(tx storage.LedgerTx) error {
		pos, err := tx.Position(ctx)
		if err != nil {
			return err
		}
		bal, err := tx.Portfolio(ctx)
		if err != nil {
			return err
		}
		if _, err := ledger.ApplyBuy(pos, bal, decimal.NewFromInt(50000), testBucket, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		return tx.SavePortfolio(ctx, bal)
	})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}

	if err := svc.Submit(ctx, decisionFor("dec-3", testBucket.Add(time.Minute), domain.ActionBuy)); !errors.Is(err, ledger.ErrIllegal) {
		t.Fatalf("BUY while LONG: expected ErrIllegal, got %v", err)
	}
	if err := svc.Submit(ctx, decisionFor("dec-4", testBucket.Add(2*time.Minute), domain.ActionSell)); err != nil {
		t.Fatalf("SELL while LONG failed: %v", err)
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*domain.Decision)
	}{
		{"empty decision_id", func(d *domain.Decision) { d.DecisionID = "" }},
		{"wrong symbol", func(d *domain.Decision) { d.Symbol = "ETHUSDT" }},
		{"unknown action", func(d *domain.Decision) { d.Action = "SHORT" }},
		{"confidence out of range", func(d *domain.Decision) { d.Confidence = 1.2 }},
		{"unknown source", func(d *domain.Decision) { d.Source = "oracle" }},
		{"unaligned bucket", func(d *domain.Decision) { d.Bucket = d.Bucket.Add(time.Second) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decisionFor("dec-x", testBucket, domain.ActionHold)
			tt.mutate(d)
			if err := svc.Submit(ctx, d); !errors.Is(err, ErrInvalidDecision) {
				t.Errorf("expected ErrInvalidDecision, got %v", err)
			}
		})
	}
}
