package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

func seededLedger(t *testing.T) (*LedgerStore, *TradeStore) {
	t.Helper()
	trades := NewTradeStore()
	store := NewLedgerStore(trades)
	if err := store.Seed(context.Background(), "BTCUSDT", decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	return store, trades
}

func testTrade(id, decisionID string) *domain.Trade {
	return &domain.Trade{
		TradeID:        id,
		DecisionID:     decisionID,
		Symbol:         "BTCUSDT",
		Side:           string(domain.ActionBuy),
		Bucket:         baseBucket,
		Price:          decimal.NewFromInt(50000),
		AssetAmount:    decimal.NewFromFloat(0.05),
		CashAmount:     decimal.NewFromInt(2500),
		RealizedPnL:    decimal.Zero,
		PositionBefore: domain.PositionFlat,
		PositionAfter:  domain.PositionLong,
		ExecutedAt:     time.Now().UTC(),
	}
}

func TestLedgerStore_SeedIsIdempotent(t *testing.T) {
	store, _ := seededLedger(t)
	ctx := context.Background()

	// a second seed must not reset the balance
	if err := store.Seed(ctx, "BTCUSDT", decimal.NewFromInt(99999)); err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}

	bal, err := store.GetPortfolio(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if !bal.Cash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Cash = %s, want 10000", bal.Cash)
	}

	pos, err := store.GetPosition(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos.State != domain.PositionFlat {
		t.Errorf("State = %s, want FLAT", pos.State)
	}
}

func TestLedgerStore_UnseededSymbol(t *testing.T) {
	store := NewLedgerStore(NewTradeStore())
	ctx := context.Background()

	if _, err := store.GetPosition(ctx, "BTCUSDT"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetPosition: expected ErrNotFound, got %v", err)
	}
	err := store.Transact(ctx, "BTCUSDT", func(tx storage.LedgerTx) error { return nil })
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Transact: expected ErrNotFound, got %v", err)
	}
}

func TestLedgerStore_TransactCommits(t *testing.T) {
	store, trades := seededLedger(t)
	ctx := context.Background()

	err := store.Transact(ctx, "BTCUSDT", func(tx storage.LedgerTx) error {
		bal, err := tx.Portfolio(ctx)
		if err != nil {
			return err
		}
		bal.Cash = decimal.NewFromInt(7500)
		bal.AssetQuantity = decimal.NewFromFloat(0.05)
		price := decimal.NewFromInt(50000)
		bal.AvgEntryPrice = &price

		pos, err := tx.Position(ctx)
		if err != nil {
			return err
		}
		size := decimal.NewFromFloat(0.05)
		bucket := baseBucket
		pos.State = domain.PositionLong
		pos.EntryPrice = &price
		pos.EntryBucket = &bucket
		pos.Size = &size

		if err := tx.InsertTrade(ctx, testTrade("t-1", "d-1")); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		return tx.SavePortfolio(ctx, bal)
	})
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}

	bal, err := store.GetPortfolio(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if !bal.Cash.Equal(decimal.NewFromInt(7500)) {
		t.Errorf("Cash = %s, want 7500", bal.Cash)
	}

	if _, err := trades.GetByDecisionID(ctx, "d-1"); err != nil {
		t.Errorf("trade not committed: %v", err)
	}
}

func TestLedgerStore_TransactRollsBack(t *testing.T) {
	store, trades := seededLedger(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Transact(ctx, "BTCUSDT", func(tx storage.LedgerTx) error {
		bal, err := tx.Portfolio(ctx)
		if err != nil {
			return err
		}
		bal.Cash = decimal.Zero
		if err := tx.SavePortfolio(ctx, bal); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, testTrade("t-1", "d-1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// nothing staged may be visible
	bal, err := store.GetPortfolio(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if !bal.Cash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Cash = %s, want untouched 10000", bal.Cash)
	}
	if _, err := trades.GetByDecisionID(ctx, "d-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("trade leaked from failed transaction: %v", err)
	}
}

func TestLedgerStore_DuplicateDecisionInTx(t *testing.T) {
	store, _ := seededLedger(t)
	ctx := context.Background()

	insert := func(tradeID string) error {
		return store.Transact(ctx, "BTCUSDT", func(tx storage.LedgerTx) error {
			return tx.InsertTrade(ctx, testTrade(tradeID, "d-1"))
		})
	}

	if err := insert("t-1"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := insert("t-2"); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestLedgerStore_ConcurrentTransacts(t *testing.T) {
	store, _ := seededLedger(t)
	ctx := context.Background()

	// each transaction decrements cash by 1; serialization means no lost updates
	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Transact(ctx, "BTCUSDT", func(tx storage.LedgerTx) error {
				bal, err := tx.Portfolio(ctx)
				if err != nil {
					return err
				}
				bal.Cash = bal.Cash.Sub(decimal.NewFromInt(1))
				return tx.SavePortfolio(ctx, bal)
			})
		}()
	}
	wg.Wait()

	bal, err := store.GetPortfolio(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if !bal.Cash.Equal(decimal.NewFromInt(10000 - workers)) {
		t.Errorf("Cash = %s, want %d", bal.Cash, 10000-workers)
	}
}
