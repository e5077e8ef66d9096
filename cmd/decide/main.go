// Package main runs one decision cycle: build the observation from stored
// candles and snapshots, ask the external producer for a decision, record it
// in the decision ledger, and optionally execute it. Scheduling is left to
// the surrounding orchestration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"sentinel-ledger/internal/decision"
	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/execution"
	"sentinel-ledger/internal/idhash"
	"sentinel-ledger/internal/ledger"
	"sentinel-ledger/internal/pricing"
	"sentinel-ledger/internal/storage/migrations"
	pgstore "sentinel-ledger/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	symbol := flag.String("symbol", envOr("LEDGER_SYMBOL", "BTCUSDT"), "single supported instrument")
	producerURL := flag.String("producer-url", os.Getenv("PRODUCER_URL"), "decision producer base URL")
	executeFlag := flag.Bool("execute", false, "execute the decision if BUY/SELL")
	timeout := flag.Duration("timeout", 30*time.Second, "overall cycle timeout")

	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if *postgresDSN == "" {
		logger.Fatal().Msg("--postgres-dsn is required")
	}
	if *producerURL == "" {
		logger.Fatal().Msg("--producer-url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	candleStore := pgstore.NewCandleStore(pool)
	snapStore := pgstore.NewIndicatorSnapshotStore(pool)
	tradeStore := pgstore.NewTradeStore(pool)
	ledgerStore := pgstore.NewLedgerStore(pool)

	builder := decision.NewObservationBuilder(candleStore, snapStore, ledgerStore)
	obs, err := builder.Build(ctx, *symbol)
	if err != nil {
		logger.Fatal().Err(err).Msg("build observation")
	}

	producer := decision.NewProducerClient(*producerURL, 10*time.Second)
	produced, err := producer.Decide(ctx, obs)
	if err != nil {
		logger.Fatal().Err(err).Msg("producer decide")
	}

	latest, err := candleStore.GetLatest(ctx, *symbol)
	if err != nil {
		logger.Fatal().Err(err).Msg("load latest candle")
	}
	bucket := latest.Bucket

	d := &domain.Decision{
		DecisionID:   idhash.ComputeDecisionID(domain.DecisionSourceAgent, *symbol, bucket),
		Symbol:       *symbol,
		Bucket:       bucket,
		Action:       domain.Action(produced.Action),
		Confidence:   produced.Confidence,
		Reason:       fmt.Sprintf("%s policy output", produced.Agent),
		Source:       domain.DecisionSourceAgent,
		ModelVersion: produced.Meta.ModelVersion,
		Probs: domain.ActionProbs{
			Hold: produced.Meta.Probs["HOLD"],
			Buy:  produced.Meta.Probs["BUY"],
			Sell: produced.Meta.Probs["SELL"],
		},
		LatencyMs: produced.Meta.LatencyMs,
		CreatedAt: time.Now().UTC(),
	}

	decisions := decision.NewService(*symbol, pgstore.NewDecisionStore(pool), ledgerStore, nil, logger)
	if err := decisions.Submit(ctx, d); err != nil {
		switch {
		case errors.Is(err, decision.ErrDuplicateDecision):
			logger.Warn().Str("decision_id", d.DecisionID).Msg("decision for bucket already recorded")
			return
		case errors.Is(err, ledger.ErrIllegal):
			logger.Warn().Err(err).Str("action", string(d.Action)).Msg("decision not legal now; not recorded")
			return
		default:
			logger.Fatal().Err(err).Msg("submit decision")
		}
	}

	logger.Info().
		Str("decision_id", d.DecisionID).
		Str("action", string(d.Action)).
		Float64("confidence", d.Confidence).
		Msg("decision recorded")

	if !*executeFlag || !d.Action.Executable() {
		return
	}

	resolver := pricing.NewResolver(candleStore)
	engine := execution.NewEngine(*symbol, tradeStore, ledgerStore, resolver, true, nil, logger)
	res, err := engine.Execute(ctx, execution.Request{
		DecisionID: d.DecisionID,
		Symbol:     *symbol,
		Bucket:     bucket,
		Action:     d.Action,
		Confidence: d.Confidence,
		Source:     d.Source,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("execute decision")
	}

	logger.Info().
		Str("status", string(res.Status)).
		Str("trade_id", res.TradeID).
		Str("price", res.Price.String()).
		Str("realized_pnl", res.RealizedPnL.String()).
		Msg("execution complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
