// Package main runs the ledger service: the execution API, position and
// portfolio reads, decision submission, candle append, and the operator
// kill-switch, plus a Prometheus metrics listener.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/api"
	"sentinel-ledger/internal/decision"
	"sentinel-ledger/internal/execution"
	"sentinel-ledger/internal/indicator"
	"sentinel-ledger/internal/ingest"
	"sentinel-ledger/internal/observability"
	"sentinel-ledger/internal/pricing"
	"sentinel-ledger/internal/storage"
	"sentinel-ledger/internal/storage/memory"
	"sentinel-ledger/internal/storage/migrations"
	pgstore "sentinel-ledger/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	symbol := flag.String("symbol", envOr("LEDGER_SYMBOL", "BTCUSDT"), "single supported instrument")
	initialCash := flag.String("initial-cash", envOr("LEDGER_INITIAL_CASH", "10000"), "cash seeded on first start")
	listenAddr := flag.String("listen-addr", envOr("LEDGER_LISTEN_ADDR", ":8080"), "API listen address")
	metricsAddr := flag.String("metrics-addr", envOr("LEDGER_METRICS_ADDR", ":9090"), "Prometheus metrics address")
	executionEnabled := flag.Bool("execution-enabled", envOr("LEDGER_EXECUTION_ENABLED", "true") == "true", "initial kill-switch state")
	useMemory := flag.Bool("use-memory", false, "use in-memory storage instead of PostgreSQL")
	debug := flag.Bool("debug", false, "debug logging")

	flag.Parse()

	logger := setupLogger(*debug)

	cash, err := decimal.NewFromString(*initialCash)
	if err != nil || cash.Sign() < 0 {
		logger.Fatal().Str("initial_cash", *initialCash).Msg("invalid --initial-cash")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		candleStore storage.CandleStore
		snapStore   storage.IndicatorSnapshotStore
		decStore    storage.DecisionStore
		tradeStore  storage.TradeStore
		ledgerStore storage.LedgerStore
	)

	if *useMemory {
		logger.Warn().Msg("using in-memory storage; state is lost on restart")
		trades := memory.NewTradeStore()
		candleStore = memory.NewCandleStore()
		snapStore = memory.NewIndicatorSnapshotStore()
		decStore = memory.NewDecisionStore()
		tradeStore = trades
		ledgerStore = memory.NewLedgerStore(trades)
	} else {
		if *postgresDSN == "" {
			logger.Fatal().Msg("--postgres-dsn is required")
		}
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}

		candleStore = pgstore.NewCandleStore(pool)
		snapStore = pgstore.NewIndicatorSnapshotStore(pool)
		decStore = pgstore.NewDecisionStore(pool)
		tradeStore = pgstore.NewTradeStore(pool)
		ledgerStore = pgstore.NewLedgerStore(pool)
	}

	if err := ledgerStore.Seed(ctx, *symbol, cash); err != nil {
		logger.Fatal().Err(err).Msg("seed ledger")
	}

	metrics := observability.NewMetrics("")
	resolver := pricing.NewResolver(candleStore)
	engine := execution.NewEngine(*symbol, tradeStore, ledgerStore, resolver, *executionEnabled, metrics, logger)
	decisions := decision.NewService(*symbol, decStore, ledgerStore, metrics, logger)
	updater := indicator.NewUpdater(snapStore, candleStore)
	ingestion := ingest.NewService(candleStore, updater, nil, metrics, logger)

	server := api.NewServer(engine, decisions, ingestion, ledgerStore, tradeStore, candleStore, logger)

	apiSrv := &http.Server{
		Addr:         *listenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: observability.Handler()}

	go func() {
		logger.Info().Str("addr", *metricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	go func() {
		logger.Info().
			Str("addr", *listenAddr).
			Str("symbol", *symbol).
			Bool("execution_enabled", engine.Enabled()).
			Msg("ledger service listening")
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api listener failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func setupLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
