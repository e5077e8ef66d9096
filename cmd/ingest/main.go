// Package main runs the candle ingestion collaborator: it consumes a 1m
// kline WebSocket stream, appends closed candles, drives the indicator
// updater synchronously, and optionally mirrors data into ClickHouse.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"sentinel-ledger/internal/indicator"
	"sentinel-ledger/internal/ingest"
	"sentinel-ledger/internal/observability"
	chstore "sentinel-ledger/internal/storage/clickhouse"
	"sentinel-ledger/internal/storage/migrations"
	pgstore "sentinel-ledger/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "optional ClickHouse archive DSN")
	symbol := flag.String("symbol", envOr("LEDGER_SYMBOL", "BTCUSDT"), "single supported instrument")
	streamURL := flag.String("stream-url", os.Getenv("KLINE_STREAM_URL"), "kline WebSocket stream URL")
	debug := flag.Bool("debug", false, "debug logging")

	flag.Parse()

	logger := setupLogger(*debug)

	if *postgresDSN == "" {
		logger.Fatal().Msg("--postgres-dsn is required")
	}
	if *streamURL == "" {
		logger.Fatal().Msg("--stream-url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	var archiver ingest.Archiver
	if *clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect clickhouse")
		}
		defer conn.Close()

		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			logger.Fatal().Err(err).Msg("run clickhouse migrations")
		}
		archiver = chstore.NewArchiveStore(conn)
		logger.Info().Msg("clickhouse archive enabled")
	}

	metrics := observability.NewMetrics("")
	candles := pgstore.NewCandleStore(pool)
	updater := indicator.NewUpdater(pgstore.NewIndicatorSnapshotStore(pool), candles)
	service := ingest.NewService(candles, updater, archiver, metrics, logger)
	feed := ingest.NewKlineFeed(*streamURL, *symbol, service, logger)

	logger.Info().Str("symbol", *symbol).Str("stream", *streamURL).Msg("ingestion starting")
	if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("feed stopped")
	}
	logger.Info().Msg("ingestion stopped")
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
