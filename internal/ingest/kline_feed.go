package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/storage"
)

// klineEvent is the exchange's kline stream payload.
type klineEvent struct {
	EventType string `json:"e"`
	Kline     struct {
		StartTimeMs int64  `json:"t"`
		Symbol      string `json:"s"`
		Interval    string `json:"i"`
		Open        string `json:"o"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Close       string `json:"c"`
		Volume      string `json:"v"`
		Closed      bool   `json:"x"`
	} `json:"k"`
}

// KlineFeed consumes a 1m kline WebSocket stream and appends each closed
// candle via the ingestion service. Forming (unclosed) klines are ignored:
// only the documented close of a finished bucket enters the store.
type KlineFeed struct {
	url     string
	symbol  string
	service *Service
	logger  zerolog.Logger

	reconnectDelay time.Duration
}

// NewKlineFeed creates a feed for symbol reading from url.
func NewKlineFeed(url, symbol string, service *Service, logger zerolog.Logger) *KlineFeed {
	return &KlineFeed{
		url:            url,
		symbol:         symbol,
		service:        service,
		logger:         logger.With().Str("component", "kline_feed").Logger(),
		reconnectDelay: 5 * time.Second,
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting on errors.
func (f *KlineFeed) Run(ctx context.Context) error {
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn().Err(err).Dur("retry_in", f.reconnectDelay).Msg("stream dropped")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *KlineFeed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	f.logger.Info().Str("url", f.url).Msg("stream connected")

	// Unblock ReadMessage when ctx is cancelled. The done channel releases
	// the watcher when this connection ends, so reconnect cycles do not
	// accumulate goroutines.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var event klineEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			f.logger.Warn().Err(err).Msg("unparseable stream message")
			continue
		}
		if event.EventType != "kline" || !event.Kline.Closed {
			continue
		}

		candle, err := f.toCandle(&event)
		if err != nil {
			f.logger.Warn().Err(err).Msg("malformed kline")
			continue
		}

		if _, err := f.service.Append(ctx, candle); err != nil {
			// Replays after reconnect re-deliver the last closed kline.
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			f.logger.Error().Err(err).Time("bucket", candle.Bucket).Msg("append failed")
		}
	}
}

func (f *KlineFeed) toCandle(event *klineEvent) (*domain.Candle, error) {
	k := &event.Kline
	if !strings.EqualFold(k.Symbol, f.symbol) {
		return nil, fmt.Errorf("unexpected symbol %q", k.Symbol)
	}

	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return nil, fmt.Errorf("parse open: %w", err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return nil, fmt.Errorf("parse high: %w", err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return nil, fmt.Errorf("parse low: %w", err)
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return nil, fmt.Errorf("parse close: %w", err)
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return nil, fmt.Errorf("parse volume: %w", err)
	}

	return &domain.Candle{
		Symbol: f.symbol,
		Bucket: domain.AlignBucket(time.UnixMilli(k.StartTimeMs)),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}
