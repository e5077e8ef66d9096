// Package api exposes the ledger engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-ledger/internal/decision"
	"sentinel-ledger/internal/domain"
	"sentinel-ledger/internal/execution"
	"sentinel-ledger/internal/ingest"
	"sentinel-ledger/internal/ledger"
	"sentinel-ledger/internal/pricing"
	"sentinel-ledger/internal/storage"
)

// Server wires HTTP handlers to the engine and stores.
type Server struct {
	engine    *execution.Engine
	decisions *decision.Service
	ingestion *ingest.Service
	ledgers   storage.LedgerStore
	trades    storage.TradeStore
	candles   storage.CandleStore
	logger    zerolog.Logger
}

// NewServer creates the API server.
func NewServer(
	engine *execution.Engine,
	decisions *decision.Service,
	ingestion *ingest.Service,
	ledgers storage.LedgerStore,
	trades storage.TradeStore,
	candles storage.CandleStore,
	logger zerolog.Logger,
) *Server {
	return &Server{
		engine:    engine,
		decisions: decisions,
		ingestion: ingestion,
		ledgers:   ledgers,
		trades:    trades,
		candles:   candles,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/execute", s.handleExecute)
	mux.HandleFunc("GET /v1/position", s.handlePosition)
	mux.HandleFunc("GET /v1/portfolio", s.handlePortfolio)
	mux.HandleFunc("POST /v1/decisions", s.handleSubmitDecision)
	mux.HandleFunc("POST /v1/candles", s.handleAppendCandle)
	mux.HandleFunc("POST /admin/execution", s.handleSetExecution)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// executeRequest mirrors the external execute contract.
type executeRequest struct {
	Symbol         string  `json:"symbol"`
	Bucket         string  `json:"bucket"` // ISO-8601
	Action         string  `json:"action"`
	Confidence     float64 `json:"confidence"`
	DecisionID     string  `json:"decision_id"`
	DecisionSource string  `json:"decision_source"` // agent | validator
}

type executeResponse struct {
	Status         string          `json:"status"`
	Action         string          `json:"action"`
	Price          decimal.Decimal `json:"price"`
	AssetAmount    decimal.Decimal `json:"asset_amount"`
	PositionBefore string          `json:"position_before"`
	PositionAfter  string          `json:"position_after"`
	ExecutedAt     time.Time       `json:"executed_at"`
	TradeID        string          `json:"trade_id"`
	PnLRealized    decimal.Decimal `json:"pnl_realized"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	bucket, err := time.Parse(time.RFC3339, req.Bucket)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bucket must be ISO-8601")
		return
	}

	res, err := s.engine.Execute(r.Context(), execution.Request{
		DecisionID: req.DecisionID,
		Symbol:     req.Symbol,
		Bucket:     bucket.UTC(),
		Action:     domain.Action(req.Action),
		Confidence: req.Confidence,
		Source:     req.DecisionSource,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, executeResponse{
		Status:         string(res.Status),
		Action:         string(res.Action),
		Price:          res.Price,
		AssetAmount:    res.AssetAmount,
		PositionBefore: string(res.PositionBefore),
		PositionAfter:  string(res.PositionAfter),
		ExecutedAt:     res.ExecutedAt,
		TradeID:        res.TradeID,
		PnLRealized:    res.RealizedPnL,
	})
}

type positionResponse struct {
	State       string           `json:"state"`
	EntryPrice  *decimal.Decimal `json:"entry_price"`
	EntryBucket *time.Time       `json:"entry_bucket"`
	Size        *decimal.Decimal `json:"size"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.ledgers.GetPosition(r.Context(), s.engine.Symbol())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, positionResponse{
		State:       string(pos.State),
		EntryPrice:  pos.EntryPrice,
		EntryBucket: pos.EntryBucket,
		Size:        pos.Size,
		UpdatedAt:   pos.UpdatedAt,
	})
}

type portfolioResponse struct {
	Cash          decimal.Decimal  `json:"cash"`
	AssetQuantity decimal.Decimal  `json:"asset_quantity"`
	AvgEntryPrice *decimal.Decimal `json:"avg_entry_price"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal  `json:"realized_pnl"`
	Equity        decimal.Decimal  `json:"equity"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	symbol := s.engine.Symbol()

	bal, err := s.ledgers.GetPortfolio(ctx, symbol)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	// Mark against the latest stored close; zero when no candle exists yet.
	var lastClose decimal.Decimal
	if c, err := s.candles.GetLatest(ctx, symbol); err == nil {
		lastClose = c.Close
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.writeEngineError(w, err)
		return
	}

	trades, err := s.trades.GetBySymbol(ctx, symbol)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	realized := decimal.Zero
	for _, t := range trades {
		realized = realized.Add(t.RealizedPnL)
	}

	unrealized := decimal.Zero
	if bal.AvgEntryPrice != nil && lastClose.Sign() > 0 {
		unrealized = lastClose.Sub(*bal.AvgEntryPrice).Mul(bal.AssetQuantity)
	}
	equity := bal.Cash.Add(bal.AssetQuantity.Mul(lastClose))

	s.writeJSON(w, http.StatusOK, portfolioResponse{
		Cash:          bal.Cash,
		AssetQuantity: bal.AssetQuantity,
		AvgEntryPrice: bal.AvgEntryPrice,
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
		Equity:        equity,
	})
}

type submitDecisionRequest struct {
	DecisionID   string  `json:"decision_id"`
	Symbol       string  `json:"symbol"`
	Bucket       string  `json:"bucket"`
	Action       string  `json:"action"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	Source       string  `json:"decision_source"`
	ModelVersion string  `json:"model_version"`
	ProbHold     float64 `json:"prob_hold"`
	ProbBuy      float64 `json:"prob_buy"`
	ProbSell     float64 `json:"prob_sell"`
	LatencyMs    float64 `json:"latency_ms"`
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	var req submitDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	bucket, err := time.Parse(time.RFC3339, req.Bucket)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bucket must be ISO-8601")
		return
	}

	d := &domain.Decision{
		DecisionID:   req.DecisionID,
		Symbol:       req.Symbol,
		Bucket:       bucket.UTC(),
		Action:       domain.Action(req.Action),
		Confidence:   req.Confidence,
		Reason:       req.Reason,
		Source:       req.Source,
		ModelVersion: req.ModelVersion,
		Probs: domain.ActionProbs{
			Hold: req.ProbHold,
			Buy:  req.ProbBuy,
			Sell: req.ProbSell,
		},
		LatencyMs: req.LatencyMs,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.decisions.Submit(r.Context(), d); err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"decision_id": d.DecisionID,
		"status":      "RECORDED",
	})
}

type appendCandleRequest struct {
	Symbol string `json:"symbol"`
	Bucket string `json:"bucket"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

func (s *Server) handleAppendCandle(w http.ResponseWriter, r *http.Request) {
	var req appendCandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	bucket, err := time.Parse(time.RFC3339, req.Bucket)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bucket must be ISO-8601")
		return
	}

	candle := &domain.Candle{
		Symbol: req.Symbol,
		Bucket: bucket.UTC(),
	}
	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", req.Open, &candle.Open},
		{"high", req.High, &candle.High},
		{"low", req.Low, &candle.Low},
		{"close", req.Close, &candle.Close},
		{"volume", req.Volume, &candle.Volume},
	} {
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid decimal in field "+field.name)
			return
		}
		*field.dst = v
	}

	snap, err := s.ingestion.Append(r.Context(), candle)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status": "APPENDED",
		"bucket": candle.Bucket,
		"ema9":   snap.EMA9,
		"ema21":  snap.EMA21,
	})
}

type setExecutionRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetExecution(w http.ResponseWriter, r *http.Request) {
	var req setExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.engine.SetEnabled(req.Enabled)
	s.logger.Info().Bool("enabled", req.Enabled).Msg("kill-switch set")

	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.engine.Enabled()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"symbol":            s.engine.Symbol(),
		"execution_enabled": s.engine.Enabled(),
	})
}

// writeEngineError maps engine and store errors onto the HTTP contract.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, execution.ErrInvalidRequest),
		errors.Is(err, decision.ErrInvalidDecision),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, pricing.ErrNoExecutionPrice):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrIllegal),
		errors.Is(err, decision.ErrDuplicateDecision),
		errors.Is(err, storage.ErrDuplicateKey):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, execution.ErrExecutionDisabled):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		// Internal failure: the transaction rolled back, state is unchanged.
		s.logger.Error().Err(err).Msg("internal error")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}
