package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Observation is the 7-feature input the producer's policy was trained on.
type Observation struct {
	Return1      float64 `json:"return_1"`
	Return5      float64 `json:"return_5"`
	EMASpread    float64 `json:"ema_spread"`
	EMA9Slope    float64 `json:"ema_9_slope"`
	EMA21Slope   float64 `json:"ema_21_slope"`
	Position     int     `json:"position"` // 0=FLAT, 1=LONG
	UnrealizedPL float64 `json:"unrealized_pnl"`
}

// ProducerDecision is the producer's /decide response.
type ProducerDecision struct {
	Action     string `json:"action"` // HOLD | BUY | SELL
	Confidence float64 `json:"confidence"`
	Agent      string `json:"agent"`
	Meta       struct {
		ModelVersion string             `json:"model_version"`
		Probs        map[string]float64 `json:"probs"`
		ActionIdx    int                `json:"action_idx"`
		LatencyMs    float64            `json:"latency_ms"`
	} `json:"meta"`
}

// ProducerClient calls the external decision producer over HTTP.
type ProducerClient struct {
	client *resty.Client
}

// NewProducerClient creates a client for the producer at baseURL.
func NewProducerClient(baseURL string, timeout time.Duration) *ProducerClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)

	return &ProducerClient{client: client}
}

// Decide posts an observation and returns the producer's decision.
func (c *ProducerClient) Decide(ctx context.Context, obs *Observation) (*ProducerDecision, error) {
	var out ProducerDecision

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(obs).
		SetResult(&out).
		Post("/decide")
	if err != nil {
		return nil, fmt.Errorf("call producer: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("producer returned %s: %s", resp.Status(), resp.String())
	}

	return &out, nil
}

// Health reports whether the producer is reachable and which model it serves.
func (c *ProducerClient) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/health")
	if err != nil {
		return nil, fmt.Errorf("producer health: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("producer health returned %s", resp.Status())
	}

	return out, nil
}
