// Package auditsink forwards user actions to the practice's external audit
// system. Delivery is best effort: the pathway workflow never blocks or
// fails because the sink is down.
package auditsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zorgflow/carepath/pkg/circuitbreaker"
)

// Action is one user action to record.
type Action struct {
	User      string    `json:"user"`
	Role      string    `json:"role"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds audit sink configuration.
type Config struct {
	// Endpoint is the audit system's ingest URL. Empty disables forwarding.
	Endpoint string
	// Timeout bounds each delivery attempt
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
	}
}

// Client delivers actions to the audit system behind a circuit breaker.
type Client struct {
	config  Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a new audit sink client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("audit-sink"), logger)
	if err != nil {
		return nil, fmt.Errorf("create audit breaker: %w", err)
	}

	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Record forwards a user action. Failures are logged and swallowed; the
// circuit breaker keeps a down sink from slowing callers.
func (c *Client) Record(ctx context.Context, action Action) {
	if c.config.Endpoint == "" {
		return
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}

	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, c.post(ctx, action)
	})
	if err != nil {
		c.logger.Warn("audit sink delivery failed",
			zap.String("action", action.Action),
			zap.String("user", action.User),
			zap.Error(err))
	}
}

func (c *Client) post(ctx context.Context, action Action) error {
	body, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post action: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("audit sink returned %d", resp.StatusCode)
	}
	return nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}
