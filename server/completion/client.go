// Package completion calls an OpenAI-compatible chat completion endpoint and
// classifies whatever comes back. The body is read and classified regardless
// of the HTTP status code, since error envelopes arrive on 4xx and 5xx
// responses as well as on 200.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teilomillet/colloquy/config"
	"github.com/teilomillet/colloquy/server/circuitbreaker"
	"github.com/teilomillet/colloquy/server/metrics"
	"go.uber.org/zap"
)

// Client sends one system+user exchange per call. There are no retries.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCircuitBreaker guards calls with cb. Only transport failures count
// against it.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithMetrics records outcomes and latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client from static configuration. cfg.Timeout of zero
// leaves the call unbounded apart from ctx.
func NewClient(cfg config.CompletionConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("completion"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete returns choices[0].message.content for the exchange. Every other
// outcome is a *Failure.
func (c *Client) Complete(ctx context.Context, instruction, question string) (string, error) {
	start := time.Now()
	text, err := c.complete(ctx, instruction, question)
	c.observe(start, err)
	return text, err
}

func (c *Client) complete(ctx context.Context, instruction, question string) (string, error) {
	if c.breaker == nil {
		body, err := c.send(ctx, instruction, question)
		if err != nil {
			return "", err
		}
		return c.classify(body)
	}

	var body []byte
	err := c.breaker.Execute(func() error {
		var sendErr error
		body, sendErr = c.send(ctx, instruction, question)
		return sendErr
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.logger.Warn("completion skipped, circuit open")
		return "", &Failure{Kind: Transport, Err: err}
	}
	if err != nil {
		return "", err
	}
	return c.classify(body)
}

// send performs the HTTP exchange and returns the raw body. Any error it
// returns is a Transport failure.
func (c *Client) send(ctx context.Context, instruction, question string) ([]byte, error) {
	payload, err := json.Marshal(request{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: instruction},
			{Role: "user", Content: question},
		},
	})
	if err != nil {
		return nil, c.transport(fmt.Errorf("encode request: %w", err), "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, c.transport(fmt.Errorf("build request: %w", err), "")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transport(err, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transport(fmt.Errorf("read response: %w", err), "")
	}
	if !json.Valid(body) {
		return nil, c.transport(fmt.Errorf("response is not JSON (status %d)", resp.StatusCode), string(body))
	}

	c.logger.Debug("completion response received",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)))
	return body, nil
}

func (c *Client) transport(err error, raw string) *Failure {
	c.logger.Warn("completion transport failure", zap.Error(err))
	return &Failure{Kind: Transport, Raw: raw, Err: err}
}

func (c *Client) classify(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", c.malformed(body)
	}

	if present(env.Error) {
		apiErr := decodeAPIError(env.Error)
		msg := apiErr.Format()
		c.logger.Warn("completion returned an API error",
			zap.String("error", msg),
			zap.String("type", apiErr.Type),
			zap.String("code", apiErr.Code))
		return "", &Failure{Kind: StructuredError, Message: msg, API: apiErr, Raw: string(body)}
	}

	if text, ok := content(env.Choices); ok {
		return text, nil
	}
	return "", c.malformed(body)
}

func (c *Client) malformed(body []byte) *Failure {
	c.logger.Warn("unexpected completion response format", zap.ByteString("body", body))
	return &Failure{
		Kind:    Malformed,
		Message: "unexpected response format: " + string(body),
		Raw:     string(body),
	}
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	c.metrics.CompletionRequests.WithLabelValues(Outcome(err)).Inc()
}

// Outcome names the result of a Complete call for metrics and logs.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind.String()
	}
	return Transport.String()
}
