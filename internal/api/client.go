// Package api implements the REST client for the parley server. All
// mutations (sends, edits, reactions, pins) go through REST; their effects
// come back to timelines through realtime broadcasts.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxRetries       = 3
	initialBackoff   = time.Second
	maxResponseBytes = 10 << 20 // prevent unbounded reads from API responses
)

// Recorder receives per-request observations. A nil Recorder is allowed.
type Recorder interface {
	RecordAPIRequest(method string, code int, latency time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordAPIRequest(string, int, time.Duration) {}

// Config holds the REST client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://parley.example.com/api/v1".
	BaseURL string

	// Token is the bearer token sent on every request.
	Token string

	// Timeout bounds a single HTTP exchange. Defaults to 30s.
	Timeout time.Duration

	// BreakerMaxFailures is the consecutive-failure count that opens the
	// circuit. Defaults to 5.
	BreakerMaxFailures uint32

	// BreakerInterval is the closed-state counter reset interval.
	// Defaults to 60s.
	BreakerInterval time.Duration

	// BreakerTimeout is how long the circuit stays open before a probe.
	// Defaults to 30s.
	BreakerTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BreakerMaxFailures == 0 {
		c.BreakerMaxFailures = 5
	}
	if c.BreakerInterval <= 0 {
		c.BreakerInterval = time.Minute
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Client is the REST client. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	logger  *slog.Logger
	rec     Recorder

	// retryBackoff is the first retry delay. Tests shorten it.
	retryBackoff time.Duration
}

// New creates a Client. A nil logger defaults to slog.Default(); a nil
// recorder discards observations.
func New(cfg Config, logger *slog.Logger, rec Recorder) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = noopRecorder{}
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		http:         &http.Client{Timeout: cfg.Timeout},
		tracer:       otel.Tracer("parley/api"),
		logger:       logger,
		rec:          rec,
		retryBackoff: initialBackoff,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "api",
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// request describes one REST call for the generic do helper.
type request struct {
	op      string // operation label for errors, spans and logs
	method  string
	path    string // relative to the base URL
	query   url.Values
	payload any
}

// attempt is the raw outcome of one HTTP exchange.
type attempt struct {
	status int
	body   []byte
	retry  time.Duration // server-requested wait, from Retry-After
}

// do sends one request and decodes the JSON response body into T. It
// retries transient statuses (429, 502, 503, 504) with exponential backoff
// and routes every exchange through the circuit breaker.
func do[T any](ctx context.Context, c *Client, r request) (*T, error) {
	res, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, fmt.Errorf("api: decode %s response: %w", r.op, err)
	}
	return &out, nil
}

// doStatus sends one request and discards the response body. Used for
// endpoints that reply 204.
func (c *Client) doStatus(ctx context.Context, r request) error {
	_, err := c.send(ctx, r)
	return err
}

func (c *Client) send(ctx context.Context, r request) (*attempt, error) {
	ctx, span := c.tracer.Start(ctx, "api."+r.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("http.route", r.path),
		),
	)
	defer span.End()

	var payload []byte
	if r.payload != nil {
		data, err := json.Marshal(r.payload)
		if err != nil {
			return nil, fmt.Errorf("api: marshal %s request: %w", r.op, err)
		}
		payload = data
	}

	backoff := c.retryBackoff
	for attemptNo := range maxRetries {
		res, err := c.exchange(ctx, r, payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: %s", ErrUnavailable, r.op)
			}
			if res == nil {
				return nil, err
			}
			if !retryable(res.status) || attemptNo == maxRetries-1 {
				return nil, newError(r.op, res)
			}
		} else if res.status < 400 {
			span.SetAttributes(attribute.Int("http.status_code", res.status))
			return res, nil
		} else if !retryable(res.status) || attemptNo == maxRetries-1 {
			apiErr := newError(r.op, res)
			span.SetAttributes(attribute.Int("http.status_code", res.status))
			span.SetStatus(codes.Error, apiErr.Error())
			return nil, apiErr
		}

		wait := backoff
		if res != nil && res.retry > 0 {
			wait = res.retry
		}
		c.logger.Debug("retrying request", "op", r.op, "attempt", attemptNo+1, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	// Unreachable under normal flow, but satisfy the compiler.
	return nil, fmt.Errorf("api: %s: max retries exceeded", r.op)
}

// exchange performs a single HTTP request through the circuit breaker.
// Server errors (5xx) come back as errors so the breaker counts them; the
// attempt carries the status either way.
func (c *Client) exchange(ctx context.Context, r request, payload []byte) (*attempt, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("api: create %s request: %w", r.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("api: %s request failed: %w", r.op, err)
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("api: read %s response: %w", r.op, err)
		}

		res := &attempt{status: resp.StatusCode, body: respBody}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				res.retry = time.Duration(secs) * time.Second
			}
		}

		// 5xx counts as a breaker failure; 4xx is the caller's problem.
		if resp.StatusCode >= 500 {
			return res, fmt.Errorf("api: %s: server status %d", r.op, resp.StatusCode)
		}
		return res, nil
	})
	c.record(r.method, result, start)

	res, _ := result.(*attempt)
	return res, err
}

func (c *Client) record(method string, result any, start time.Time) {
	code := 0
	if res, ok := result.(*attempt); ok && res != nil {
		code = res.status
	}
	c.rec.RecordAPIRequest(method, code, time.Since(start))
}

// retryable reports whether the status is worth another attempt.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// errorBody is the server's error response shape.
type errorBody struct {
	Error string `json:"error"`
}

func newError(op string, res *attempt) *Error {
	apiErr := &Error{Status: res.status, Op: op}
	var eb errorBody
	if err := json.Unmarshal(res.body, &eb); err == nil {
		apiErr.Message = eb.Error
	}
	return apiErr
}
