// Package invoker talks to the document backend: it sends workflow
// transitions and loads document snapshots over HTTP, with circuit breaker
// and retry support, and offers an in-process backend for local use.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/model"
)

// maxResponseBytes caps how much of a backend response body is read.
const maxResponseBytes = 10 << 20

// Recorder receives backend call measurements. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordBackendRequest(operation string, status int, duration time.Duration)
	RecordBackendRetry(operation string)
	SetBreakerState(state float64)
}

// Response is a raw backend response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Backend is the HTTP client shared by the transition client and the
// document loader.
type Backend struct {
	baseURL  string
	client   *http.Client
	breaker  *CircuitBreaker
	retry    config.RetryConfig
	recorder Recorder
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) BackendOption {
	return func(b *Backend) { b.recorder = r }
}

// WithBackendLogger sets the fallback logger.
func WithBackendLogger(l *zap.Logger) BackendOption {
	return func(b *Backend) { b.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) BackendOption {
	return func(b *Backend) { b.client = c }
}

// NewBackend creates a backend client from cfg.
func NewBackend(cfg config.BackendConfig, opts ...BackendOption) *Backend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := &Backend{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		retry:   cfg.Retry,
		logger:  zap.NewNop(),
		sleep:   sleepContext,
	}
	for _, o := range opts {
		o(b)
	}
	if b.recorder != nil {
		rec := b.recorder
		b.breaker.OnStateChange(func(s BreakerState) { rec.SetBreakerState(float64(s)) })
	}
	return b
}

// BaseURL returns the configured base URL without a trailing slash.
func (b *Backend) BaseURL() string {
	return b.baseURL
}

// Breaker exposes the circuit breaker, e.g. for readiness checks.
func (b *Backend) Breaker() *CircuitBreaker {
	return b.breaker
}

// Do sends one logical request, retrying network errors and 502/503/504
// responses with exponential backoff. Credentials and the correlation id are
// taken from the request context stored in ctx. base overrides the
// configured base URL when non-empty.
func (b *Backend) Do(ctx context.Context, operation, method, base, path string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("invoker: marshal body: %w", err)
		}
	}
	if base == "" {
		base = b.baseURL
	}
	url := strings.TrimSuffix(base, "/") + path

	ctx, span := observability.StartSpan(ctx, "backend."+operation,
		observability.AttrOperation.String(operation),
	)
	resp, err := b.doWithRetry(ctx, operation, method, url, payload)
	observability.EndSpanWithError(span, err)
	return resp, err
}

func (b *Backend) doWithRetry(ctx context.Context, operation, method, url string, payload []byte) (*Response, error) {
	log := observability.LoggerFrom(ctx, b.logger)
	attempts := b.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	canRetry := isIdempotentMethod(method) || !b.retry.IdempotentOnly
	if !canRetry {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if b.recorder != nil {
				b.recorder.RecordBackendRetry(operation)
			}
			if err := b.sleep(ctx, calculateBackoff(b.retry, attempt)); err != nil {
				return nil, model.NewBackendTimeoutError()
			}
		}

		resp, err := b.doOnce(ctx, operation, method, url, payload)
		if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				return nil, err
			}
			log.Debug("backend call failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Int("max", attempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < attempts-1 {
			log.Debug("backend returned retryable status",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Int("status", resp.StatusCode),
			)
			continue
		}
		return resp, nil
	}
	return nil, classifyTransportError(ctx, lastErr)
}

func (b *Backend) doOnce(ctx context.Context, operation, method, url string, payload []byte) (*Response, error) {
	if err := b.breaker.Allow(); err != nil {
		return nil, model.NewBackendUnavailableError()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header = buildRequestHeaders(ctx, method)

	started := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		b.breaker.RecordFailure()
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		b.breaker.RecordFailure()
		return nil, &transportError{err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		b.breaker.RecordFailure()
	case resp.StatusCode < 400:
		b.breaker.RecordSuccess()
	}
	if b.recorder != nil {
		b.recorder.RecordBackendRequest(operation, resp.StatusCode, time.Since(started))
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// transportError marks a failure below HTTP: the request never produced a
// response.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "invoker: request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func classifyTransportError(ctx context.Context, err error) error {
	var te *transportError
	if !errors.As(err, &te) {
		return err
	}
	if ctx.Err() != nil || isTimeout(err) {
		return model.NewBackendTimeoutError()
	}
	return model.NewBackendUnavailableError()
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func buildRequestHeaders(ctx context.Context, method string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}

	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if rctx.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		if rctx.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.SubjectID != "" {
			h.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
		}
		if rctx.Locale != "" {
			h.Set("Accept-Language", sanitizeHeader(rctx.Locale))
		}
	}
	observability.InjectTraceHeaders(ctx, h)
	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// remoteMessage extracts the most specific error message from a backend
// error body: error.message, then message, then detail.
func remoteMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if len(parsed.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(parsed.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Detail
}

// remoteError converts a non-2xx response into a REMOTE_ERROR envelope.
func remoteError(resp *Response) *model.ErrorEnvelope {
	return model.NewRemoteError(resp.StatusCode, remoteMessage(resp.Body))
}

// --- classification helpers ---

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
