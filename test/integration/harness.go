// Package integration provides a test harness for end-to-end testing of the
// docflow server. It starts the full HTTP stack against a simulated document
// API and signs test tokens with a shared secret.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/docflow/internal/capability"
	"github.com/pitabwire/docflow/internal/catalog"
	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/invoker"
	"github.com/pitabwire/docflow/internal/journal"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/openapi"
	"github.com/pitabwire/docflow/internal/session"
	"github.com/pitabwire/docflow/internal/transport"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// TestHarness encapsulates a fully wired docflow instance with a simulated
// document API.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	API      *MockDocumentAPI
	Backend  *invoker.Backend
	OAIndex  *openapi.Index
	Journal  *journal.MemoryJournal
	Store    *session.Store
	Registry *prometheus.Registry
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	breaker        config.CircuitBreakerConfig
	retry          config.RetryConfig
	operations     map[string]string
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithBreaker overrides the backend circuit breaker settings.
func WithBreaker(cfg config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) { c.breaker = cfg }
}

// WithRetry overrides the backend retry settings.
func WithRetry(cfg config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) { c.retry = cfg }
}

// NewTestHarness creates and starts a full docflow test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
		retry: config.RetryConfig{
			MaxAttempts:       3,
			BackoffInitial:    time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Millisecond,
			IdempotentOnly:    true,
		},
		operations: map[string]string{
			"register": "registerIncomingDocument",
			"assign":   "assignIncomingDocument",
			"withdraw": "withdrawIncomingDocument",
		},
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t, issuer: newTokenIssuer()}
	h.API = newMockDocumentAPI(t)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Identity.Issuer = h.issuer.issuer
	cfg.Identity.Audience = h.issuer.audience
	cfg.Backend.BaseURL = h.API.URL()
	cfg.Backend.Timeout = 5 * time.Second
	cfg.Backend.CircuitBreaker = hc.breaker
	cfg.Backend.Retry = hc.retry
	cfg.Backend.Operations = hc.operations

	h.OAIndex = openapi.NewIndex()
	if err := h.OAIndex.Load(filepath.Join(repoRoot(), "specs", "documents-api.yaml"), h.API.URL()); err != nil {
		t.Fatalf("load OpenAPI spec: %v", err)
	}

	h.Registry = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Registry)

	h.Backend = invoker.NewBackend(cfg.Backend, invoker.WithRecorder(metrics))
	client, err := invoker.NewHTTPTransitionClient(h.Backend, h.OAIndex, cfg.Backend.Operations)
	if err != nil {
		t.Fatalf("transition client: %v", err)
	}
	loader := invoker.NewHTTPDocumentLoader(h.Backend, cfg.Backend.DocumentPath)

	h.Journal = journal.NewMemoryJournal(0)
	recorder := journal.NewRecorder(h.Journal, nil)
	recorder.OnAppendFailure(metrics.RecordJournalFailure)

	engine := workflow.NewDefaultEngine(client, catalog.New(),
		workflow.WithCallTimeout(cfg.Backend.Timeout),
		workflow.WithObserver(metrics),
		workflow.WithObserver(recorder),
	)
	h.Store = session.NewStore(cfg.Views, engine, loader,
		capability.NewActorResolver(capability.DefaultAliasTable()),
		session.WithRecorder(metrics),
	)

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, h.issuer.secret),
		Store:        h.Store,
		Journal:      h.Journal,
		Metrics:      metrics,
		Gatherer:     h.Registry,
		Ready: observability.ReadinessChecks{
			OpenAPILoaded: func() bool { return len(h.OAIndex.OperationIDs()) > 0 },
			Backend:       h.Backend.Breaker(),
			Journal:       h.Journal,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, headers)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- view helpers ---

// Mount mounts documentID for the token's subject and returns the view.
func (h *TestHarness) Mount(t *testing.T, documentID, token string) model.WorkflowView {
	t.Helper()
	var view model.WorkflowView
	h.AssertJSON(t, h.POST("/api/views", map[string]string{"document_id": documentID}, token), http.StatusCreated, &view)
	return view
}

// Select selects action on the view.
func (h *TestHarness) Select(t *testing.T, viewID string, action model.ActionID, token string) *http.Response {
	t.Helper()
	return h.POST("/api/views/"+viewID+"/select", map[string]string{"action": string(action)}, token)
}

// Submit submits values for the pending action of the view.
func (h *TestHarness) Submit(t *testing.T, viewID string, values map[string]string, token string) *http.Response {
	t.Helper()
	return h.POST("/api/views/"+viewID+"/submit", map[string]any{"values": values}, token)
}

// Run mounts documentID, selects action and submits values, expecting the
// given status from the submit.
func (h *TestHarness) Run(t *testing.T, documentID string, action model.ActionID, values map[string]string, token string, expected int) model.WorkflowView {
	t.Helper()
	view := h.Mount(t, documentID, token)
	h.AssertStatus(t, h.Select(t, view.ViewID, action, token), http.StatusOK)

	resp := h.Submit(t, view.ViewID, values, token)
	if expected != http.StatusOK {
		h.AssertStatus(t, resp, expected)
		resp.Body.Close()
		return view
	}
	var after model.WorkflowView
	h.AssertJSON(t, resp, http.StatusOK, &after)
	return after
}

// ErrorBody is the standard error response.
type ErrorBody struct {
	Error model.ErrorEnvelope `json:"error"`
}

// --- Default test claims ---

// ClerkClaims returns TestClaims for an intake clerk.
func ClerkClaims() TestClaims {
	return TestClaims{SubjectID: "101", Email: "vanthu@so.gov.vn", Roles: []string{"Văn thư"}}
}

// LeaderClaims returns TestClaims for a leader.
func LeaderClaims() TestClaims {
	return TestClaims{SubjectID: "201", Email: "lanhdao@so.gov.vn", Roles: []string{"LanhDao"}}
}

// OfficerClaims returns TestClaims for case officer n.
func OfficerClaims(n int64) TestClaims {
	return TestClaims{SubjectID: userID(n), Email: "chuyenvien@so.gov.vn", Roles: []string{"chuyen_vien"}}
}

// AdminClaims returns TestClaims for an administrator.
func AdminClaims() TestClaims {
	return TestClaims{SubjectID: "1", Email: "admin@so.gov.vn", Roles: []string{"admin"}}
}

// repoRoot returns the absolute path to the module root.
func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..")
}
