package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/docflow/model"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	expected := []string{
		"docflow_http_requests_total",
		"docflow_http_request_duration_seconds",
		"docflow_transitions_total",
		"docflow_transition_duration_seconds",
		"docflow_validation_failures_total",
		"docflow_invalid_action_total",
		"docflow_no_action_available_total",
		"docflow_backend_requests_total",
		"docflow_backend_request_duration_seconds",
		"docflow_backend_circuit_breaker_state",
		"docflow_backend_retries_total",
		"docflow_openapi_operations_indexed",
		"docflow_mounted_views",
		"docflow_view_mounts_total",
		"docflow_journal_append_failures_total",
	}

	// Record a value for each vector so it appears in Gather.
	ctx := context.Background()
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond)
	m.OnTransition(ctx, model.TransitionEvent{Action: model.ActionRegister, Outcome: model.OutcomeCommitted})
	m.OnTransition(ctx, model.TransitionEvent{Action: model.ActionRegister, Outcome: model.OutcomeRejected})
	m.RecordInvalidAction(model.ActionAssign)
	m.RecordNoActionAvailable()
	m.RecordBackendRequest("registerIncomingDocument", 200, time.Millisecond)
	m.SetBreakerState(0)
	m.RecordBackendRetry("registerIncomingDocument")
	m.SetOpenAPIOperationsIndexed(7)
	m.SetMountedViews(1)
	m.RecordViewMount("ok")
	m.RecordJournalFailure()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/views/{viewId}", 200, 50*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/views/{viewId}", 200, 100*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/views/{viewId}/submit", 502, 200*time.Millisecond)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/views/{viewId}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/views/{viewId}/submit", "502"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestOnTransition_countsByOutcome(t *testing.T) {
	m, _ := newTestMetrics(t)
	ctx := context.Background()

	m.OnTransition(ctx, model.TransitionEvent{
		Action: model.ActionAssign, Outcome: model.OutcomeCommitted, Duration: 40 * time.Millisecond,
	})
	m.OnTransition(ctx, model.TransitionEvent{
		Action: model.ActionAssign, Outcome: model.OutcomeFailed, Duration: 80 * time.Millisecond,
	})
	m.OnTransition(ctx, model.TransitionEvent{Action: model.ActionAssign, Outcome: model.OutcomeRejected})
	m.OnTransition(ctx, model.TransitionEvent{Outcome: model.OutcomeBusy})

	for _, outcome := range []string{model.OutcomeCommitted, model.OutcomeFailed, model.OutcomeRejected} {
		val := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("assign", outcome))
		if val != 1 {
			t.Errorf("transitions{assign,%s} = %v, want 1", outcome, val)
		}
	}
	if val := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("", model.OutcomeBusy)); val != 1 {
		t.Errorf("busy transitions = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.ValidationFailuresTotal.WithLabelValues("assign")); val != 1 {
		t.Errorf("validation failures = %v, want 1", val)
	}
	if count := testutil.CollectAndCount(m.TransitionDuration); count == 0 {
		t.Error("expected transition duration histogram to have observations")
	}
}

func TestRecordInvalidAction(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordInvalidAction(model.ActionArchive)
	m.RecordInvalidAction(model.ActionArchive)

	val := testutil.ToFloat64(m.InvalidActionRejections.WithLabelValues("archive"))
	if val != 2 {
		t.Errorf("invalid action rejections = %v, want 2", val)
	}
}

func TestRecordBackendRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackendRequest("assignIncomingDocument", 201, 100*time.Millisecond)

	val := testutil.ToFloat64(m.BackendRequestsTotal.WithLabelValues("assignIncomingDocument", "201"))
	if val != 1 {
		t.Errorf("backend requests = %v, want 1", val)
	}
}

func TestSetBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetBreakerState(0)
	if val := testutil.ToFloat64(m.BackendCircuitBreakerState); val != 0 {
		t.Errorf("circuit breaker state = %v, want 0 (closed)", val)
	}

	m.SetBreakerState(2)
	if val := testutil.ToFloat64(m.BackendCircuitBreakerState); val != 2 {
		t.Errorf("circuit breaker state = %v, want 2 (open)", val)
	}
}

func TestRecordBackendRetry(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackendRetry("startIncomingDocument")
	m.RecordBackendRetry("startIncomingDocument")
	val := testutil.ToFloat64(m.BackendRetriesTotal.WithLabelValues("startIncomingDocument"))
	if val != 2 {
		t.Errorf("retries = %v, want 2", val)
	}
}

func TestViewMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetMountedViews(3)
	if val := testutil.ToFloat64(m.MountedViews); val != 3 {
		t.Errorf("mounted views = %v, want 3", val)
	}

	m.RecordViewMount("ok")
	m.RecordViewMount(model.ErrForbidden)
	if val := testutil.ToFloat64(m.ViewMountsTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("ok mounts = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.ViewMountsTotal.WithLabelValues(model.ErrForbidden)); val != 1 {
		t.Errorf("forbidden mounts = %v, want 1", val)
	}

	m.RecordJournalFailure()
	if val := testutil.ToFloat64(m.JournalFailures); val != 1 {
		t.Errorf("journal failures = %v, want 1", val)
	}
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/views/{viewId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/views/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/views/{viewId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/views/{viewId}/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/views/v1/submit", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/views/{viewId}/submit", "409"))
	if val != 1 {
		t.Errorf("409 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.SetMountedViews(4)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "docflow_mounted_views 4") {
		t.Errorf("metrics body missing mounted views gauge:\n%s", rec.Body.String())
	}
}

func TestHistogramBuckets(t *testing.T) {
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
	for i := 1; i < len(backendDurationBuckets); i++ {
		if backendDurationBuckets[i] <= backendDurationBuckets[i-1] {
			t.Errorf("backendDurationBuckets not sorted at index %d", i)
		}
	}
}
