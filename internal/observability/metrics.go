package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/docflow/model"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Transition metrics
	TransitionsTotal          *prometheus.CounterVec
	TransitionDuration        *prometheus.HistogramVec
	ValidationFailuresTotal   *prometheus.CounterVec
	InvalidActionRejections   *prometheus.CounterVec
	NoActionAvailableRendered prometheus.Counter

	// Backend metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec
	OpenAPIOperationsIndexed   prometheus.Gauge

	// View metrics
	MountedViews    prometheus.Gauge
	ViewMountsTotal *prometheus.CounterVec
	JournalFailures prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_transitions_total",
			Help: "Total number of transition attempts by action and outcome.",
		}, []string{"action", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_transition_duration_seconds",
			Help:    "Duration of transition client calls in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"action"}),
		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_validation_failures_total",
			Help: "Total number of payload validation failures.",
		}, []string{"action"}),
		InvalidActionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_invalid_action_total",
			Help: "Total number of actions rejected as not permitted.",
		}, []string{"action"}),
		NoActionAvailableRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_no_action_available_total",
			Help: "Total number of views rendered with no permitted action.",
		}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_backend_requests_total",
			Help: "Total number of document backend requests.",
		}, []string{"operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_backend_request_duration_seconds",
			Help:    "Document backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_backend_retries_total",
			Help: "Total number of document backend retries.",
		}, []string{"operation"}),
		OpenAPIOperationsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_openapi_operations_indexed",
			Help: "Number of indexed backend OpenAPI operations.",
		}),

		MountedViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_mounted_views",
			Help: "Number of currently mounted workflow views.",
		}),
		ViewMountsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_view_mounts_total",
			Help: "Total number of view mount attempts.",
		}, []string{"result"}),
		JournalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_journal_append_failures_total",
			Help: "Total number of transition journal append failures.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransitionsTotal,
		m.TransitionDuration,
		m.ValidationFailuresTotal,
		m.InvalidActionRejections,
		m.NoActionAvailableRendered,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.OpenAPIOperationsIndexed,
		m.MountedViews,
		m.ViewMountsTotal,
		m.JournalFailures,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// OnTransition records a transition event. It satisfies the workflow
// observer contract so Metrics can be attached to the engine directly.
func (m *Metrics) OnTransition(_ context.Context, ev model.TransitionEvent) {
	action := string(ev.Action)
	m.TransitionsTotal.WithLabelValues(action, string(ev.Outcome)).Inc()

	switch ev.Outcome {
	case model.OutcomeCommitted, model.OutcomeFailed:
		m.TransitionDuration.WithLabelValues(action).Observe(ev.Duration.Seconds())
	case model.OutcomeRejected:
		m.ValidationFailuresTotal.WithLabelValues(action).Inc()
	}
}

// RecordInvalidAction records an action rejected by the permission matrix.
func (m *Metrics) RecordInvalidAction(action model.ActionID) {
	m.InvalidActionRejections.WithLabelValues(string(action)).Inc()
}

// RecordNoActionAvailable records a view rendered without actions.
func (m *Metrics) RecordNoActionAvailable() {
	m.NoActionAvailableRendered.Inc()
}

// RecordBackendRequest records a document backend request.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(operation string) {
	m.BackendRetriesTotal.WithLabelValues(operation).Inc()
}

// SetBreakerState sets the circuit breaker state gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBreakerState(state float64) {
	m.BackendCircuitBreakerState.Set(state)
}

// SetOpenAPIOperationsIndexed sets the number of indexed operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(count int) {
	m.OpenAPIOperationsIndexed.Set(float64(count))
}

// SetMountedViews sets the mounted view gauge.
func (m *Metrics) SetMountedViews(count int) {
	m.MountedViews.Set(float64(count))
}

// RecordViewMount records a mount attempt; result is "ok" or an error code.
func (m *Metrics) RecordViewMount(result string) {
	m.ViewMountsTotal.WithLabelValues(result).Inc()
}

// RecordJournalFailure records a failed journal append.
func (m *Metrics) RecordJournalFailure() {
	m.JournalFailures.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
