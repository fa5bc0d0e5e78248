package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/journal"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/session"
)

// Dependencies holds everything the router needs to construct handlers.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Store        *session.Store
	Journal      journal.Journal
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Ready        observability.ReadinessChecks
	Logger       *zap.Logger
}

// NewRouter creates a chi router with the full middleware chain and the
// view routes registered.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Ready))
	if deps.Config.Observability.Metrics.Enabled && deps.Gatherer != nil {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		if deps.Authenticate != nil {
			r.Use(deps.Authenticate)
		}
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/api/steps", handleSteps(deps.Store))
		r.Post("/api/views", handleViewMount(deps.Store))
		r.Route("/api/views/{viewId}", func(r chi.Router) {
			r.Get("/", handleViewGet(deps.Store))
			r.Delete("/", handleViewUnmount(deps.Store))
			r.Post("/select", handleViewSelect(deps.Store))
			r.Post("/submit", handleViewSubmit(deps.Store))
			r.Post("/refresh", handleViewRefresh(deps.Store))
		})
		if deps.Journal != nil {
			r.Get("/api/documents/{documentId}/history", handleHistory(deps.Store, deps.Journal))
		}
	})

	return r
}
