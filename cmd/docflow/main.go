// Package main is the entry point for the docflow server. It wires the
// workflow engine, the document backend and the HTTP surface together.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

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

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

// documentBackend is the pair of collaborators the engine and the session
// store need from the document API.
type documentBackend struct {
	client model.TransitionClient
	loader model.DocumentLoader
	health observability.HealthChecker
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "docflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Role aliases.
	aliases := capability.DefaultAliasTable()
	if cfg.Roles.AliasFile != "" {
		aliases, err = capability.LoadAliasTable(cfg.Roles.AliasFile)
		if err != nil {
			logger.Error("role alias initialization failed", zap.Error(err))
			return 1
		}
	}

	// Action catalog in the configured time zone.
	loc, err := catalog.LoadLocation(cfg.Views.TimeZone)
	if err != nil {
		logger.Error("time zone initialization failed", zap.Error(err))
		return 1
	}
	cat := catalog.New(catalog.WithLocation(loc))

	// Backend contract.
	var oaIndex *openapi.Index
	if cfg.Backend.SpecPath != "" {
		oaIndex = openapi.NewIndex()
		if err := oaIndex.Load(cfg.Backend.SpecPath, cfg.Backend.BaseURL); err != nil {
			logger.Error("OpenAPI index load failed", zap.Error(err))
			return 1
		}
		metrics.SetOpenAPIOperationsIndexed(len(oaIndex.OperationIDs()))
	}

	backend, err := buildBackend(cfg.Backend, oaIndex, metrics, logger)
	if err != nil {
		logger.Error("backend initialization failed", zap.Error(err))
		return 1
	}

	// Transition journal.
	jrnl, jrnlHealth, jrnlCloser, err := buildJournal(ctx, cfg.Journal, logger)
	if err != nil {
		logger.Error("journal initialization failed", zap.Error(err))
		return 1
	}
	recorder := journal.NewRecorder(jrnl, logger)
	recorder.OnAppendFailure(metrics.RecordJournalFailure)

	engine := workflow.NewDefaultEngine(backend.client, cat,
		workflow.WithLogger(logger),
		workflow.WithCallTimeout(callTimeout(cfg.Backend)),
		workflow.WithObserver(metrics),
		workflow.WithObserver(recorder),
	)

	store := session.NewStore(cfg.Views, engine, backend.loader,
		capability.NewActorResolver(aliases),
		session.WithRecorder(metrics),
		session.WithLogger(logger),
	)
	store.Start()
	defer store.Stop()

	ready := observability.ReadinessChecks{
		Backend: backend.health,
		Journal: jrnlHealth,
	}
	if oaIndex != nil {
		ready.OpenAPILoaded = func() bool { return len(oaIndex.OperationIDs()) > 0 }
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, cfg.Identity.Secret()),
		Store:        store,
		Journal:      jrnl,
		Metrics:      metrics,
		Gatherer:     prometheus.DefaultGatherer,
		Ready:        ready,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Reload role aliases on SIGHUP.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := aliases.Sync(); err != nil {
					logger.Error("role alias reload failed", zap.Error(err))
					continue
				}
				logger.Info("role aliases reloaded", zap.String("path", cfg.Roles.AliasFile))
			}
		}
	}()

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend_mode", cfg.Backend.Mode),
		zap.String("journal_driver", cfg.Journal.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if jrnlCloser != nil {
		jrnlCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildBackend creates the transition client and document loader for the
// configured backend mode.
func buildBackend(cfg config.BackendConfig, index *openapi.Index, metrics *observability.Metrics, logger *zap.Logger) (documentBackend, error) {
	switch cfg.Mode {
	case config.BackendModeLocal:
		local := invoker.NewLocalBackend(workflow.DefaultGraph().NextState)
		if cfg.SeedFile != "" {
			n, err := local.LoadSeed(cfg.SeedFile)
			if err != nil {
				return documentBackend{}, err
			}
			logger.Info("local documents seeded", zap.Int("documents", n))
		}
		logger.Warn("using in-process document backend; transitions are not persisted")
		return documentBackend{client: local.Client(), loader: local}, nil
	case config.BackendModeHTTP, "":
		b := invoker.NewBackend(cfg,
			invoker.WithRecorder(metrics),
			invoker.WithBackendLogger(logger),
		)
		client, err := invoker.NewHTTPTransitionClient(b, index, cfg.Operations)
		if err != nil {
			return documentBackend{}, err
		}
		return documentBackend{
			client: client,
			loader: invoker.NewHTTPDocumentLoader(b, cfg.DocumentPath),
			health: b.Breaker(),
		}, nil
	default:
		return documentBackend{}, fmt.Errorf("unsupported backend mode: %q", cfg.Mode)
	}
}

// buildJournal creates the transition journal for the configured driver.
func buildJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (journal.Journal, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case config.JournalMemory, "":
		logger.Info("using in-memory transition journal")
		j := journal.NewMemoryJournal(int(cfg.MaxLen))
		return j, j, nil, nil
	case config.JournalRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("journal: redis ping: %w", err)
		}
		j := journal.NewRedisJournal(client, cfg.StreamPrefix, cfg.MaxLen)
		return j, j, func() { _ = client.Close() }, nil
	case config.JournalPostgres:
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("journal: %s environment variable not set", cfg.DSNEnv)
		}
		j, err := journal.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := j.EnsureSchema(ctx); err != nil {
			j.Close()
			return nil, nil, nil, err
		}
		return j, j, j.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported journal driver: %q", cfg.Driver)
	}
}

// callTimeout bounds a whole transition call including its retries.
func callTimeout(cfg config.BackendConfig) time.Duration {
	attempts := cfg.Retry.MaxAttempts
	if attempts < 1 || cfg.Retry.IdempotentOnly {
		attempts = 1
	}
	return time.Duration(attempts)*cfg.Timeout + cfg.Retry.BackoffMax*time.Duration(attempts-1)
}
