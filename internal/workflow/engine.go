package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/catalog"
	"github.com/pitabwire/docflow/model"
)

const tracerName = "github.com/pitabwire/docflow/internal/workflow"

// Observer is notified after every submit attempt on any instance mounted by
// an engine. Observers run synchronously on the submitting goroutine and must
// not call back into the instance.
type Observer interface {
	OnTransition(ctx context.Context, event model.TransitionEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event model.TransitionEvent)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(ctx context.Context, event model.TransitionEvent) {
	f(ctx, event)
}

// Engine holds the immutable workflow tables and the transition client
// shared by every mounted instance.
type Engine struct {
	graph     *Graph
	matrix    *Matrix
	catalog   *catalog.Catalog
	client    model.TransitionClient
	observers []Observer
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	callTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an observer for transition events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer overrides the tracer used for submit spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCallTimeout bounds each transition call. Submit detaches the call from
// the caller's cancellation, so this is the only deadline it observes.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// NewEngine creates a new workflow engine.
func NewEngine(
	graph *Graph,
	matrix *Matrix,
	cat *catalog.Catalog,
	client model.TransitionClient,
	opts ...Option,
) *Engine {
	e := &Engine{
		graph:   graph,
		matrix:  matrix,
		catalog: cat,
		client:  client,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewDefaultEngine wires the default graph, matrix and catalog around client.
func NewDefaultEngine(client model.TransitionClient, cat *catalog.Catalog, opts ...Option) *Engine {
	if cat == nil {
		cat = catalog.New()
	}
	graph := DefaultGraph()
	return NewEngine(graph, DefaultMatrix(graph, cat), cat, client, opts...)
}

// Graph returns the engine's state graph.
func (e *Engine) Graph() *Graph { return e.graph }

// Matrix returns the engine's permission matrix.
func (e *Engine) Matrix() *Matrix { return e.matrix }

// Catalog returns the engine's action catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Mount creates the runtime instance for one document. The instance is owned
// by the caller and must not be shared across documents.
func (e *Engine) Mount(doc model.Document, actor model.ActorContext, actorID string) *Instance {
	defaults := make(map[string]string, len(doc.Defaults))
	for k, v := range doc.Defaults {
		defaults[k] = v
	}
	return &Instance{
		engine:     e,
		documentID: doc.ID,
		actorID:    actorID,
		state:      doc.State,
		actor:      actor,
		defaults:   defaults,
	}
}

func (e *Engine) notify(ctx context.Context, event model.TransitionEvent) {
	for _, o := range e.observers {
		o.OnTransition(ctx, event)
	}
}
