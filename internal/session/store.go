// Package session keeps the workflow instances of mounted views. Each view
// owns one instance for one document; abandoned views expire.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/metadata"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// Mount outcomes reported to the Recorder.
const (
	MountOK     = "ok"
	MountFailed = "failed"
)

// ActorResolver derives the actor context for a caller and document.
type ActorResolver interface {
	Resolve(rctx *model.RequestContext, doc model.Document) (model.ActorContext, error)
}

// Recorder receives view lifecycle measurements. *observability.Metrics
// satisfies it.
type Recorder interface {
	SetMountedViews(n int)
	RecordViewMount(result string)
	RecordInvalidAction(action model.ActionID)
	RecordNoActionAvailable()
}

type mountedView struct {
	id        string
	ownerID   string
	instance  *workflow.Instance
	mountedAt time.Time
}

// Store holds mounted views keyed by view id.
type Store struct {
	engine   *workflow.Engine
	loader   model.DocumentLoader
	resolver ActorResolver
	views    *metadata.ViewProvider
	cache    *ttlcache.Cache[string, *mountedView]
	recorder Recorder
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store. Views expire cfg.TTL after their last access;
// when cfg.Capacity views are mounted the least recently used is dropped.
func NewStore(
	cfg config.ViewsConfig,
	engine *workflow.Engine,
	loader model.DocumentLoader,
	resolver ActorResolver,
	opts ...Option,
) *Store {
	cacheOpts := []ttlcache.Option[string, *mountedView]{
		ttlcache.WithTTL[string, *mountedView](cfg.TTL),
	}
	if cfg.Capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, *mountedView](cfg.Capacity))
	}

	s := &Store{
		engine:   engine,
		loader:   loader,
		resolver: resolver,
		views:    metadata.NewViewProvider(engine.Graph(), engine.Catalog()),
		cache:    ttlcache.New[string, *mountedView](cacheOpts...),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	s.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *mountedView]) {
		v := item.Value()
		if reason != ttlcache.EvictionReasonDeleted {
			s.logger.Info("view evicted",
				zap.String("view_id", v.id),
				zap.String("document_id", v.instance.DocumentID()),
				zap.Int("reason", int(reason)),
			)
		}
		s.reportSize()
	})
	return s
}

// Start runs the expiry loop until Stop is called.
func (s *Store) Start() {
	go s.cache.Start()
}

// Stop ends the expiry loop.
func (s *Store) Stop() {
	s.cache.Stop()
}

// Len returns the number of mounted views.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Views returns the projection used for mounted views.
func (s *Store) Views() *metadata.ViewProvider {
	return s.views
}

// Mount loads documentID, resolves the caller's actor context and stores a
// fresh workflow instance under a new view id.
func (s *Store) Mount(ctx context.Context, rctx *model.RequestContext, documentID string) (model.WorkflowView, error) {
	if rctx == nil {
		return model.WorkflowView{}, model.NewUnauthorizedError("missing request context")
	}

	ctx, span := observability.StartSpan(ctx, "session.Mount",
		observability.AttrDocumentID.String(documentID),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	view, err := s.mount(ctx, rctx, documentID)
	observability.EndSpanWithError(span, err)

	if s.recorder != nil {
		result := MountOK
		if err != nil {
			result = MountFailed
		}
		s.recorder.RecordViewMount(result)
	}
	return view, err
}

func (s *Store) mount(ctx context.Context, rctx *model.RequestContext, documentID string) (model.WorkflowView, error) {
	doc, err := s.loader.Load(ctx, rctx, documentID)
	if err != nil {
		return model.WorkflowView{}, err
	}
	actor, err := s.resolver.Resolve(rctx, doc)
	if err != nil {
		return model.WorkflowView{}, err
	}

	v := &mountedView{
		id:        uuid.New().String(),
		ownerID:   rctx.SubjectID,
		instance:  s.engine.Mount(doc, actor, rctx.SubjectID),
		mountedAt: time.Now(),
	}
	s.cache.Set(v.id, v, ttlcache.DefaultTTL)
	s.reportSize()

	observability.ViewLogger(ctx, s.logger, v.id, doc.ID).Info("view mounted",
		zap.String("state", string(doc.State)),
		zap.String("role", string(actor.Role)),
		zap.Bool("is_assignee", actor.IsAssignee),
	)
	return s.projectChanged(v), nil
}

// View returns the current view model.
func (s *Store) View(_ context.Context, rctx *model.RequestContext, viewID string) (model.WorkflowView, error) {
	v, err := s.get(rctx, viewID)
	if err != nil {
		return model.WorkflowView{}, err
	}
	return s.project(v), nil
}

// Instance returns the workflow instance of a view owned by the caller.
func (s *Store) Instance(rctx *model.RequestContext, viewID string) (*workflow.Instance, error) {
	v, err := s.get(rctx, viewID)
	if err != nil {
		return nil, err
	}
	return v.instance, nil
}

// Select records action as the pending action and returns the view with its
// form.
func (s *Store) Select(ctx context.Context, rctx *model.RequestContext, viewID string, action model.ActionID) (model.WorkflowView, error) {
	v, err := s.get(rctx, viewID)
	if err != nil {
		return model.WorkflowView{}, err
	}
	if _, err := v.instance.SelectAction(ctx, action); err != nil {
		if s.recorder != nil && model.IsCode(err, model.ErrInvalidAction) {
			s.recorder.RecordInvalidAction(action)
		}
		return model.WorkflowView{}, err
	}
	return s.project(v), nil
}

// Submit sends the pending action with raw form values and returns the view
// after the transition. On failure the state is unchanged and the error is
// returned.
func (s *Store) Submit(ctx context.Context, rctx *model.RequestContext, viewID string, values map[string]string) (model.WorkflowView, error) {
	v, err := s.get(rctx, viewID)
	if err != nil {
		return model.WorkflowView{}, err
	}
	ctx = model.WithRequestContext(ctx, rctx)
	if err := v.instance.Submit(ctx, values); err != nil {
		return model.WorkflowView{}, err
	}
	return s.projectChanged(v), nil
}

// Refresh reloads the document and reconciles the instance with the server's
// state, role and defaults.
func (s *Store) Refresh(ctx context.Context, rctx *model.RequestContext, viewID string) (model.WorkflowView, error) {
	v, err := s.get(rctx, viewID)
	if err != nil {
		return model.WorkflowView{}, err
	}

	doc, err := s.loader.Load(ctx, rctx, v.instance.DocumentID())
	if err != nil {
		return model.WorkflowView{}, err
	}
	actor, err := s.resolver.Resolve(rctx, doc)
	if err != nil {
		return model.WorkflowView{}, err
	}

	before := v.instance.State()
	if err := v.instance.Update(workflow.Patch{
		State:    &doc.State,
		Actor:    &actor,
		Defaults: doc.Defaults,
	}); err != nil {
		return model.WorkflowView{}, fmt.Errorf("session: refresh %s: %w", viewID, err)
	}
	if before != doc.State {
		observability.ViewLogger(ctx, s.logger, viewID, doc.ID).Info("view reconciled",
			zap.String("from", string(before)),
			zap.String("to", string(doc.State)),
		)
	}
	return s.projectChanged(v), nil
}

// Authorize loads documentID on behalf of the caller so the backend's
// access decision applies to reads that bypass a mounted view. It returns
// the loader's FORBIDDEN or NOT_FOUND error unchanged.
func (s *Store) Authorize(ctx context.Context, rctx *model.RequestContext, documentID string) error {
	if rctx == nil {
		return model.NewUnauthorizedError("missing request context")
	}
	_, err := s.loader.Load(ctx, rctx, documentID)
	return err
}

// Unmount drops a view.
func (s *Store) Unmount(ctx context.Context, rctx *model.RequestContext, viewID string) error {
	v, err := s.get(rctx, viewID)
	if err != nil {
		return err
	}
	s.cache.Delete(viewID)
	s.reportSize()
	observability.ViewLogger(ctx, s.logger, viewID, v.instance.DocumentID()).Info("view unmounted",
		zap.Duration("age", time.Since(v.mountedAt)),
	)
	return nil
}

// get returns the caller's view. A view owned by someone else is reported
// as missing.
func (s *Store) get(rctx *model.RequestContext, viewID string) (*mountedView, error) {
	if rctx == nil {
		return nil, model.NewUnauthorizedError("missing request context")
	}
	item := s.cache.Get(viewID)
	if item == nil || item.Value().ownerID != rctx.SubjectID {
		return nil, model.NewNotFoundError(fmt.Sprintf("view %q not found", viewID))
	}
	return item.Value(), nil
}

func (s *Store) project(v *mountedView) model.WorkflowView {
	view := s.views.Project(v.instance.Snapshot())
	view.ViewID = v.id
	return view
}

// projectChanged projects a view whose state was just loaded or moved and
// counts it when it offers no action. Plain reads use project.
func (s *Store) projectChanged(v *mountedView) model.WorkflowView {
	view := s.project(v)
	if view.NoActionAvailable && s.recorder != nil {
		s.recorder.RecordNoActionAvailable()
	}
	return view
}

func (s *Store) reportSize() {
	if s.recorder != nil {
		s.recorder.SetMountedViews(s.cache.Len())
	}
}
