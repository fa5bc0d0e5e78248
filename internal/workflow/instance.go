package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/catalog"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/model"
)

// Span attribute keys.
var (
	attrDocumentID = attribute.Key("docflow.document_id")
	attrAction     = attribute.Key("docflow.action")
	attrRole       = attribute.Key("docflow.role")
	attrFromState  = attribute.Key("docflow.from_state")
	attrToState    = attribute.Key("docflow.to_state")
)

// Instance is the runtime workflow of one mounted document. All methods are
// safe for concurrent use; at most one Submit is in flight at a time.
type Instance struct {
	engine     *Engine
	documentID string
	actorID    string

	mu       sync.Mutex
	state    model.WorkflowState
	actor    model.ActorContext
	defaults map[string]string
	pending  model.ActionID
	busy     bool
}

// Snapshot is a consistent copy of an instance's observable state.
type Snapshot struct {
	DocumentID string
	State      model.WorkflowState
	Actor      model.ActorContext
	Available  []model.ActionID
	Pending    model.ActionID
	Fields     []catalog.FieldSpec
	Defaults   map[string]string
	Busy       bool
}

// Patch carries values from an external refresh. Nil fields are left as is;
// Defaults are merged key by key.
type Patch struct {
	State    *model.WorkflowState
	Actor    *model.ActorContext
	Defaults map[string]string
}

// DocumentID returns the id of the mounted document.
func (i *Instance) DocumentID() string { return i.documentID }

// State returns the current workflow state.
func (i *Instance) State() model.WorkflowState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Busy reports whether a submit is in flight.
func (i *Instance) Busy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.busy
}

// AvailableActions returns the actions the actor may initiate now.
func (i *Instance) AvailableActions() []model.ActionID {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.engine.matrix.AvailableActions(i.state, i.actor)
}

// SelectAction records id as the pending action and returns its form fields
// seeded with the instance defaults. It fails with BUSY while a submit is in
// flight, NO_ACTION_AVAILABLE when nothing is permitted, and INVALID_ACTION
// when id is not currently available.
func (i *Instance) SelectAction(ctx context.Context, id model.ActionID) ([]catalog.FieldSpec, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.busy {
		return nil, model.NewBusyError()
	}
	available := i.engine.matrix.AvailableActions(i.state, i.actor)
	if len(available) == 0 {
		return nil, model.NewNoActionAvailableError()
	}
	if !containsAction(available, id) {
		i.logger(ctx).Warn("action not available",
			zap.String("action", string(id)),
			zap.String("state", string(i.state)),
			zap.String("role", string(i.actor.Role)),
		)
		return nil, model.NewInvalidActionError(id, i.state, i.actor.Role)
	}

	i.pending = id
	return i.engine.catalog.SeededFields(id, i.defaults), nil
}

// ClearSelection drops the pending action.
func (i *Instance) ClearSelection() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending = ""
}

// Submit validates raw values for the pending action, sends the payload
// through the transition client and, only when the client reports success,
// advances the state. Validation failures never reach the client. A remote
// failure leaves the state unchanged and is returned as REMOTE_ERROR. A
// second Submit while one is in flight fails with BUSY. Once issued, the
// remote call runs to completion even if ctx is cancelled, so the local
// state never diverges from a transition the server applied.
func (i *Instance) Submit(ctx context.Context, raw map[string]string) error {
	e := i.engine
	log := i.logger(ctx)

	i.mu.Lock()
	if i.busy {
		ev := i.eventLocked("", model.OutcomeBusy)
		i.mu.Unlock()
		e.notify(ctx, ev)
		return model.NewBusyError()
	}

	action := i.pending
	if action == "" || !e.matrix.Allows(i.state, i.actor, action) {
		state, role := i.state, i.actor.Role
		i.mu.Unlock()
		log.Warn("submit without an available pending action",
			zap.String("action", string(action)),
			zap.String("state", string(state)),
			zap.String("role", string(role)),
		)
		return model.NewInvalidActionError(action, state, role)
	}

	payload, err := e.catalog.BuildPayload(action, raw)
	if err != nil {
		ev := i.eventLocked(action, model.OutcomeRejected)
		ev.Error = err.Error()
		i.mu.Unlock()
		e.notify(ctx, ev)
		return err
	}

	from := i.state
	actor := i.actor
	i.busy = true
	i.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "workflow.Submit")
	span.SetAttributes(
		attrDocumentID.String(i.documentID),
		attrAction.String(string(action)),
		attrRole.String(string(actor.Role)),
		attrFromState.String(string(from)),
	)
	defer span.End()

	callCtx := context.WithoutCancel(ctx)
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.callTimeout)
		defer cancel()
	}

	started := e.now()
	execErr := i.execute(callCtx, action, payload)
	elapsed := e.now().Sub(started)

	i.mu.Lock()
	i.busy = false
	if execErr != nil {
		ev := i.eventLocked(action, model.OutcomeFailed)
		i.mu.Unlock()

		remote := asRemoteError(execErr)
		ev.From, ev.To = from, from
		ev.Error = remote.Message
		ev.Duration = elapsed
		span.RecordError(execErr)
		span.SetStatus(codes.Error, remote.Message)
		log.Warn("transition rejected by server",
			zap.String("action", string(action)),
			zap.String("state", string(from)),
			zap.Error(execErr),
		)
		e.notify(ctx, ev)
		return remote
	}

	if i.state != from {
		// Only reachable if a writer bypassed the busy guard in Update.
		current := i.state
		ev := i.eventLocked(action, model.OutcomeFailed)
		i.mu.Unlock()
		log.Error("state moved during submit; commit skipped",
			zap.String("action", string(action)),
			zap.String("from", string(from)),
			zap.String("current", string(current)),
		)
		ev.From = from
		ev.Error = "state changed while the transition was in flight"
		ev.Duration = elapsed
		e.notify(ctx, ev)
		return model.NewBusyError()
	}

	next, ok := e.graph.NextState(from, action)
	if !ok {
		log.Warn("action does not match any edge; state unchanged",
			zap.String("action", string(action)),
			zap.String("state", string(from)),
		)
	}
	i.state = next
	i.pending = ""
	ev := i.eventLocked(action, model.OutcomeCommitted)
	i.mu.Unlock()

	ev.From, ev.To = from, next
	ev.Duration = elapsed
	span.SetAttributes(attrToState.String(string(next)))
	log.Info("transition committed",
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.Duration("duration", elapsed),
	)
	e.notify(ctx, ev)
	return nil
}

// Update reconciles the instance with externally refreshed values. It is the
// only way to force the state. A pending action that is no longer available
// is dropped. Update fails with BUSY while a Submit is in flight.
func (i *Instance) Update(p Patch) error {
	if p.State != nil && !p.State.Valid() {
		return model.NewBadRequestError("unknown workflow state " + string(*p.State))
	}
	if p.Actor != nil && !p.Actor.Role.Valid() {
		return model.NewBadRequestError("unknown role " + string(p.Actor.Role))
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.busy {
		return model.NewBusyError()
	}
	if p.State != nil {
		i.state = *p.State
	}
	if p.Actor != nil {
		i.actor = *p.Actor
	}
	for k, v := range p.Defaults {
		i.defaults[k] = v
	}
	if i.pending != "" && !i.engine.matrix.Allows(i.state, i.actor, i.pending) {
		i.pending = ""
	}
	return nil
}

// Snapshot returns a consistent copy of the instance state.
func (i *Instance) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	defaults := make(map[string]string, len(i.defaults))
	for k, v := range i.defaults {
		defaults[k] = v
	}
	s := Snapshot{
		DocumentID: i.documentID,
		State:      i.state,
		Actor:      i.actor,
		Available:  i.engine.matrix.AvailableActions(i.state, i.actor),
		Pending:    i.pending,
		Defaults:   defaults,
		Busy:       i.busy,
	}
	if i.pending != "" {
		s.Fields = i.engine.catalog.SeededFields(i.pending, i.defaults)
	}
	return s
}

// execute calls the client, converting a panic into an error so the busy flag
// is always released.
func (i *Instance) execute(ctx context.Context, action model.ActionID, payload model.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transition client panic: %v", r)
		}
	}()
	return i.engine.client.Execute(ctx, i.documentID, action, payload)
}

func (i *Instance) eventLocked(action model.ActionID, outcome string) model.TransitionEvent {
	return model.TransitionEvent{
		ID:         uuid.New().String(),
		DocumentID: i.documentID,
		Action:     action,
		Role:       i.actor.Role,
		ActorID:    i.actorID,
		From:       i.state,
		To:         i.state,
		Outcome:    outcome,
		Timestamp:  i.engine.now().UTC(),
	}
}

func (i *Instance) logger(ctx context.Context) *zap.Logger {
	return observability.DocumentLogger(ctx, i.engine.logger, i.documentID)
}

func asRemoteError(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		if ee.Code == model.ErrRemoteError {
			return ee
		}
		return &model.ErrorEnvelope{
			Code:       model.ErrRemoteError,
			Message:    ee.Message,
			Details:    ee.Details,
			StatusCode: ee.StatusCode,
		}
	}
	return model.NewRemoteError(0, err.Error())
}

func containsAction(actions []model.ActionID, id model.ActionID) bool {
	for _, a := range actions {
		if a == id {
			return true
		}
	}
	return false
}
