package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/docflow/internal/catalog"
	"github.com/pitabwire/docflow/model"
)

// --- Test helpers ---

type clientCall struct {
	DocumentID string
	Action     model.ActionID
	Payload    model.Payload
}

// recordingClient records every Execute and returns err.
type recordingClient struct {
	mu    sync.Mutex
	calls []clientCall
	err   error
}

func (c *recordingClient) Execute(_ context.Context, documentID string, action model.ActionID, payload model.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, clientCall{DocumentID: documentID, Action: action, Payload: payload})
	return c.err
}

func (c *recordingClient) Calls() []clientCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]clientCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// blockingClient blocks each Execute until release is closed.
type blockingClient struct {
	entered chan struct{}
	release chan struct{}
	err     error
}

func newBlockingClient() *blockingClient {
	return &blockingClient{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (c *blockingClient) Execute(ctx context.Context, _ string, _ model.ActionID, _ model.Payload) error {
	c.entered <- struct{}{}
	select {
	case <-c.release:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []model.TransitionEvent
}

func (l *eventLog) OnTransition(_ context.Context, ev model.TransitionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) Events() []model.TransitionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.TransitionEvent, len(l.events))
	copy(out, l.events)
	return out
}

func newTestEngine(client model.TransitionClient, opts ...Option) *Engine {
	return NewDefaultEngine(client, catalog.New(), opts...)
}

func mount(e *Engine, state model.WorkflowState, a model.ActorContext) *Instance {
	return e.Mount(model.Document{ID: "doc-1", State: state}, a, "user-1")
}

var validRegister = map[string]string{
	catalog.FieldReceivedNumber: "007",
	catalog.FieldReceivedDate:   "2024-02-01",
	catalog.FieldSender:         "Department X",
}

// --- Tests ---

func TestInstance_register_success(t *testing.T) {
	client := &recordingClient{}
	e := newTestEngine(client)
	inst := mount(e, model.StateIntake, actor(model.RoleIntakeClerk, false))

	if _, err := inst.SelectAction(context.Background(), model.ActionRegister); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}
	if err := inst.Submit(context.Background(), validRegister); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	calls := client.Calls()
	if len(calls) != 1 {
		t.Fatalf("client calls = %d, want 1", len(calls))
	}
	want := model.RegisterPayload{ReceivedNumber: 7, ReceivedDate: "2024-02-01", Sender: "Department X"}
	if calls[0].Payload != want {
		t.Errorf("payload = %+v, want %+v", calls[0].Payload, want)
	}
	if calls[0].DocumentID != "doc-1" || calls[0].Action != model.ActionRegister {
		t.Errorf("call = %+v", calls[0])
	}
	if got := inst.State(); got != model.StateRegistered {
		t.Errorf("State() = %q, want registered", got)
	}
	if inst.Snapshot().Pending != "" {
		t.Error("pending action not cleared after commit")
	}
}

func TestInstance_remote_failure_keeps_state(t *testing.T) {
	grants := []struct {
		state model.WorkflowState
		actor model.ActorContext
		raw   map[string]string
	}{
		{model.StateIntake, actor(model.RoleIntakeClerk, false), validRegister},
		{model.StateRegistered, actor(model.RoleLeader, false), map[string]string{catalog.FieldAssignees: "3"}},
		{model.StateAssigned, actor(model.RoleCaseOfficer, true), nil},
		{model.StateProcessing, actor(model.RoleCaseOfficer, true), nil},
		{model.StateCompleted, actor(model.RoleIntakeClerk, false), nil},
		{model.StateProcessing, actor(model.RoleAdmin, false), map[string]string{catalog.FieldReason: "Sai"}},
	}
	for _, tt := range grants {
		client := &recordingClient{err: model.NewRemoteError(403, "Không có quyền.")}
		e := newTestEngine(client)
		inst := mount(e, tt.state, tt.actor)

		available := inst.AvailableActions()
		action := available[len(available)-1]
		if _, err := inst.SelectAction(context.Background(), action); err != nil {
			t.Fatalf("SelectAction(%q) error = %v", action, err)
		}
		err := inst.Submit(context.Background(), tt.raw)
		if !model.IsCode(err, model.ErrRemoteError) {
			t.Fatalf("Submit(%q) error = %v, want REMOTE_ERROR", action, err)
		}
		if got := inst.State(); got != tt.state {
			t.Errorf("after failed %q State() = %q, want %q", action, got, tt.state)
		}
		if inst.Busy() {
			t.Errorf("after failed %q Busy() = true", action)
		}
		if len(client.Calls()) != 1 {
			t.Errorf("client calls = %d, want 1 (no retry)", len(client.Calls()))
		}
	}
}

func TestInstance_remote_error_message_surfaced(t *testing.T) {
	client := &recordingClient{err: errors.New("dial tcp: connection refused")}
	inst := mount(newTestEngine(client), model.StateIntake, actor(model.RoleIntakeClerk, false))
	if _, err := inst.SelectAction(context.Background(), model.ActionRegister); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}

	err := inst.Submit(context.Background(), validRegister)
	ee, ok := model.AsEnvelope(err)
	if !ok || ee.Code != model.ErrRemoteError {
		t.Fatalf("Submit() error = %v, want REMOTE_ERROR", err)
	}
	if ee.Message != "dial tcp: connection refused" {
		t.Errorf("Message = %q", ee.Message)
	}
}

func TestInstance_validation_blocks_network(t *testing.T) {
	client := &recordingClient{}
	inst := mount(newTestEngine(client), model.StateRegistered, actor(model.RoleLeader, false))
	if _, err := inst.SelectAction(context.Background(), model.ActionAssign); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}

	err := inst.Submit(context.Background(), map[string]string{catalog.FieldAssignees: ""})
	ee, ok := model.AsEnvelope(err)
	if !ok || ee.Code != model.ErrValidationError {
		t.Fatalf("Submit() error = %v, want VALIDATION_ERROR", err)
	}
	if ee.Message != "Cần ít nhất 1 user_id để phân công." {
		t.Errorf("Message = %q", ee.Message)
	}
	if n := len(client.Calls()); n != 0 {
		t.Errorf("client calls = %d, want 0", n)
	}
	if got := inst.State(); got != model.StateRegistered {
		t.Errorf("State() = %q, want registered", got)
	}
	if inst.Snapshot().Pending != model.ActionAssign {
		t.Error("pending action dropped after validation failure")
	}
}

func TestInstance_concurrent_submit_busy(t *testing.T) {
	client := newBlockingClient()
	inst := mount(newTestEngine(client), model.StateAssigned, actor(model.RoleCaseOfficer, true))
	if _, err := inst.SelectAction(context.Background(), model.ActionStart); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- inst.Submit(context.Background(), nil)
	}()

	select {
	case <-client.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first submit never reached the client")
	}

	if err := inst.Submit(context.Background(), nil); !model.IsCode(err, model.ErrBusy) {
		t.Errorf("second Submit() error = %v, want BUSY", err)
	}
	if _, err := inst.SelectAction(context.Background(), model.ActionStart); !model.IsCode(err, model.ErrBusy) {
		t.Errorf("SelectAction() while busy error = %v, want BUSY", err)
	}
	if !inst.Snapshot().Busy {
		t.Error("Snapshot().Busy = false while submit in flight")
	}

	close(client.release)
	if err := <-firstErr; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if got := inst.State(); got != model.StateProcessing {
		t.Errorf("State() = %q, want processing", got)
	}
	if inst.Busy() {
		t.Error("Busy() = true after submit returned")
	}
}

func TestInstance_Submit_cancelled_caller_still_commits(t *testing.T) {
	client := newBlockingClient()
	inst := mount(newTestEngine(client), model.StateAssigned, actor(model.RoleCaseOfficer, true))
	if _, err := inst.SelectAction(context.Background(), model.ActionStart); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- inst.Submit(ctx, nil)
	}()

	select {
	case <-client.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("submit never reached the client")
	}
	cancel()

	select {
	case err := <-done:
		t.Fatalf("Submit() returned %v before the client finished", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(client.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := inst.State(); got != model.StateProcessing {
		t.Errorf("State() = %q, want processing", got)
	}
}

func TestInstance_Submit_call_timeout(t *testing.T) {
	client := newBlockingClient()
	inst := mount(newTestEngine(client, WithCallTimeout(20*time.Millisecond)),
		model.StateAssigned, actor(model.RoleCaseOfficer, true))
	if _, err := inst.SelectAction(context.Background(), model.ActionStart); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}

	err := inst.Submit(context.Background(), nil)
	if !model.IsCode(err, model.ErrRemoteError) {
		t.Fatalf("Submit() error = %v, want REMOTE_ERROR", err)
	}
	if got := inst.State(); got != model.StateAssigned {
		t.Errorf("State() = %q, want assigned", got)
	}
	if inst.Busy() {
		t.Error("Busy() = true after timed out submit")
	}
}

func TestInstance_Update_rejected_while_submitting(t *testing.T) {
	client := newBlockingClient()
	inst := mount(newTestEngine(client), model.StateAssigned, actor(model.RoleCaseOfficer, true))
	if _, err := inst.SelectAction(context.Background(), model.ActionStart); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- inst.Submit(context.Background(), nil)
	}()
	select {
	case <-client.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("submit never reached the client")
	}

	stale := model.StateAssigned
	if err := inst.Update(Patch{State: &stale}); !model.IsCode(err, model.ErrBusy) {
		t.Errorf("Update() while busy error = %v, want BUSY", err)
	}

	close(client.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := inst.State(); got != model.StateProcessing {
		t.Errorf("State() = %q, want processing", got)
	}

	if err := inst.Update(Patch{State: &stale}); err != nil {
		t.Errorf("Update() after submit error = %v", err)
	}
	if got := inst.State(); got != model.StateAssigned {
		t.Errorf("State() = %q, want assigned", got)
	}
}

func TestInstance_SelectAction_invalid(t *testing.T) {
	inst := mount(newTestEngine(&recordingClient{}), model.StateProcessing, actor(model.RoleCaseOfficer, true))
	_, err := inst.SelectAction(context.Background(), model.ActionWithdraw)
	if !model.IsCode(err, model.ErrInvalidAction) {
		t.Errorf("SelectAction(withdraw) error = %v, want INVALID_ACTION", err)
	}
}

func TestInstance_SelectAction_no_action_available(t *testing.T) {
	inst := mount(newTestEngine(&recordingClient{}), model.StateAssigned, actor(model.RoleCaseOfficer, false))
	if got := inst.AvailableActions(); len(got) != 0 {
		t.Fatalf("AvailableActions() = %v, want empty", got)
	}
	_, err := inst.SelectAction(context.Background(), model.ActionStart)
	if !model.IsCode(err, model.ErrNoActionAvailable) {
		t.Errorf("SelectAction() error = %v, want NO_ACTION_AVAILABLE", err)
	}
}

func TestInstance_SelectAction_seeds_defaults(t *testing.T) {
	e := newTestEngine(&recordingClient{})
	inst := e.Mount(model.Document{
		ID:       "doc-2",
		State:    model.StateIntake,
		Defaults: map[string]string{catalog.FieldSender: "Sở Y tế"},
	}, actor(model.RoleIntakeClerk, false), "user-1")

	fields, err := inst.SelectAction(context.Background(), model.ActionRegister)
	if err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}
	var sender string
	for _, f := range fields {
		if f.Name == catalog.FieldSender {
			sender = f.Value
		}
	}
	if sender != "Sở Y tế" {
		t.Errorf("sender default = %q, want Sở Y tế", sender)
	}
}

func TestInstance_Submit_without_selection(t *testing.T) {
	client := &recordingClient{}
	inst := mount(newTestEngine(client), model.StateIntake, actor(model.RoleIntakeClerk, false))
	err := inst.Submit(context.Background(), validRegister)
	if !model.IsCode(err, model.ErrInvalidAction) {
		t.Errorf("Submit() error = %v, want INVALID_ACTION", err)
	}
	if len(client.Calls()) != 0 {
		t.Error("client called without a selected action")
	}
}

func TestInstance_Update_forces_state_and_drops_stale_pending(t *testing.T) {
	inst := mount(newTestEngine(&recordingClient{}), model.StateRegistered, actor(model.RoleAdmin, false))
	if _, err := inst.SelectAction(context.Background(), model.ActionAssign); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}

	state := model.StateCompleted
	if err := inst.Update(Patch{State: &state, Defaults: map[string]string{"note": "x"}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	snap := inst.Snapshot()
	if snap.State != model.StateCompleted {
		t.Errorf("State = %q, want completed", snap.State)
	}
	if snap.Pending != "" {
		t.Errorf("Pending = %q, want cleared", snap.Pending)
	}
	if snap.Defaults["note"] != "x" {
		t.Error("defaults not merged")
	}
}

func TestInstance_Update_keeps_available_pending(t *testing.T) {
	inst := mount(newTestEngine(&recordingClient{}), model.StateProcessing, actor(model.RoleCaseOfficer, true))
	if _, err := inst.SelectAction(context.Background(), model.ActionComplete); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}
	leader := actor(model.RoleLeader, false)
	if err := inst.Update(Patch{Actor: &leader}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := inst.Snapshot().Pending; got != model.ActionComplete {
		t.Errorf("Pending = %q, want complete", got)
	}
}

func TestInstance_Update_rejects_unknown_values(t *testing.T) {
	inst := mount(newTestEngine(&recordingClient{}), model.StateIntake, actor(model.RoleIntakeClerk, false))
	bad := model.WorkflowState("lost")
	if err := inst.Update(Patch{State: &bad}); !model.IsCode(err, model.ErrBadRequest) {
		t.Errorf("Update(bad state) error = %v, want BAD_REQUEST", err)
	}
	if inst.State() != model.StateIntake {
		t.Error("state changed by rejected update")
	}
}

func TestInstance_withdraw_flow(t *testing.T) {
	client := &recordingClient{}
	inst := mount(newTestEngine(client), model.StateAssigned, actor(model.RoleAdmin, false))
	if _, err := inst.SelectAction(context.Background(), model.ActionWithdraw); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}
	if err := inst.Submit(context.Background(), map[string]string{catalog.FieldReason: "Gửi nhầm"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := inst.State(); got != model.StateWithdrawn {
		t.Errorf("State() = %q, want withdrawn", got)
	}
	if got := inst.AvailableActions(); len(got) != 0 {
		t.Errorf("AvailableActions() after withdraw = %v, want empty", got)
	}
}

func TestInstance_full_chain(t *testing.T) {
	client := &recordingClient{}
	inst := mount(newTestEngine(client), model.StateIntake, actor(model.RoleAdmin, true))
	steps := []struct {
		action model.ActionID
		raw    map[string]string
		want   model.WorkflowState
	}{
		{model.ActionRegister, validRegister, model.StateRegistered},
		{model.ActionAssign, map[string]string{catalog.FieldAssignees: "4, 9"}, model.StateAssigned},
		{model.ActionStart, nil, model.StateProcessing},
		{model.ActionComplete, map[string]string{catalog.FieldNote: "Xong"}, model.StateCompleted},
		{model.ActionArchive, nil, model.StateArchived},
	}
	for _, s := range steps {
		if _, err := inst.SelectAction(context.Background(), s.action); err != nil {
			t.Fatalf("SelectAction(%q) error = %v", s.action, err)
		}
		if err := inst.Submit(context.Background(), s.raw); err != nil {
			t.Fatalf("Submit(%q) error = %v", s.action, err)
		}
		if got := inst.State(); got != s.want {
			t.Fatalf("after %q State() = %q, want %q", s.action, got, s.want)
		}
	}
	if len(client.Calls()) != len(steps) {
		t.Errorf("client calls = %d, want %d", len(client.Calls()), len(steps))
	}
}

func TestInstance_observers_receive_events(t *testing.T) {
	log := &eventLog{}
	fixed := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	client := &recordingClient{}
	e := newTestEngine(client, WithObserver(log), WithClock(func() time.Time { return fixed }))
	inst := mount(e, model.StateIntake, actor(model.RoleIntakeClerk, false))

	if _, err := inst.SelectAction(context.Background(), model.ActionRegister); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}
	_ = inst.Submit(context.Background(), map[string]string{})
	if err := inst.Submit(context.Background(), validRegister); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := log.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Outcome != model.OutcomeRejected || events[0].Error == "" {
		t.Errorf("events[0] = %+v, want rejected with error", events[0])
	}
	committed := events[1]
	if committed.Outcome != model.OutcomeCommitted {
		t.Errorf("events[1].Outcome = %q, want committed", committed.Outcome)
	}
	if committed.From != model.StateIntake || committed.To != model.StateRegistered {
		t.Errorf("events[1] = %s → %s", committed.From, committed.To)
	}
	if committed.ActorID != "user-1" || committed.DocumentID != "doc-1" || committed.ID == "" {
		t.Errorf("events[1] identity = %+v", committed)
	}
	if !committed.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", committed.Timestamp, fixed)
	}
}

func TestInstance_client_panic_releases_busy(t *testing.T) {
	client := model.TransitionClientFunc(func(context.Context, string, model.ActionID, model.Payload) error {
		panic("boom")
	})
	inst := mount(newTestEngine(client), model.StateAssigned, actor(model.RoleLeader, true))
	if _, err := inst.SelectAction(context.Background(), model.ActionStart); err != nil {
		t.Fatalf("SelectAction() error = %v", err)
	}
	if err := inst.Submit(context.Background(), nil); !model.IsCode(err, model.ErrRemoteError) {
		t.Errorf("Submit() error = %v, want REMOTE_ERROR", err)
	}
	if inst.Busy() {
		t.Error("Busy() = true after panicking client")
	}
	if inst.State() != model.StateAssigned {
		t.Error("state changed after panicking client")
	}
}

func TestEngine_Mount_copies_defaults(t *testing.T) {
	defaults := map[string]string{catalog.FieldSender: "A"}
	inst := newTestEngine(&recordingClient{}).Mount(model.Document{ID: "d", State: model.StateIntake, Defaults: defaults}, actor(model.RoleIntakeClerk, false), "")
	defaults[catalog.FieldSender] = "B"
	if got := inst.Snapshot().Defaults[catalog.FieldSender]; got != "A" {
		t.Errorf("defaults aliased caller map: %q", got)
	}
}
