package invoker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

func TestLocalTransitionClient_Register(t *testing.T) {
	c := NewLocalTransitionClient()
	called := false
	c.Register(model.ActionStart, HandlerFunc(func(context.Context, string, model.Payload) error {
		called = true
		return nil
	}))

	if err := c.Execute(context.Background(), "1", model.ActionStart, model.StartPayload{}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}

	actions := c.Actions()
	if len(actions) != 1 || actions[0] != model.ActionStart {
		t.Errorf("Actions() = %v", actions)
	}
}

func TestLocalTransitionClient_Register_duplicatePanics(t *testing.T) {
	c := NewLocalTransitionClient()
	h := HandlerFunc(func(context.Context, string, model.Payload) error { return nil })
	c.Register(model.ActionArchive, h)

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register() should panic")
		}
	}()
	c.Register(model.ActionArchive, h)
}

func TestLocalTransitionClient_Execute_unregistered(t *testing.T) {
	c := NewLocalTransitionClient()
	err := c.Execute(context.Background(), "1", model.ActionArchive, model.ArchivePayload{})
	ee, ok := model.AsEnvelope(err)
	if !ok || ee.Code != model.ErrRemoteError || ee.StatusCode != http.StatusNotImplemented {
		t.Errorf("Execute() error = %v, want REMOTE_ERROR 501", err)
	}
}

func TestLocalTransitionClient_Execute_handlerError(t *testing.T) {
	c := NewLocalTransitionClient()
	boom := errors.New("boom")
	c.Register(model.ActionStart, HandlerFunc(func(context.Context, string, model.Payload) error { return boom }))

	if err := c.Execute(context.Background(), "1", model.ActionStart, model.StartPayload{}); !errors.Is(err, boom) {
		t.Errorf("Execute() error = %v, want boom", err)
	}
}

func TestLocalBackend_walkChain(t *testing.T) {
	b := NewLocalBackend(workflow.DefaultGraph().NextState)
	b.Put(model.Document{ID: "vb-1", State: model.StateIntake})
	c := b.Client()
	ctx := context.Background()

	if err := c.Execute(ctx, "vb-1", model.ActionRegister, model.RegisterPayload{
		ReceivedNumber: 41, ReceivedDate: "2026-04-01", Sender: "UBND tỉnh",
	}); err != nil {
		t.Fatalf("register error = %v", err)
	}
	if err := c.Execute(ctx, "vb-1", model.ActionAssign, model.AssignPayload{Assignees: []int64{3, 5}}); err != nil {
		t.Fatalf("assign error = %v", err)
	}

	doc, err := b.Load(ctx, nil, "vb-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.State != model.StateAssigned {
		t.Errorf("State = %q, want assigned", doc.State)
	}
	if doc.Defaults["received_number"] != "41" || doc.Defaults["sender"] != "UBND tỉnh" {
		t.Errorf("Defaults = %v", doc.Defaults)
	}
	if len(doc.Assignees) != 2 || doc.Assignees[0] != "3" || doc.Assignees[1] != "5" {
		t.Errorf("Assignees = %v", doc.Assignees)
	}
}

func TestLocalBackend_rejectsInvalidTransition(t *testing.T) {
	b := NewLocalBackend(workflow.DefaultGraph().NextState)
	b.Put(model.Document{ID: "vb-2", State: model.StateArchived})

	err := b.Client().Execute(context.Background(), "vb-2", model.ActionStart, model.StartPayload{})
	ee, ok := model.AsEnvelope(err)
	if !ok || ee.StatusCode != http.StatusConflict {
		t.Errorf("Execute() error = %v, want REMOTE_ERROR 409", err)
	}

	doc, _ := b.Load(context.Background(), nil, "vb-2")
	if doc.State != model.StateArchived {
		t.Errorf("State = %q, should be unchanged", doc.State)
	}
}

func TestLocalBackend_missingDocument(t *testing.T) {
	b := NewLocalBackend(workflow.DefaultGraph().NextState)

	if _, err := b.Load(context.Background(), nil, "nope"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("Load() error = %v, want NOT_FOUND", err)
	}
	err := b.Client().Execute(context.Background(), "nope", model.ActionStart, model.StartPayload{})
	if !model.IsCode(err, model.ErrRemoteError) {
		t.Errorf("Execute() error = %v, want REMOTE_ERROR", err)
	}
}

func TestLocalBackend_Load_returnsCopy(t *testing.T) {
	b := NewLocalBackend(workflow.DefaultGraph().NextState)
	b.Put(model.Document{ID: "vb-3", State: model.StateAssigned, Assignees: []string{"1"}})

	doc, _ := b.Load(context.Background(), nil, "vb-3")
	doc.Assignees[0] = "mutated"

	again, _ := b.Load(context.Background(), nil, "vb-3")
	if again.Assignees[0] != "1" {
		t.Error("Load() should return an independent copy")
	}
}

func TestLocalBackend_LoadSeed(t *testing.T) {
	b := NewLocalBackend(workflow.DefaultGraph().NextState)
	n, err := b.LoadSeed("testdata/seed.yaml")
	if err != nil {
		t.Fatalf("LoadSeed() error = %v", err)
	}
	if n != 2 {
		t.Errorf("LoadSeed() = %d, want 2", n)
	}

	doc, err := b.Load(context.Background(), nil, "vb-100")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.State != model.StateIntake || doc.Defaults["sender"] != "Sở Nội vụ" {
		t.Errorf("vb-100 = %+v", doc)
	}
	doc, _ = b.Load(context.Background(), nil, "vb-101")
	if doc.State != model.StateProcessing || len(doc.Assignees) != 2 {
		t.Errorf("vb-101 = %+v", doc)
	}
}

func TestLocalBackend_LoadSeed_errors(t *testing.T) {
	b := NewLocalBackend(workflow.DefaultGraph().NextState)
	if _, err := b.LoadSeed("testdata/missing.yaml"); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := b.LoadSeed("testdata/seed_bad.yaml"); err == nil {
		t.Error("unknown state should fail")
	}
}
