package integration

import (
	"net/http"
	"testing"

	"github.com/pitabwire/docflow/model"
)

func TestWorkflow_fullLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	h.API.Put("vb-100", "received")

	clerk := h.GenerateToken(ClerkClaims())
	leader := h.GenerateToken(LeaderClaims())
	officer := h.GenerateToken(OfficerClaims(7))

	view := h.Run(t, "vb-100", model.ActionRegister, map[string]string{
		"received_number": "125",
		"received_date":   "2026-03-02",
		"sender":          "UBND tỉnh",
	}, clerk, http.StatusOK)
	if view.State != model.StateRegistered {
		t.Fatalf("after register state = %q", view.State)
	}
	if got := h.API.Status("vb-100"); got != "registered" {
		t.Errorf("server status = %q, want registered", got)
	}

	view = h.Run(t, "vb-100", model.ActionAssign, map[string]string{
		"assignees":   "7, 9",
		"instruction": "Xử lý trước ngày 10",
	}, leader, http.StatusOK)
	if view.State != model.StateAssigned {
		t.Fatalf("after assign state = %q", view.State)
	}

	view = h.Run(t, "vb-100", model.ActionStart, map[string]string{}, officer, http.StatusOK)
	if view.State != model.StateProcessing {
		t.Fatalf("after start state = %q", view.State)
	}

	view = h.Run(t, "vb-100", model.ActionComplete, map[string]string{"note": "Đã trả lời"}, officer, http.StatusOK)
	if view.State != model.StateCompleted {
		t.Fatalf("after complete state = %q", view.State)
	}

	view = h.Run(t, "vb-100", model.ActionArchive, map[string]string{}, clerk, http.StatusOK)
	if view.State != model.StateArchived {
		t.Fatalf("after archive state = %q", view.State)
	}
	if !view.NoActionAvailable {
		t.Errorf("archived document should have no actions, view = %+v", view)
	}

	register := h.API.Requests("register")
	if len(register) != 1 {
		t.Fatalf("register requests = %d, want 1", len(register))
	}
	if register[0].Body["received_number"] != float64(125) || register[0].Body["sender"] != "UBND tỉnh" {
		t.Errorf("register body = %v", register[0].Body)
	}
	if register[0].Headers.Get("Authorization") != "Bearer "+clerk {
		t.Error("caller token should be forwarded to the document API")
	}
	if register[0].Headers.Get("X-Correlation-Id") == "" {
		t.Error("correlation id should be forwarded to the document API")
	}

	assign := h.API.Requests("assign")
	if len(assign) != 1 {
		t.Fatalf("assign requests = %d, want 1", len(assign))
	}
	ids, _ := assign[0].Body["assignees"].([]any)
	if len(ids) != 2 || ids[0] != float64(7) || ids[1] != float64(9) {
		t.Errorf("assignees = %v, want [7 9]", assign[0].Body["assignees"])
	}

	var history struct {
		Data []model.TransitionEvent `json:"data"`
	}
	h.AssertJSON(t, h.GET("/api/documents/vb-100/history", leader), http.StatusOK, &history)
	want := []model.ActionID{
		model.ActionRegister, model.ActionAssign, model.ActionStart, model.ActionComplete, model.ActionArchive,
	}
	if len(history.Data) != len(want) {
		t.Fatalf("history length = %d, want %d", len(history.Data), len(want))
	}
	for i, ev := range history.Data {
		if ev.Action != want[i] || ev.Outcome != model.OutcomeCommitted {
			t.Errorf("history[%d] = %s/%s, want %s/committed", i, ev.Action, ev.Outcome, want[i])
		}
	}
}

func TestWorkflow_roleDeterminesActions(t *testing.T) {
	h := NewTestHarness(t)
	h.API.Put("vb-200", "in_progress", 7)

	tests := []struct {
		name    string
		claims  TestClaims
		actions []model.ActionID
	}{
		{"assigned officer completes", OfficerClaims(7), []model.ActionID{model.ActionComplete}},
		{"other officer has nothing", OfficerClaims(8), nil},
		{"clerk has nothing", ClerkClaims(), nil},
		{"leader completes", LeaderClaims(), []model.ActionID{model.ActionComplete}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			view := h.Mount(t, "vb-200", h.GenerateToken(tc.claims))
			if view.State != model.StateProcessing {
				t.Fatalf("state = %q, want processing", view.State)
			}
			var got []model.ActionID
			for _, a := range view.Actions {
				got = append(got, a.ID)
			}
			if len(got) != len(tc.actions) {
				t.Fatalf("actions = %v, want %v", got, tc.actions)
			}
			for i := range got {
				if got[i] != tc.actions[i] {
					t.Errorf("actions = %v, want %v", got, tc.actions)
				}
			}
			if len(tc.actions) == 0 && view.NoActionMessage != model.NoActionMessage {
				t.Errorf("NoActionMessage = %q", view.NoActionMessage)
			}
		})
	}
}

func TestWorkflow_validationNeverReachesServer(t *testing.T) {
	h := NewTestHarness(t)
	h.API.Put("vb-300", "registered")
	leader := h.GenerateToken(LeaderClaims())

	view := h.Mount(t, "vb-300", leader)
	h.AssertStatus(t, h.Select(t, view.ViewID, model.ActionAssign, leader), http.StatusOK)

	var body ErrorBody
	h.AssertJSON(t, h.Submit(t, view.ViewID, map[string]string{"assignees": "abc"}, leader),
		http.StatusUnprocessableEntity, &body)
	if body.Error.Code != model.ErrValidationError {
		t.Errorf("code = %q, want %q", body.Error.Code, model.ErrValidationError)
	}
	if len(h.API.Requests("assign")) != 0 {
		t.Error("an invalid form must not call the document API")
	}
	if h.API.Status("vb-300") != "registered" {
		t.Errorf("server status = %q", h.API.Status("vb-300"))
	}
}

func TestWorkflow_serverRejectionKeepsState(t *testing.T) {
	h := NewTestHarness(t)
	h.API.Put("vb-400", "assigned", 7)
	officer := h.GenerateToken(OfficerClaims(7))

	h.API.FailNext("start", http.StatusConflict, map[string]string{"message": "Văn bản đang bị khóa"}, 1)

	view := h.Mount(t, "vb-400", officer)
	h.AssertStatus(t, h.Select(t, view.ViewID, model.ActionStart, officer), http.StatusOK)

	var body ErrorBody
	h.AssertJSON(t, h.Submit(t, view.ViewID, map[string]string{}, officer), http.StatusBadGateway, &body)
	if body.Error.Code != model.ErrRemoteError || body.Error.Message != "Văn bản đang bị khóa" {
		t.Errorf("error = %+v", body.Error)
	}

	var after model.WorkflowView
	h.AssertJSON(t, h.GET("/api/views/"+view.ViewID, officer), http.StatusOK, &after)
	if after.State != model.StateAssigned || after.Busy {
		t.Errorf("view after rejection = %+v", after)
	}

	// The pending action survives so the officer can retry.
	after = model.WorkflowView{}
	h.AssertJSON(t, h.Submit(t, view.ViewID, map[string]string{}, officer), http.StatusOK, &after)
	if after.State != model.StateProcessing {
		t.Errorf("state after retry = %q, want processing", after.State)
	}

	var history struct {
		Data []model.TransitionEvent `json:"data"`
	}
	h.AssertJSON(t, h.GET("/api/documents/vb-400/history", officer), http.StatusOK, &history)
	if len(history.Data) != 2 ||
		history.Data[0].Outcome != model.OutcomeFailed ||
		history.Data[1].Outcome != model.OutcomeCommitted {
		t.Errorf("history = %+v", history.Data)
	}
}

func TestWorkflow_adminWithdraw(t *testing.T) {
	h := NewTestHarness(t)
	h.API.Put("vb-500", "in_progress", 7)
	admin := h.GenerateToken(AdminClaims())

	view := h.Mount(t, "vb-500", admin)
	h.AssertStatus(t, h.Select(t, view.ViewID, model.ActionWithdraw, admin), http.StatusOK)

	h.AssertStatus(t, h.Submit(t, view.ViewID, map[string]string{}, admin), http.StatusUnprocessableEntity)

	var after model.WorkflowView
	h.AssertJSON(t, h.Submit(t, view.ViewID, map[string]string{"reason": "Gửi nhầm đơn vị"}, admin), http.StatusOK, &after)
	if after.State != model.StateWithdrawn {
		t.Errorf("state = %q, want withdrawn", after.State)
	}
	if got := h.API.Status("vb-500"); got != "withdrawn" {
		t.Errorf("server status = %q, want withdrawn", got)
	}
	reqs := h.API.Requests("withdraw")
	if len(reqs) != 1 || reqs[0].Body["reason"] != "Gửi nhầm đơn vị" {
		t.Errorf("withdraw requests = %+v", reqs)
	}
}

func TestWorkflow_unknownDocument(t *testing.T) {
	h := NewTestHarness(t)
	clerk := h.GenerateToken(ClerkClaims())

	var body ErrorBody
	h.AssertJSON(t, h.POST("/api/views", map[string]string{"document_id": "missing"}, clerk), http.StatusNotFound, &body)
	if body.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q, want %q", body.Error.Code, model.ErrNotFound)
	}
}
