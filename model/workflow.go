package model

import (
	"strings"
	"time"
)

// WorkflowState is a stage in an inbound document's lifecycle.
type WorkflowState string

// Workflow states in chain order. Withdrawn sits outside the chain.
const (
	StateIntake     WorkflowState = "intake"
	StateRegistered WorkflowState = "registered"
	StateAssigned   WorkflowState = "assigned"
	StateProcessing WorkflowState = "processing"
	StateCompleted  WorkflowState = "completed"
	StateArchived   WorkflowState = "archived"
	StateWithdrawn  WorkflowState = "withdrawn"
)

// Valid reports whether s is one of the seven known states.
func (s WorkflowState) Valid() bool {
	switch s {
	case StateIntake, StateRegistered, StateAssigned, StateProcessing,
		StateCompleted, StateArchived, StateWithdrawn:
		return true
	}
	return false
}

// serverStates maps status strings used by the document API onto states.
var serverStates = map[string]WorkflowState{
	"intake":      StateIntake,
	"draft":       StateIntake,
	"received":    StateIntake,
	"new":         StateIntake,
	"registered":  StateRegistered,
	"assigned":    StateAssigned,
	"processing":  StateProcessing,
	"in_progress": StateProcessing,
	"completed":   StateCompleted,
	"done":        StateCompleted,
	"archived":    StateArchived,
	"withdrawn":   StateWithdrawn,
	"recalled":    StateWithdrawn,
}

// ParseWorkflowState maps a raw status string from the document API onto a
// WorkflowState. Matching ignores case and surrounding whitespace.
func ParseWorkflowState(raw string) (WorkflowState, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	s, ok := serverStates[key]
	return s, ok
}

// ActionID identifies an operation that moves a document between states.
type ActionID string

// Workflow actions.
const (
	ActionRegister ActionID = "register"
	ActionAssign   ActionID = "assign"
	ActionStart    ActionID = "start"
	ActionComplete ActionID = "complete"
	ActionArchive  ActionID = "archive"
	ActionWithdraw ActionID = "withdraw"
)

// AllActions returns every action in canonical order.
func AllActions() []ActionID {
	return []ActionID{
		ActionRegister,
		ActionAssign,
		ActionStart,
		ActionComplete,
		ActionArchive,
		ActionWithdraw,
	}
}

// Valid reports whether a is a known action.
func (a ActionID) Valid() bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// Role is a closed-set actor category. Raw role strings are normalized into a
// Role before they reach the engine.
type Role string

// Roles.
const (
	RoleIntakeClerk Role = "intake_clerk"
	RoleCaseOfficer Role = "case_officer"
	RoleLeader      Role = "leader"
	RoleAdmin       Role = "admin"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleIntakeClerk, RoleCaseOfficer, RoleLeader, RoleAdmin:
		return true
	}
	return false
}

// ActorContext is the already-resolved identity of whoever drives a workflow
// instance.
type ActorContext struct {
	Role       Role `json:"role"`
	IsAssignee bool `json:"is_assignee"`
}

// Step status constants used by progress rendering.
const (
	StepStatusDone     = "done"
	StepStatusCurrent  = "current"
	StepStatusUpcoming = "upcoming"
)

// StateDescriptor describes one state and its single outgoing edge. Terminal
// states have an empty Action and Next.
type StateDescriptor struct {
	State           WorkflowState `json:"state"`
	Label           string        `json:"label"`
	TransitionLabel string        `json:"transition_label,omitempty"`
	Action          ActionID      `json:"action,omitempty"`
	Next            WorkflowState `json:"next,omitempty"`
}

// Terminal reports whether the state has no outgoing edge.
func (d StateDescriptor) Terminal() bool {
	return d.Action == ""
}

// Document is what the document loader knows about an inbound document when a
// view is mounted.
type Document struct {
	ID        string            `json:"id"`
	State     WorkflowState     `json:"state"`
	Assignees []string          `json:"assignees,omitempty"`
	Defaults  map[string]string `json:"defaults,omitempty"`
}

// Transition outcomes reported to observers.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeBusy      = "busy"
)

// TransitionEvent records one submit attempt on a workflow instance.
type TransitionEvent struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Action     ActionID      `json:"action"`
	Role       Role          `json:"role"`
	ActorID    string        `json:"actor_id,omitempty"`
	From       WorkflowState `json:"from"`
	To         WorkflowState `json:"to"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}
