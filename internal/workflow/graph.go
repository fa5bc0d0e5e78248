package workflow

import (
	"errors"
	"fmt"

	"github.com/pitabwire/docflow/model"
)

// Graph is the static state graph of the inbound document workflow: a
// linear forward chain plus an out-of-band withdraw edge from a fixed set of
// mid-pipeline states. A Graph is immutable once built.
type Graph struct {
	steps        []model.StateDescriptor
	index        map[model.WorkflowState]int
	withdrawable map[model.WorkflowState]bool
}

// NewGraph builds a graph from an ordered step table. Each non-terminal step
// must lead to the step that follows it. The Withdrawn state, when present,
// must be terminal and is reachable only through the withdraw action from
// the withdrawFrom states.
func NewGraph(steps []model.StateDescriptor, withdrawFrom []model.WorkflowState) (*Graph, error) {
	g := &Graph{
		steps:        make([]model.StateDescriptor, len(steps)),
		index:        make(map[model.WorkflowState]int, len(steps)),
		withdrawable: make(map[model.WorkflowState]bool, len(withdrawFrom)),
	}
	copy(g.steps, steps)

	var errs []error
	for i, s := range g.steps {
		if !s.State.Valid() {
			errs = append(errs, fmt.Errorf("steps[%d]: unknown state %q", i, s.State))
			continue
		}
		if _, dup := g.index[s.State]; dup {
			errs = append(errs, fmt.Errorf("steps[%d]: duplicate state %q", i, s.State))
			continue
		}
		g.index[s.State] = i
	}

	for i, s := range g.steps {
		if s.Terminal() {
			if s.Next != "" {
				errs = append(errs, fmt.Errorf("steps[%d]: terminal state %q has a target", i, s.State))
			}
			continue
		}
		if s.Action == model.ActionWithdraw {
			errs = append(errs, fmt.Errorf("steps[%d]: withdraw cannot be a forward edge", i))
		}
		if !s.Action.Valid() {
			errs = append(errs, fmt.Errorf("steps[%d]: unknown action %q", i, s.Action))
		}
		if s.Next == model.StateWithdrawn {
			errs = append(errs, fmt.Errorf("steps[%d]: %q reachable through the chain", i, model.StateWithdrawn))
		}
		// Linear chain: every edge points at the next row, which rules out
		// cycles and skipped states.
		if i+1 >= len(g.steps) || g.steps[i+1].State != s.Next {
			errs = append(errs, fmt.Errorf("steps[%d]: %q must lead to the following step, got %q", i, s.State, s.Next))
		}
	}

	for _, s := range withdrawFrom {
		i, ok := g.index[s]
		if !ok {
			errs = append(errs, fmt.Errorf("withdraw source %q is not a step", s))
			continue
		}
		if g.steps[i].Terminal() {
			errs = append(errs, fmt.Errorf("withdraw source %q is terminal", s))
		}
		g.withdrawable[s] = true
	}
	if len(withdrawFrom) > 0 {
		i, ok := g.index[model.StateWithdrawn]
		if !ok {
			errs = append(errs, fmt.Errorf("withdraw sources given but %q is not a step", model.StateWithdrawn))
		} else if !g.steps[i].Terminal() {
			errs = append(errs, fmt.Errorf("%q must be terminal", model.StateWithdrawn))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("workflow: invalid graph: %w", errors.Join(errs...))
	}
	return g, nil
}

// DefaultGraph returns the inbound document graph:
// intake → registered → assigned → processing → completed → archived, with
// withdraw from registered, assigned and processing.
func DefaultGraph() *Graph {
	g, err := NewGraph(defaultSteps(), []model.WorkflowState{
		model.StateRegistered,
		model.StateAssigned,
		model.StateProcessing,
	})
	if err != nil {
		panic(err)
	}
	return g
}

func defaultSteps() []model.StateDescriptor {
	return []model.StateDescriptor{
		{State: model.StateIntake, Label: "Tiếp nhận", TransitionLabel: "Vào sổ", Action: model.ActionRegister, Next: model.StateRegistered},
		{State: model.StateRegistered, Label: "Đã vào sổ", TransitionLabel: "Phân công", Action: model.ActionAssign, Next: model.StateAssigned},
		{State: model.StateAssigned, Label: "Đã phân công", TransitionLabel: "Bắt đầu xử lý", Action: model.ActionStart, Next: model.StateProcessing},
		{State: model.StateProcessing, Label: "Đang xử lý", TransitionLabel: "Hoàn thành", Action: model.ActionComplete, Next: model.StateCompleted},
		{State: model.StateCompleted, Label: "Hoàn thành", TransitionLabel: "Lưu trữ", Action: model.ActionArchive, Next: model.StateArchived},
		{State: model.StateArchived, Label: "Lưu trữ"},
		{State: model.StateWithdrawn, Label: "Thu hồi"},
	}
}

// NextState returns the state reached by applying action in state. Withdraw
// leads to Withdrawn from a withdrawable state. Any other mismatch returns
// state unchanged with ok=false; callers should log it as a logic error.
func (g *Graph) NextState(state model.WorkflowState, action model.ActionID) (next model.WorkflowState, ok bool) {
	if action == model.ActionWithdraw {
		if g.withdrawable[state] {
			return model.StateWithdrawn, true
		}
		return state, false
	}
	i, found := g.index[state]
	if !found {
		return state, false
	}
	d := g.steps[i]
	if d.Terminal() || d.Action != action {
		return state, false
	}
	return d.Next, true
}

// StepList returns every state in display order. The result is a copy.
func (g *Graph) StepList() []model.StateDescriptor {
	out := make([]model.StateDescriptor, len(g.steps))
	copy(out, g.steps)
	return out
}

// Descriptor returns the descriptor of a single state.
func (g *Graph) Descriptor(state model.WorkflowState) (model.StateDescriptor, bool) {
	i, ok := g.index[state]
	if !ok {
		return model.StateDescriptor{}, false
	}
	return g.steps[i], true
}

// Label returns the display label of a state, or the raw value when unknown.
func (g *Graph) Label(state model.WorkflowState) string {
	if d, ok := g.Descriptor(state); ok {
		return d.Label
	}
	return string(state)
}

// IndexOf returns the position of state in StepList, or -1.
func (g *Graph) IndexOf(state model.WorkflowState) int {
	i, ok := g.index[state]
	if !ok {
		return -1
	}
	return i
}

// Withdrawable reports whether the withdraw action can leave state.
func (g *Graph) Withdrawable(state model.WorkflowState) bool {
	return g.withdrawable[state]
}

// WithdrawableStates returns the withdraw sources in step order.
func (g *Graph) WithdrawableStates() []model.WorkflowState {
	var out []model.WorkflowState
	for _, s := range g.steps {
		if g.withdrawable[s.State] {
			out = append(out, s.State)
		}
	}
	return out
}

// StepStatus classifies step relative to current for progress rendering.
// Once withdrawn, every other step is done and only Withdrawn is current.
func (g *Graph) StepStatus(step, current model.WorkflowState) string {
	if current == model.StateWithdrawn {
		if step == model.StateWithdrawn {
			return model.StepStatusCurrent
		}
		return model.StepStatusDone
	}
	si, ci := g.IndexOf(step), g.IndexOf(current)
	switch {
	case ci < 0 || si < 0 || si > ci:
		return model.StepStatusUpcoming
	case si == ci:
		return model.StepStatusCurrent
	default:
		return model.StepStatusDone
	}
}
