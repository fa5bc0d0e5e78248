package workflow

import (
	"errors"
	"fmt"

	"github.com/pitabwire/docflow/model"
)

// Grant allows a role to initiate actions while a document sits in a state.
type Grant struct {
	Role    model.Role
	State   model.WorkflowState
	Actions []model.ActionID
}

// ActionSet reports which action ids are defined. The action catalog
// satisfies it.
type ActionSet interface {
	Has(id model.ActionID) bool
}

// Matrix maps (role, state) to the actions that role may initiate. Withdraw
// is never granted per state; it is derived for the withdraw role while the
// document is in a withdrawable state.
type Matrix struct {
	grants       map[model.Role]map[model.WorkflowState]map[model.ActionID]bool
	withdrawRole model.Role
	graph        *Graph
}

// NewMatrix builds a permission matrix. Every granted action must exist in
// actions, and withdraw may not appear in grants.
func NewMatrix(grants []Grant, withdrawRole model.Role, graph *Graph, actions ActionSet) (*Matrix, error) {
	m := &Matrix{
		grants:       make(map[model.Role]map[model.WorkflowState]map[model.ActionID]bool),
		withdrawRole: withdrawRole,
		graph:        graph,
	}

	var errs []error
	if graph == nil {
		errs = append(errs, errors.New("graph is required"))
	}
	if withdrawRole != "" && !withdrawRole.Valid() {
		errs = append(errs, fmt.Errorf("unknown withdraw role %q", withdrawRole))
	}
	for i, g := range grants {
		if !g.Role.Valid() {
			errs = append(errs, fmt.Errorf("grants[%d]: unknown role %q", i, g.Role))
			continue
		}
		if !g.State.Valid() {
			errs = append(errs, fmt.Errorf("grants[%d]: unknown state %q", i, g.State))
			continue
		}
		byState, ok := m.grants[g.Role]
		if !ok {
			byState = make(map[model.WorkflowState]map[model.ActionID]bool)
			m.grants[g.Role] = byState
		}
		set, ok := byState[g.State]
		if !ok {
			set = make(map[model.ActionID]bool)
			byState[g.State] = set
		}
		for _, a := range g.Actions {
			switch {
			case a == model.ActionWithdraw:
				errs = append(errs, fmt.Errorf("grants[%d]: withdraw is derived, not granted", i))
			case actions != nil && !actions.Has(a):
				errs = append(errs, fmt.Errorf("grants[%d]: action %q is not in the catalog", i, a))
			default:
				set[a] = true
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("workflow: invalid permission matrix: %w", errors.Join(errs...))
	}
	return m, nil
}

// DefaultGrants returns the role × state table of the inbound document
// workflow, excluding withdraw.
func DefaultGrants() []Grant {
	return []Grant{
		{Role: model.RoleIntakeClerk, State: model.StateIntake, Actions: []model.ActionID{model.ActionRegister}},
		{Role: model.RoleIntakeClerk, State: model.StateCompleted, Actions: []model.ActionID{model.ActionArchive}},

		{Role: model.RoleLeader, State: model.StateRegistered, Actions: []model.ActionID{model.ActionAssign}},
		{Role: model.RoleLeader, State: model.StateAssigned, Actions: []model.ActionID{model.ActionStart}},
		{Role: model.RoleLeader, State: model.StateProcessing, Actions: []model.ActionID{model.ActionComplete}},
		{Role: model.RoleLeader, State: model.StateCompleted, Actions: []model.ActionID{model.ActionArchive}},

		{Role: model.RoleCaseOfficer, State: model.StateAssigned, Actions: []model.ActionID{model.ActionStart}},
		{Role: model.RoleCaseOfficer, State: model.StateProcessing, Actions: []model.ActionID{model.ActionComplete}},

		{Role: model.RoleAdmin, State: model.StateIntake, Actions: []model.ActionID{model.ActionRegister}},
		{Role: model.RoleAdmin, State: model.StateRegistered, Actions: []model.ActionID{model.ActionAssign}},
		{Role: model.RoleAdmin, State: model.StateAssigned, Actions: []model.ActionID{model.ActionStart}},
		{Role: model.RoleAdmin, State: model.StateProcessing, Actions: []model.ActionID{model.ActionComplete}},
		{Role: model.RoleAdmin, State: model.StateCompleted, Actions: []model.ActionID{model.ActionArchive}},
	}
}

// DefaultMatrix returns the inbound document permission matrix over graph,
// with withdraw reserved for administrators.
func DefaultMatrix(graph *Graph, actions ActionSet) *Matrix {
	m, err := NewMatrix(DefaultGrants(), model.RoleAdmin, graph, actions)
	if err != nil {
		panic(err)
	}
	return m
}

// AvailableActions returns the actions the actor may initiate in state, in
// canonical order. The result depends only on its inputs.
//
// start always requires the actor to be the assignee. complete requires it
// only for case officers; leaders may complete on behalf of an assignee.
func (m *Matrix) AvailableActions(state model.WorkflowState, actor model.ActorContext) []model.ActionID {
	granted := m.grants[actor.Role][state]

	out := make([]model.ActionID, 0, len(granted)+1)
	for _, a := range model.AllActions() {
		allowed := granted[a]
		if a == model.ActionWithdraw {
			allowed = m.withdrawRole != "" && actor.Role == m.withdrawRole && m.graph.Withdrawable(state)
		}
		if !allowed {
			continue
		}
		if a == model.ActionStart && !actor.IsAssignee {
			continue
		}
		if a == model.ActionComplete && actor.Role == model.RoleCaseOfficer && !actor.IsAssignee {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Allows reports whether action is currently available to the actor.
func (m *Matrix) Allows(state model.WorkflowState, actor model.ActorContext, action model.ActionID) bool {
	for _, a := range m.AvailableActions(state, actor) {
		if a == action {
			return true
		}
	}
	return false
}
