// Package metadata projects workflow instances into presentation-ready view
// models. Every projection is a pure function of its inputs; providers hold
// only the immutable graph and catalog.
package metadata

import (
	"github.com/pitabwire/docflow/internal/catalog"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// ViewProvider assembles a WorkflowView from an instance snapshot.
type ViewProvider struct {
	graph   *workflow.Graph
	steps   *StepProvider
	actions *ActionProvider
	forms   *FormProvider
}

// NewViewProvider creates a ViewProvider over graph and cat.
func NewViewProvider(graph *workflow.Graph, cat *catalog.Catalog) *ViewProvider {
	return &ViewProvider{
		graph:   graph,
		steps:   NewStepProvider(graph),
		actions: NewActionProvider(cat),
		forms:   NewFormProvider(cat),
	}
}

// Project renders snap. It may be called at any time and has no side effects.
func (p *ViewProvider) Project(snap workflow.Snapshot) model.WorkflowView {
	view := model.WorkflowView{
		DocumentID:     snap.DocumentID,
		State:          snap.State,
		StateLabel:     p.graph.Label(snap.State),
		Role:           snap.Actor.Role,
		Busy:           snap.Busy,
		Steps:          p.steps.ResolveSteps(snap.State),
		Actions:        p.actions.ResolveActions(snap.Available, snap.Pending),
		SelectedAction: snap.Pending,
		Form:           p.forms.ResolveForm(snap.Pending, snap.Fields),
	}
	if len(view.Actions) == 0 {
		view.NoActionAvailable = true
		view.NoActionMessage = model.NoActionMessage
	}
	return view
}

// Steps returns the static step table for clients that render progress
// without a mounted view.
func (p *ViewProvider) Steps() []model.StateDescriptor {
	return p.steps.StepList()
}
