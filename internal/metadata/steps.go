package metadata

import (
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// StepProvider renders the progress indicator from the state graph.
type StepProvider struct {
	graph *workflow.Graph
}

// NewStepProvider creates a StepProvider for graph.
func NewStepProvider(graph *workflow.Graph) *StepProvider {
	return &StepProvider{graph: graph}
}

// ResolveSteps classifies every step relative to current. The Withdrawn step
// appears only when it is the current state.
func (p *StepProvider) ResolveSteps(current model.WorkflowState) []model.StepView {
	list := p.graph.StepList()
	steps := make([]model.StepView, 0, len(list))
	for _, d := range list {
		if d.State == model.StateWithdrawn && current != model.StateWithdrawn {
			continue
		}
		steps = append(steps, model.StepView{
			State:  d.State,
			Label:  d.Label,
			Status: p.graph.StepStatus(d.State, current),
		})
	}
	return steps
}

// StepList returns the static step table.
func (p *StepProvider) StepList() []model.StateDescriptor {
	return p.graph.StepList()
}
