package model

// WorkflowView is the presentation-ready projection of a workflow instance
// sent to the frontend.
type WorkflowView struct {
	ViewID            string        `json:"view_id,omitempty"`
	DocumentID        string        `json:"document_id"`
	State             WorkflowState `json:"state"`
	StateLabel        string        `json:"state_label"`
	Role              Role          `json:"role"`
	Busy              bool          `json:"busy"`
	Steps             []StepView    `json:"steps"`
	Actions           []ActionView  `json:"actions"`
	NoActionAvailable bool          `json:"no_action_available"`
	NoActionMessage   string        `json:"no_action_message,omitempty"`
	SelectedAction    ActionID      `json:"selected_action,omitempty"`
	Form              *FormView     `json:"form,omitempty"`
}

// StepView is one entry of the progress indicator.
type StepView struct {
	State  WorkflowState `json:"state"`
	Label  string        `json:"label"`
	Status string        `json:"status"`
}

// ActionView is one selectable action button.
type ActionView struct {
	ID           ActionID `json:"id"`
	Label        string   `json:"label"`
	Style        string   `json:"style,omitempty"`
	Icon         string   `json:"icon,omitempty"`
	Confirmation string   `json:"confirmation,omitempty"`
	Selected     bool     `json:"selected"`
}

// FormView is the input form for the selected action.
type FormView struct {
	Action      ActionID    `json:"action"`
	Title       string      `json:"title"`
	SubmitLabel string      `json:"submit_label"`
	Fields      []FieldView `json:"fields"`
}

// FieldView is one input of the action form.
type FieldView struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Kind        string `json:"kind"`
	Required    bool   `json:"required"`
	Placeholder string `json:"placeholder,omitempty"`
	HelpText    string `json:"help_text,omitempty"`
	Value       string `json:"value,omitempty"`
}
