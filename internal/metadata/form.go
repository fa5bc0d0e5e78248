package metadata

import (
	"github.com/pitabwire/docflow/internal/catalog"
	"github.com/pitabwire/docflow/model"
)

// FormProvider turns an action's seeded field specs into a FormView.
type FormProvider struct {
	catalog *catalog.Catalog
}

// NewFormProvider creates a FormProvider over the action catalog.
func NewFormProvider(cat *catalog.Catalog) *FormProvider {
	return &FormProvider{catalog: cat}
}

// ResolveForm builds the form for action. fields are usually the seeded specs
// returned by the instance; nil falls back to the catalog's empty specs.
// It returns nil when no action is selected.
func (p *FormProvider) ResolveForm(action model.ActionID, fields []catalog.FieldSpec) *model.FormView {
	if action == "" {
		return nil
	}
	def, ok := p.catalog.Definition(action)
	if !ok {
		return nil
	}
	if fields == nil {
		fields = def.Fields
	}

	form := &model.FormView{
		Action:      action,
		Title:       def.Label,
		SubmitLabel: def.SubmitLabel,
		Fields:      make([]model.FieldView, 0, len(fields)),
	}
	for _, f := range fields {
		form.Fields = append(form.Fields, model.FieldView{
			Name:        f.Name,
			Label:       f.Label,
			Kind:        string(f.Kind),
			Required:    f.Required,
			Placeholder: f.Placeholder,
			HelpText:    f.HelpText,
			Value:       f.Value,
		})
	}
	return form
}
