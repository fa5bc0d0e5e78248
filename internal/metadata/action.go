package metadata

import (
	"github.com/pitabwire/docflow/internal/catalog"
	"github.com/pitabwire/docflow/model"
)

// ActionProvider resolves available action ids into renderable buttons.
type ActionProvider struct {
	catalog *catalog.Catalog
}

// NewActionProvider creates an ActionProvider over the action catalog.
func NewActionProvider(cat *catalog.Catalog) *ActionProvider {
	return &ActionProvider{catalog: cat}
}

// ResolveActions returns one ActionView per available action, in the order
// given. The action matching selected is flagged. Ids unknown to the catalog
// are skipped.
func (p *ActionProvider) ResolveActions(available []model.ActionID, selected model.ActionID) []model.ActionView {
	result := make([]model.ActionView, 0, len(available))
	for _, id := range available {
		def, ok := p.catalog.Definition(id)
		if !ok {
			continue
		}
		result = append(result, model.ActionView{
			ID:           def.ID,
			Label:        def.Label,
			Style:        def.Style,
			Icon:         def.Icon,
			Confirmation: def.Confirmation,
			Selected:     id == selected,
		})
	}
	return result
}
