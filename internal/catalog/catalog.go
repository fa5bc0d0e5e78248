// Package catalog defines the per-action field schemas of the inbound
// document workflow and turns raw form values into typed payloads.
package catalog

import (
	"fmt"
	"time"

	"github.com/pitabwire/docflow/model"
)

// FieldKind is the input control a field is rendered with.
type FieldKind string

// Field kinds.
const (
	KindText     FieldKind = "text"
	KindNumber   FieldKind = "number"
	KindDate     FieldKind = "date"
	KindDateTime FieldKind = "datetime"
	KindTextArea FieldKind = "textarea"
	KindIDList   FieldKind = "id_list"
)

// FieldSpec describes one input of an action form.
type FieldSpec struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Kind        FieldKind `json:"kind"`
	Required    bool      `json:"required"`
	Placeholder string    `json:"placeholder,omitempty"`
	HelpText    string    `json:"help_text,omitempty"`

	// Value is a pre-filled default. It is empty in the catalog itself and
	// only set on copies handed to a form.
	Value string `json:"value,omitempty"`
}

// Definition is the static description of one action.
type Definition struct {
	ID           model.ActionID `json:"id"`
	Label        string         `json:"label"`
	SubmitLabel  string         `json:"submit_label"`
	Style        string         `json:"style,omitempty"`
	Icon         string         `json:"icon,omitempty"`
	Confirmation string         `json:"confirmation,omitempty"`
	Fields       []FieldSpec    `json:"fields"`
}

// DefaultLocation is the time zone used for due timestamps entered without an
// offset.
const DefaultLocation = "Asia/Ho_Chi_Minh"

// Catalog holds the six action definitions. It is built once and never
// mutated; accessors return copies.
type Catalog struct {
	defs     map[model.ActionID]Definition
	location *time.Location
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLocation sets the time zone for due timestamps without an offset.
func WithLocation(loc *time.Location) Option {
	return func(c *Catalog) {
		if loc != nil {
			c.location = loc
		}
	}
}

// New creates the action catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		defs:     make(map[model.ActionID]Definition, len(model.AllActions())),
		location: defaultLocation(),
	}
	for _, def := range definitions() {
		c.defs[def.ID] = def
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadLocation resolves a time zone name, falling back to DefaultLocation for
// an empty name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("catalog: load location %q: %w", name, err)
	}
	return loc, nil
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultLocation)
	if err != nil {
		// Vietnam has no DST; a fixed zone is exact.
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

// Has reports whether the catalog defines the action.
func (c *Catalog) Has(id model.ActionID) bool {
	_, ok := c.defs[id]
	return ok
}

// Actions returns every defined action in canonical order.
func (c *Catalog) Actions() []model.ActionID {
	var out []model.ActionID
	for _, id := range model.AllActions() {
		if c.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Definition returns a copy of the action's definition.
func (c *Catalog) Definition(id model.ActionID) (Definition, bool) {
	def, ok := c.defs[id]
	if !ok {
		return Definition{}, false
	}
	def.Fields = cloneFields(def.Fields)
	return def, true
}

// Fields returns a copy of the action's ordered field specs, or nil for an
// unknown action.
func (c *Catalog) Fields(id model.ActionID) []FieldSpec {
	def, ok := c.defs[id]
	if !ok {
		return nil
	}
	return cloneFields(def.Fields)
}

// SeededFields returns the action's field specs with Value pre-filled from
// defaults. Defaults for names the action does not use are ignored.
func (c *Catalog) SeededFields(id model.ActionID, defaults map[string]string) []FieldSpec {
	fields := c.Fields(id)
	for i := range fields {
		if v, ok := defaults[fields[i].Name]; ok {
			fields[i].Value = v
		}
	}
	return fields
}

// Label returns the display label of an action, or the raw id when unknown.
func (c *Catalog) Label(id model.ActionID) string {
	if def, ok := c.defs[id]; ok {
		return def.Label
	}
	return string(id)
}

func cloneFields(fields []FieldSpec) []FieldSpec {
	if fields == nil {
		return []FieldSpec{}
	}
	out := make([]FieldSpec, len(fields))
	copy(out, fields)
	return out
}

func definitions() []Definition {
	return []Definition{
		{
			ID:          model.ActionRegister,
			Label:       "Vào sổ",
			SubmitLabel: "Vào sổ văn bản",
			Style:       "primary",
			Icon:        "book",
			Fields: []FieldSpec{
				{Name: FieldReceivedNumber, Label: "Số đến", Kind: KindNumber, Required: true, Placeholder: "VD: 125"},
				{Name: FieldReceivedDate, Label: "Ngày đến", Kind: KindDate, Required: true},
				{Name: FieldSender, Label: "Nơi gửi", Kind: KindText, Required: true, Placeholder: "Cơ quan ban hành"},
			},
		},
		{
			ID:          model.ActionAssign,
			Label:       "Phân công",
			SubmitLabel: "Phân công xử lý",
			Style:       "primary",
			Icon:        "user-plus",
			Fields: []FieldSpec{
				{
					Name:        FieldAssignees,
					Label:       "Người xử lý",
					Kind:        KindIDList,
					Required:    true,
					Placeholder: "VD: 12, 15",
					HelpText:    "Nhập user_id, cách nhau bởi dấu phẩy hoặc khoảng trắng.",
				},
				{Name: FieldDueAt, Label: "Hạn xử lý", Kind: KindDateTime},
				{Name: FieldInstruction, Label: "Ý kiến chỉ đạo", Kind: KindTextArea},
			},
		},
		{
			ID:          model.ActionStart,
			Label:       "Bắt đầu xử lý",
			SubmitLabel: "Bắt đầu",
			Style:       "primary",
			Icon:        "play",
			Fields:      []FieldSpec{},
		},
		{
			ID:          model.ActionComplete,
			Label:       "Hoàn thành",
			SubmitLabel: "Xác nhận hoàn thành",
			Style:       "success",
			Icon:        "check",
			Fields: []FieldSpec{
				{Name: FieldNote, Label: "Kết quả xử lý", Kind: KindTextArea},
			},
		},
		{
			ID:          model.ActionArchive,
			Label:       "Lưu trữ",
			SubmitLabel: "Lưu trữ",
			Style:       "secondary",
			Icon:        "archive",
			Fields: []FieldSpec{
				{Name: FieldReason, Label: "Ghi chú lưu trữ", Kind: KindTextArea},
			},
		},
		{
			ID:           model.ActionWithdraw,
			Label:        "Thu hồi",
			SubmitLabel:  "Thu hồi văn bản",
			Style:        "danger",
			Icon:         "undo",
			Confirmation: "Văn bản sẽ bị thu hồi khỏi quy trình xử lý. Tiếp tục?",
			Fields: []FieldSpec{
				{Name: FieldReason, Label: "Lý do thu hồi", Kind: KindTextArea, Required: true},
			},
		},
	}
}
