package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pitabwire/docflow/model"
)

// Raw field names accepted from forms. They match the wire names of the
// document API.
const (
	FieldReceivedNumber = "received_number"
	FieldReceivedDate   = "received_date"
	FieldSender         = "sender"
	FieldAssignees      = "assignees"
	FieldDueAt          = "due_at"
	FieldInstruction    = "instruction"
	FieldNote           = "note"
	FieldReason         = "reason"
)

// User-facing validation messages.
const (
	MsgReceivedNumberRequired = "Vui lòng nhập số đến."
	MsgReceivedNumberInvalid  = "Số đến phải là số nguyên."
	MsgReceivedDateRequired   = "Vui lòng nhập ngày đến."
	MsgReceivedDateInvalid    = "Ngày đến không hợp lệ."
	MsgSenderRequired         = "Vui lòng nhập nơi gửi."
	MsgAssigneesRequired      = "Cần ít nhất 1 user_id để phân công."
	MsgDueAtInvalid           = "Hạn xử lý không hợp lệ."
	MsgWithdrawReasonRequired = "Vui lòng nhập lý do thu hồi."
)

const wireDateLayout = "2006-01-02"

var dateLayouts = []string{wireDateLayout, "02/01/2006"}

// Layouts without an offset are read in the catalog's location.
var localDueLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	wireDateLayout,
}

// BuildPayload validates raw form values for an action and returns its typed
// payload. It has no side effects. On failure it returns a VALIDATION_ERROR
// listing every invalid field and never a partial payload.
func (c *Catalog) BuildPayload(id model.ActionID, raw map[string]string) (model.Payload, error) {
	v := &fieldValidator{raw: raw}

	var p model.Payload
	switch id {
	case model.ActionRegister:
		p = c.buildRegister(v)
	case model.ActionAssign:
		p = c.buildAssign(v)
	case model.ActionStart:
		p = model.StartPayload{}
	case model.ActionComplete:
		p = model.CompletePayload{Note: v.text(FieldNote)}
	case model.ActionArchive:
		p = model.ArchivePayload{Reason: v.text(FieldReason)}
	case model.ActionWithdraw:
		p = model.WithdrawPayload{Reason: v.requiredText(FieldReason, MsgWithdrawReasonRequired)}
	default:
		return nil, model.NewInvalidActionError(id, "", "")
	}

	if len(v.errs) > 0 {
		return nil, model.NewValidationError(v.errs)
	}
	return p, nil
}

func (c *Catalog) buildRegister(v *fieldValidator) model.Payload {
	return model.RegisterPayload{
		ReceivedNumber: v.integer(FieldReceivedNumber, MsgReceivedNumberRequired, MsgReceivedNumberInvalid),
		ReceivedDate:   v.date(FieldReceivedDate, MsgReceivedDateRequired, MsgReceivedDateInvalid),
		Sender:         v.requiredText(FieldSender, MsgSenderRequired),
	}
}

func (c *Catalog) buildAssign(v *fieldValidator) model.Payload {
	p := model.AssignPayload{
		Assignees:   ParseAssignees(v.raw[FieldAssignees]),
		Instruction: v.text(FieldInstruction),
	}
	if len(p.Assignees) == 0 {
		v.fail(FieldAssignees, model.FieldRequired, MsgAssigneesRequired)
	}
	if due := strings.TrimSpace(v.raw[FieldDueAt]); due != "" {
		normalized, err := NormalizeDueAt(due, c.location)
		if err != nil {
			v.fail(FieldDueAt, model.FieldInvalid, MsgDueAtInvalid)
		}
		p.DueAt = normalized
	}
	return p
}

// ParseAssignees splits a comma or whitespace separated list of user ids.
// Tokens that are not positive integers are dropped; duplicates are removed
// keeping first-seen order.
func ParseAssignees(raw string) []int64 {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	seen := make(map[int64]bool, len(tokens))
	var ids []int64
	for _, tok := range tokens {
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// NormalizeDueAt parses a due timestamp and renders it as RFC 3339 in UTC.
// Values without an offset are interpreted in loc.
func NormalizeDueAt(raw string, loc *time.Location) (string, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localDueLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("unrecognised timestamp %q", raw)
}

// fieldValidator reads raw values and accumulates field errors.
type fieldValidator struct {
	raw  map[string]string
	errs []model.FieldError
}

func (v *fieldValidator) fail(field, code, msg string) {
	v.errs = append(v.errs, model.FieldError{Field: field, Code: code, Message: msg})
}

func (v *fieldValidator) text(field string) string {
	return strings.TrimSpace(v.raw[field])
}

func (v *fieldValidator) requiredText(field, requiredMsg string) string {
	s := v.text(field)
	if s == "" {
		v.fail(field, model.FieldRequired, requiredMsg)
	}
	return s
}

func (v *fieldValidator) integer(field, requiredMsg, invalidMsg string) int {
	s := v.text(field)
	if s == "" {
		v.fail(field, model.FieldRequired, requiredMsg)
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		v.fail(field, model.FieldInvalid, invalidMsg)
		return 0
	}
	return n
}

func (v *fieldValidator) date(field, requiredMsg, invalidMsg string) string {
	s := v.text(field)
	if s == "" {
		v.fail(field, model.FieldRequired, requiredMsg)
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(wireDateLayout)
		}
	}
	v.fail(field, model.FieldInvalid, invalidMsg)
	return ""
}
