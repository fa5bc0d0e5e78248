package model

// Payload is the typed body sent to the document API for one action. The set
// of implementations is closed: each action has exactly one payload type.
type Payload interface {
	Action() ActionID
	payload()
}

// RegisterPayload records an inbound document in the register.
type RegisterPayload struct {
	ReceivedNumber int    `json:"received_number"`
	ReceivedDate   string `json:"received_date"`
	Sender         string `json:"sender"`
}

// AssignPayload hands a document to one or more processors.
type AssignPayload struct {
	Assignees   []int64 `json:"assignees"`
	DueAt       string  `json:"due_at,omitempty"`
	Instruction string  `json:"instruction,omitempty"`
}

// StartPayload begins processing. It carries no fields.
type StartPayload struct{}

// CompletePayload finishes processing.
type CompletePayload struct {
	Note string `json:"note,omitempty"`
}

// ArchivePayload files a completed document.
type ArchivePayload struct {
	Reason string `json:"reason,omitempty"`
}

// WithdrawPayload recalls a document from the pipeline.
type WithdrawPayload struct {
	Reason string `json:"reason"`
}

func (RegisterPayload) Action() ActionID { return ActionRegister }
func (AssignPayload) Action() ActionID   { return ActionAssign }
func (StartPayload) Action() ActionID    { return ActionStart }
func (CompletePayload) Action() ActionID { return ActionComplete }
func (ArchivePayload) Action() ActionID  { return ActionArchive }
func (WithdrawPayload) Action() ActionID { return ActionWithdraw }

func (RegisterPayload) payload() {}
func (AssignPayload) payload()   {}
func (StartPayload) payload()    {}
func (CompletePayload) payload() {}
func (ArchivePayload) payload()  {}
func (WithdrawPayload) payload() {}
