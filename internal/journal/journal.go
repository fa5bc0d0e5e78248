// Package journal keeps an audit trail of transition attempts. It never
// stores workflow state; the document API remains the system of record.
package journal

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/docflow/model"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 100

// Journal appends and lists transition events per document.
type Journal interface {
	// Append stores one event.
	Append(ctx context.Context, event model.TransitionEvent) error

	// List returns up to limit events for documentID, oldest first.
	List(ctx context.Context, documentID string, limit int) ([]model.TransitionEvent, error)
}

// Recorder adapts a Journal to the workflow observer interface. Append
// failures are logged and never fail the transition.
type Recorder struct {
	journal   Journal
	logger    *zap.Logger
	skip      map[string]bool
	onFailure func()
}

// NewRecorder creates a Recorder. Busy rejections are not recorded.
func NewRecorder(j Journal, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		journal: j,
		logger:  logger,
		skip:    map[string]bool{model.OutcomeBusy: true},
	}
}

// OnAppendFailure registers fn to run after every failed append.
func (r *Recorder) OnAppendFailure(fn func()) {
	r.onFailure = fn
}

// OnTransition appends the event to the journal.
func (r *Recorder) OnTransition(ctx context.Context, event model.TransitionEvent) {
	if r.skip[event.Outcome] {
		return
	}
	if err := r.journal.Append(ctx, event); err != nil {
		r.logger.Error("journal append failed",
			zap.String("document_id", event.DocumentID),
			zap.String("action", string(event.Action)),
			zap.String("outcome", event.Outcome),
			zap.Error(err),
		)
		if r.onFailure != nil {
			r.onFailure()
		}
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
