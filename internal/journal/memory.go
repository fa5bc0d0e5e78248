package journal

import (
	"context"
	"sort"
	"sync"

	"github.com/pitabwire/docflow/model"
)

// MemoryJournal is an in-memory Journal for development and tests. Each
// document keeps at most maxLen events.
type MemoryJournal struct {
	mu     sync.RWMutex
	events map[string][]model.TransitionEvent // key: document ID
	maxLen int
}

// NewMemoryJournal creates an in-memory journal. maxLen <= 0 means unbounded.
func NewMemoryJournal(maxLen int) *MemoryJournal {
	return &MemoryJournal{
		events: make(map[string][]model.TransitionEvent),
		maxLen: maxLen,
	}
}

// Append stores an event, dropping the oldest when the document is full.
func (j *MemoryJournal) Append(_ context.Context, event model.TransitionEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := append(j.events[event.DocumentID], event)
	if j.maxLen > 0 && len(events) > j.maxLen {
		events = events[len(events)-j.maxLen:]
	}
	j.events[event.DocumentID] = events
	return nil
}

// List returns the most recent events for a document, oldest first.
func (j *MemoryJournal) List(_ context.Context, documentID string, limit int) ([]model.TransitionEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	events := j.events[documentID]
	result := make([]model.TransitionEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(a, b int) bool {
		return result[a].Timestamp.Before(result[b].Timestamp)
	})

	limit = normalizeLimit(limit)
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// HealthCheck always succeeds.
func (j *MemoryJournal) HealthCheck(context.Context) error { return nil }

// Len returns the number of events across documents. For testing.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, evs := range j.events {
		n += len(evs)
	}
	return n
}
