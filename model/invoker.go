package model

import "context"

// TransitionClient performs one state transition against the document API.
// Implementations own retry and circuit breaking; callers never retry.
type TransitionClient interface {
	// Execute sends payload for action on documentID. A nil error means the
	// server committed the transition.
	Execute(ctx context.Context, documentID string, action ActionID, payload Payload) error
}

// DocumentLoader fetches the server's current view of a document.
type DocumentLoader interface {
	Load(ctx context.Context, rctx *RequestContext, documentID string) (Document, error)
}

// TransitionClientFunc adapts a function to the TransitionClient interface.
type TransitionClientFunc func(ctx context.Context, documentID string, action ActionID, payload Payload) error

// Execute calls f.
func (f TransitionClientFunc) Execute(ctx context.Context, documentID string, action ActionID, payload Payload) error {
	return f(ctx, documentID, action, payload)
}
