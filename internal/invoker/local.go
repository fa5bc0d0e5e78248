package invoker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/docflow/model"
)

// Handler applies one transition in process.
type Handler interface {
	Handle(ctx context.Context, documentID string, payload model.Payload) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, documentID string, payload model.Payload) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, documentID string, payload model.Payload) error {
	return f(ctx, documentID, payload)
}

// LocalTransitionClient dispatches transitions to handlers registered per
// action. It is safe for concurrent use after registration.
type LocalTransitionClient struct {
	mu       sync.RWMutex
	handlers map[model.ActionID]Handler
}

// NewLocalTransitionClient creates a client with no handlers.
func NewLocalTransitionClient() *LocalTransitionClient {
	return &LocalTransitionClient{handlers: make(map[model.ActionID]Handler)}
}

// Register adds the handler for action. It panics on a duplicate or unknown
// action, since either is a wiring mistake at startup.
func (c *LocalTransitionClient) Register(action model.ActionID, h Handler) {
	if !action.Valid() {
		panic(fmt.Sprintf("invoker: unknown action %q", action))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.handlers[action]; exists {
		panic(fmt.Sprintf("invoker: handler for %q already registered", action))
	}
	c.handlers[action] = h
}

// Actions returns the registered actions, sorted.
func (c *LocalTransitionClient) Actions() []model.ActionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.ActionID, 0, len(c.handlers))
	for a := range c.handlers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs the handler registered for action.
func (c *LocalTransitionClient) Execute(ctx context.Context, documentID string, action model.ActionID, payload model.Payload) error {
	c.mu.RLock()
	h, ok := c.handlers[action]
	c.mu.RUnlock()
	if !ok {
		return model.NewRemoteError(http.StatusNotImplemented, fmt.Sprintf("Không hỗ trợ thao tác %s", action))
	}
	return h.Handle(ctx, documentID, payload)
}

// StateAdvancer computes the state an action leads to.
type StateAdvancer func(state model.WorkflowState, action model.ActionID) (model.WorkflowState, bool)

// LocalBackend is an in-memory document store used for local development.
// It serves documents to the session store and applies transitions through
// a LocalTransitionClient.
type LocalBackend struct {
	mu      sync.RWMutex
	docs    map[string]model.Document
	advance StateAdvancer
}

// NewLocalBackend creates an empty store. advance is usually the workflow
// graph's NextState.
func NewLocalBackend(advance StateAdvancer) *LocalBackend {
	return &LocalBackend{docs: make(map[string]model.Document), advance: advance}
}

// Put stores or replaces a document.
func (b *LocalBackend) Put(doc model.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[doc.ID] = cloneDocument(doc)
}

type seedDocument struct {
	ID        string            `yaml:"id"`
	State     string            `yaml:"state"`
	Assignees []string          `yaml:"assignees"`
	Defaults  map[string]string `yaml:"defaults"`
}

// LoadSeed reads documents from a YAML file of the form
//
//	documents:
//	  - id: vb-1
//	    state: intake
//	    defaults: {sender: So Noi vu}
//
// and stores them. It returns the number of documents loaded.
func (b *LocalBackend) LoadSeed(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("invoker: reading seed file %s: %w", path, err)
	}
	var f struct {
		Documents []seedDocument `yaml:"documents"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("invoker: parsing seed file %s: %w", path, err)
	}
	for i, d := range f.Documents {
		state, ok := model.ParseWorkflowState(d.State)
		if d.ID == "" || !ok {
			return 0, fmt.Errorf("invoker: seed file %s: document %d needs an id and a known state", path, i)
		}
		b.Put(model.Document{ID: d.ID, State: state, Assignees: d.Assignees, Defaults: d.Defaults})
	}
	return len(f.Documents), nil
}

// Load returns a copy of the stored document.
func (b *LocalBackend) Load(_ context.Context, _ *model.RequestContext, documentID string) (model.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.docs[documentID]
	if !ok {
		return model.Document{}, model.NewNotFoundError(fmt.Sprintf("Không tìm thấy văn bản %s", documentID))
	}
	return cloneDocument(doc), nil
}

// Client returns a transition client with a handler for every action that
// updates the stored document.
func (b *LocalBackend) Client() *LocalTransitionClient {
	c := NewLocalTransitionClient()
	for _, action := range model.AllActions() {
		c.Register(action, HandlerFunc(b.apply))
	}
	return c
}

func (b *LocalBackend) apply(_ context.Context, documentID string, payload model.Payload) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, ok := b.docs[documentID]
	if !ok {
		return model.NewRemoteError(http.StatusNotFound, fmt.Sprintf("Không tìm thấy văn bản %s", documentID))
	}
	next, ok := b.advance(doc.State, payload.Action())
	if !ok {
		return model.NewRemoteError(http.StatusConflict,
			fmt.Sprintf("Không thể thực hiện %s ở trạng thái %s", payload.Action(), doc.State))
	}

	switch p := payload.(type) {
	case model.RegisterPayload:
		if doc.Defaults == nil {
			doc.Defaults = make(map[string]string)
		}
		doc.Defaults["sender"] = p.Sender
		doc.Defaults["received_number"] = strconv.Itoa(p.ReceivedNumber)
		doc.Defaults["received_date"] = p.ReceivedDate
	case model.AssignPayload:
		doc.Assignees = doc.Assignees[:0:0]
		for _, id := range p.Assignees {
			doc.Assignees = append(doc.Assignees, strconv.FormatInt(id, 10))
		}
	}
	doc.State = next
	b.docs[documentID] = doc
	return nil
}

func cloneDocument(doc model.Document) model.Document {
	out := doc
	if doc.Assignees != nil {
		out.Assignees = append([]string(nil), doc.Assignees...)
	}
	if doc.Defaults != nil {
		out.Defaults = make(map[string]string, len(doc.Defaults))
		for k, v := range doc.Defaults {
			out.Defaults[k] = v
		}
	}
	return out
}
