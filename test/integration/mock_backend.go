package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// MockDocumentAPI simulates the incoming-documents API. It keeps documents
// in memory, applies transitions along the default graph and records every
// request it receives.
type MockDocumentAPI struct {
	server *httptest.Server
	graph  *workflow.Graph

	mu       sync.Mutex
	docs     map[string]*mockDocument
	requests []RecordedRequest
	failures map[string][]mockResponse
	denied   map[string]bool
}

type mockDocument struct {
	ID             string
	Status         string
	Assignees      []int64
	Sender         string
	ReceivedNumber int
	ReceivedDate   string
}

// RecordedRequest captures one request received by the mock.
type RecordedRequest struct {
	Method  string
	Path    string
	Action  string
	Headers http.Header
	Body    map[string]any
}

type mockResponse struct {
	status int
	body   any
}

func newMockDocumentAPI(t *testing.T) *MockDocumentAPI {
	t.Helper()
	m := &MockDocumentAPI{
		graph:    workflow.DefaultGraph(),
		docs:     make(map[string]*mockDocument),
		failures: make(map[string][]mockResponse),
		denied:   make(map[string]bool),
	}

	r := chi.NewRouter()
	r.Get("/incoming-documents/{documentId}", m.handleGet)
	r.Post("/incoming-documents/{documentId}/{action}", m.handleTransition)
	m.server = httptest.NewServer(r)
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the base URL of the mock.
func (m *MockDocumentAPI) URL() string {
	return m.server.URL
}

// Put stores a document with the given server status string.
func (m *MockDocumentAPI) Put(id, status string, assignees ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = &mockDocument{ID: id, Status: status, Assignees: assignees, Sender: "Sở Nội vụ"}
}

// Status returns the stored status of a document.
func (m *MockDocumentAPI) Status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok {
		return d.Status
	}
	return ""
}

// FailNext queues responses returned for the next calls to action before
// the mock applies transitions again. An empty action targets document
// loads.
func (m *MockDocumentAPI) FailNext(action string, status int, body any, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for range times {
		m.failures[action] = append(m.failures[action], mockResponse{status: status, body: body})
	}
}

// Forbid makes every load of id answer 403 as if the caller lacked
// access to the document.
func (m *MockDocumentAPI) Forbid(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[id] = true
}

// Requests returns the recorded transition requests for action. An empty
// action returns the document loads.
func (m *MockDocumentAPI) Requests(action string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecordedRequest
	for _, r := range m.requests {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

func (m *MockDocumentAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(r, "", nil)

	if queued := m.failures[""]; len(queued) > 0 {
		m.failures[""] = queued[1:]
		writeMockJSON(w, queued[0].status, queued[0].body)
		return
	}

	id := chi.URLParam(r, "documentId")
	if m.denied[id] {
		writeMockJSON(w, http.StatusForbidden, map[string]string{"message": "Không có quyền truy cập văn bản"})
		return
	}
	d, ok := m.docs[id]
	if !ok {
		writeMockJSON(w, http.StatusNotFound, map[string]string{"message": "Không tìm thấy văn bản"})
		return
	}
	data := map[string]any{
		"id":        d.ID,
		"status":    d.Status,
		"assignees": d.Assignees,
		"sender":    d.Sender,
	}
	if d.ReceivedNumber > 0 {
		data["received_number"] = d.ReceivedNumber
		data["received_date"] = d.ReceivedDate
	}
	writeMockJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (m *MockDocumentAPI) handleTransition(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	action := chi.URLParam(r, "action")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(r, action, body)

	if queued := m.failures[action]; len(queued) > 0 {
		m.failures[action] = queued[1:]
		writeMockJSON(w, queued[0].status, queued[0].body)
		return
	}

	d, ok := m.docs[chi.URLParam(r, "documentId")]
	if !ok {
		writeMockJSON(w, http.StatusNotFound, map[string]string{"message": "Không tìm thấy văn bản"})
		return
	}
	from, ok := model.ParseWorkflowState(d.Status)
	if !ok {
		writeMockJSON(w, http.StatusInternalServerError, map[string]string{"message": "bad status"})
		return
	}
	next, ok := m.graph.NextState(from, model.ActionID(action))
	if !ok {
		writeMockJSON(w, http.StatusConflict, map[string]string{"detail": "Trạng thái văn bản không cho phép thao tác này"})
		return
	}

	switch model.ActionID(action) {
	case model.ActionRegister:
		d.Sender, _ = body["sender"].(string)
		d.ReceivedDate, _ = body["received_date"].(string)
		if n, ok := body["received_number"].(float64); ok {
			d.ReceivedNumber = int(n)
		}
	case model.ActionAssign:
		d.Assignees = d.Assignees[:0]
		if list, ok := body["assignees"].([]any); ok {
			for _, v := range list {
				if n, ok := v.(float64); ok {
					d.Assignees = append(d.Assignees, int64(n))
				}
			}
		}
	}
	d.Status = string(next)
	writeMockJSON(w, http.StatusOK, map[string]any{"id": d.ID, "status": d.Status})
}

func (m *MockDocumentAPI) record(r *http.Request, action string, body map[string]any) {
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Action:  action,
		Headers: r.Header.Clone(),
		Body:    body,
	})
}

func writeMockJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// userID renders a numeric subject id the way the document API expects it.
func userID(n int64) string {
	return strconv.FormatInt(n, 10)
}
