package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/docflow/model"
)

// defaultDocumentPath is the backend path of a single incoming document.
const defaultDocumentPath = "/incoming-documents/{documentId}"

// Default field names seeded from the loaded document.
var seededDocumentFields = []string{"sender", "received_number", "received_date"}

// HTTPDocumentLoader loads document snapshots from the backend.
type HTTPDocumentLoader struct {
	backend *Backend
	path    string
}

// NewHTTPDocumentLoader creates a loader. path must contain {documentId};
// an empty path uses /incoming-documents/{documentId}.
func NewHTTPDocumentLoader(b *Backend, path string) *HTTPDocumentLoader {
	if path == "" {
		path = defaultDocumentPath
	}
	return &HTTPDocumentLoader{backend: b, path: path}
}

// Load fetches a document and maps its server status onto a workflow state.
func (l *HTTPDocumentLoader) Load(ctx context.Context, rctx *model.RequestContext, documentID string) (model.Document, error) {
	if strings.TrimSpace(documentID) == "" {
		return model.Document{}, model.NewBadRequestError("document id is required")
	}
	if rctx != nil {
		ctx = model.WithRequestContext(ctx, rctx)
	}

	path := strings.ReplaceAll(l.path, "{documentId}", url.PathEscape(documentID))
	resp, err := l.backend.Do(ctx, "document.load", http.MethodGet, "", path, nil)
	if err != nil {
		return model.Document{}, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.Document{}, model.NewNotFoundError(fmt.Sprintf("Không tìm thấy văn bản %s", documentID))
	case resp.StatusCode == http.StatusForbidden:
		return model.Document{}, model.NewForbiddenError(remoteMessageOr(resp, "Không có quyền xem văn bản này"))
	case !resp.OK():
		return model.Document{}, remoteError(resp)
	}

	return decodeDocument(documentID, resp.Body)
}

// documentBody is the backend's document representation. Some deployments
// wrap it in {"data": {...}}.
type documentBody struct {
	ID             json.RawMessage   `json:"id"`
	Status         string            `json:"status"`
	State          string            `json:"state"`
	Assignees      []json.RawMessage `json:"assignees"`
	AssigneeIDs    []json.RawMessage `json:"assignee_ids"`
	Sender         string            `json:"sender"`
	ReceivedNumber json.RawMessage   `json:"received_number"`
	ReceivedDate   string            `json:"received_date"`
}

func decodeDocument(documentID string, data []byte) (model.Document, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		data = envelope.Data
	}

	var body documentBody
	if err := json.Unmarshal(data, &body); err != nil {
		return model.Document{}, fmt.Errorf("invoker: decoding document %s: %w", documentID, err)
	}

	status := body.Status
	if status == "" {
		status = body.State
	}
	state, ok := model.ParseWorkflowState(status)
	if !ok {
		return model.Document{}, fmt.Errorf("invoker: document %s has unknown status %q", documentID, status)
	}

	doc := model.Document{
		ID:       documentID,
		State:    state,
		Defaults: make(map[string]string, len(seededDocumentFields)),
	}
	if id := scalarString(body.ID); id != "" {
		doc.ID = id
	}

	seen := make(map[string]bool)
	for _, raw := range append(body.Assignees, body.AssigneeIDs...) {
		if id := assigneeID(raw); id != "" && !seen[id] {
			seen[id] = true
			doc.Assignees = append(doc.Assignees, id)
		}
	}

	if body.Sender != "" {
		doc.Defaults["sender"] = body.Sender
	}
	if n := scalarString(body.ReceivedNumber); n != "" {
		doc.Defaults["received_number"] = n
	}
	if body.ReceivedDate != "" {
		doc.Defaults["received_date"] = body.ReceivedDate
	}
	return doc, nil
}

// assigneeID accepts a bare id or an object carrying user_id or id.
func assigneeID(raw json.RawMessage) string {
	if s := scalarString(raw); s != "" {
		return s
	}
	var obj struct {
		UserID json.RawMessage `json:"user_id"`
		ID     json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if s := scalarString(obj.UserID); s != "" {
		return s
	}
	return scalarString(obj.ID)
}

// scalarString renders a JSON string or number as a string.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func remoteMessageOr(resp *Response, fallback string) string {
	if msg := remoteMessage(resp.Body); msg != "" {
		return msg
	}
	return fallback
}
