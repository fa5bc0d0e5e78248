package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/openapi"
	"github.com/pitabwire/docflow/model"
)

// defaultTransitionPath is used for actions without a mapped operationId.
const defaultTransitionPath = "/incoming-documents/{documentId}/{action}"

// HTTPTransitionClient sends transitions to the document backend. Each
// action resolves to an OpenAPI operation when one is mapped, otherwise to
// POST /incoming-documents/{documentId}/{action}.
type HTTPTransitionClient struct {
	backend    *Backend
	index      *openapi.Index
	operations map[model.ActionID]string
}

// NewHTTPTransitionClient creates a transition client. operations maps
// action ids to operationIds in index; index may be nil when no contract
// is configured.
func NewHTTPTransitionClient(b *Backend, index *openapi.Index, operations map[string]string) (*HTTPTransitionClient, error) {
	ops := make(map[model.ActionID]string, len(operations))
	for raw, opID := range operations {
		action := model.ActionID(raw)
		if !action.Valid() {
			return nil, fmt.Errorf("invoker: unknown action %q in operation map", raw)
		}
		if index == nil {
			return nil, fmt.Errorf("invoker: operation %q mapped for %s but no OpenAPI spec is loaded", opID, action)
		}
		if _, ok := index.Operation(opID); !ok {
			return nil, fmt.Errorf("invoker: operation %q for %s not found in OpenAPI spec", opID, action)
		}
		ops[action] = opID
	}
	return &HTTPTransitionClient{backend: b, index: index, operations: ops}, nil
}

// Execute sends payload for action on documentID. Non-2xx responses become
// REMOTE_ERROR; transport failures surface as BACKEND_UNAVAILABLE or
// BACKEND_TIMEOUT.
func (c *HTTPTransitionClient) Execute(ctx context.Context, documentID string, action model.ActionID, payload model.Payload) error {
	if payload == nil || payload.Action() != action {
		return model.NewBadRequestError(fmt.Sprintf("payload does not match action %s", action))
	}

	method, base, path, operation, err := c.resolve(documentID, action)
	if err != nil {
		return err
	}

	if opID, ok := c.operations[action]; ok {
		if missing := c.index.MissingRequired(opID, payloadFields(payload)); len(missing) > 0 {
			return model.NewBadRequestError("Thiếu trường bắt buộc: " + strings.Join(missing, ", "))
		}
	}

	ctx, span := observability.StartSpan(ctx, "invoker.Execute",
		observability.AttrDocumentID.String(documentID),
		observability.AttrAction.String(string(action)),
	)
	resp, err := c.backend.Do(ctx, operation, method, base, path, payload)
	if err == nil && !resp.OK() {
		err = remoteError(resp)
	}
	observability.EndSpanWithError(span, err)

	if err != nil {
		observability.DocumentLogger(ctx, c.backend.logger, documentID).Debug("transition call failed",
			zap.String("action", string(action)),
			zap.String("operation", operation),
			zap.Any("payload", observability.RedactBody(payloadFields(payload), nil)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (c *HTTPTransitionClient) resolve(documentID string, action model.ActionID) (method, base, path, operation string, err error) {
	if opID, ok := c.operations[action]; ok {
		op, _ := c.index.Operation(opID)
		path, err = op.ExpandPath(map[string]string{
			"documentId": documentID,
			"id":         documentID,
			"action":     string(action),
		})
		if err != nil {
			return "", "", "", "", fmt.Errorf("invoker: %s: %w", opID, err)
		}
		return op.Method, op.BaseURL, path, opID, nil
	}

	path = strings.NewReplacer(
		"{documentId}", url.PathEscape(documentID),
		"{action}", url.PathEscape(string(action)),
	).Replace(defaultTransitionPath)
	return http.MethodPost, "", path, "transition." + string(action), nil
}

// payloadFields returns the payload's wire fields as a generic map.
func payloadFields(p model.Payload) map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
