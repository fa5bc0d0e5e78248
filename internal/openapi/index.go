// Package openapi loads the document backend's OpenAPI contract and indexes
// its operations by operationId.
package openapi

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation is a resolved OpenAPI operation.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	BaseURL      string
}

// Index is an in-memory index of operations keyed by operationId.
type Index struct {
	operations map[string]Operation
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{operations: make(map[string]Operation)}
}

// Load parses the spec at path and indexes every operation that carries an
// operationId. baseURL overrides the spec's first server entry when set.
func (idx *Index) Load(path, baseURL string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", path, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", path, err)
	}

	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}

	for p, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}

			params := make([]*openapi3.Parameter, 0, len(item.Parameters)+len(op.Parameters))
			for _, ref := range item.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var body *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				body = op.RequestBody.Value
			}

			idx.operations[op.OperationID] = Operation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: p,
				Parameters:   params,
				RequestBody:  body,
				BaseURL:      baseURL,
			}
		}
	}
	return nil
}

// Operation returns the operation with the given id.
func (idx *Index) Operation(operationID string) (Operation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// OperationIDs returns all indexed operation ids, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MissingRequired returns the required top-level JSON body properties that
// are absent from body. Unknown operations and operations without a JSON
// body schema report nothing.
func (idx *Index) MissingRequired(operationID string, body map[string]any) []string {
	op, ok := idx.operations[operationID]
	if !ok || op.RequestBody == nil {
		return nil
	}
	mt := op.RequestBody.Content.Get("application/json")
	if mt == nil || mt.Schema == nil || mt.Schema.Value == nil {
		return nil
	}

	var missing []string
	for _, name := range mt.Schema.Value.Required {
		if _, exists := body[name]; !exists {
			missing = append(missing, name)
		}
	}
	return missing
}

// ExpandPath substitutes {name} placeholders in the operation's path
// template. Values are path-escaped.
func (op Operation) ExpandPath(params map[string]string) (string, error) {
	p := op.PathTemplate
	for name, value := range params {
		p = strings.ReplaceAll(p, "{"+name+"}", url.PathEscape(value))
	}
	if i := strings.IndexByte(p, '{'); i >= 0 {
		return "", fmt.Errorf("openapi: unresolved path parameter in %s", op.PathTemplate)
	}
	return p, nil
}
