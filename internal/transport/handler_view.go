package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/docflow/internal/journal"
	"github.com/pitabwire/docflow/internal/session"
	"github.com/pitabwire/docflow/model"
)

// maxBodyBytes bounds request bodies accepted by the view endpoints.
const maxBodyBytes = 64 << 10

type mountRequest struct {
	DocumentID string `json:"document_id"`
}

type selectRequest struct {
	Action model.ActionID `json:"action"`
}

type submitRequest struct {
	Values map[string]string `json:"values"`
}

func handleSteps(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"data": store.Views().Steps()})
	}
}

func handleViewMount(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body mountRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		if strings.TrimSpace(body.DocumentID) == "" {
			WriteError(w, model.NewBadRequestError("document_id is required"))
			return
		}

		view, err := store.Mount(r.Context(), model.RequestContextFrom(r.Context()), body.DocumentID)
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Location", "/api/views/"+view.ViewID)
		WriteJSON(w, http.StatusCreated, view)
	}
}

func handleViewGet(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := store.View(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "viewId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func handleViewSelect(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body selectRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		view, err := store.Select(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "viewId"), body.Action)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func handleViewSubmit(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body submitRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		if body.Values == nil {
			body.Values = map[string]string{}
		}

		view, err := store.Submit(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "viewId"), body.Values)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func handleViewRefresh(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := store.Refresh(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "viewId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func handleViewUnmount(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Unmount(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "viewId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHistory(store *session.Store, j journal.Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentId")
		if err := store.Authorize(r.Context(), model.RequestContextFrom(r.Context()), documentID); err != nil {
			WriteError(w, err)
			return
		}

		limit := queryInt(r, "limit", journal.DefaultListLimit)
		events, err := j.List(r.Context(), documentID, limit)
		if err != nil {
			WriteError(w, err)
			return
		}
		if events == nil {
			events = []model.TransitionEvent{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
