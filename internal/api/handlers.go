package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/obiverse/nine-s/internal/ns"
)

// Handler serves scroll operations over a namespace.
type Handler struct {
	target ns.Namespace
}

// NewHandler creates a handler backed by target.
func NewHandler(target ns.Namespace) *Handler {
	return &Handler{target: target}
}

// scrollPath extracts the namespace path from a wildcard route.
func scrollPath(r *http.Request) string {
	return "/" + chi.URLParam(r, "*")
}

// httpStatus maps a namespace failure to an HTTP status.
func httpStatus(err error) int {
	switch ns.CodeOf(err) {
	case ns.CodeNotFound:
		return http.StatusNotFound
	case ns.CodeInvalidPath, ns.CodeInvalidData:
		return http.StatusBadRequest
	case ns.CodePermission:
		return http.StatusForbidden
	case ns.CodeClosed, ns.CodeUnavailable:
		return http.StatusServiceUnavailable
	case ns.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), errResponse{
		Error: err.Error(),
		Code:  string(ns.CodeOf(err)),
	})
}

// GetScroll handles GET /scrolls/*.
func (h *Handler) GetScroll(w http.ResponseWriter, r *http.Request) {
	sc, err := h.target.Read(scrollPath(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if sc == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no scroll at this path"))
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// PutScroll handles PUT /scrolls/*. The body is the data mapping.
func (h *Handler) PutScroll(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("body must be a JSON object"))
		return
	}
	sc, err := h.target.Write(scrollPath(r), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// ListScrolls handles GET /scrolls?prefix=/a.
func (h *Handler) ListScrolls(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "/"
	}
	paths, err := h.target.List(prefix)
	if err != nil {
		writeError(w, err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paths": paths,
		"total": len(paths),
	})
}
