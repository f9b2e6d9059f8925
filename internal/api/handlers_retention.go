package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/retention"
)

type RetentionHandler struct {
	sweeper *retention.Sweeper
}

func NewRetentionHandler(s *retention.Sweeper) *RetentionHandler {
	return &RetentionHandler{sweeper: s}
}

// ListPolicies handles GET /retention/policies
func (h *RetentionHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	list, err := h.sweeper.ListPolicies(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*models.RetentionPolicy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": list})
}

// GetPolicy handles GET /retention/policies/{project}
func (h *RetentionHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.sweeper.GetPolicy(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutPolicy handles PUT /retention/policies/{project}
func (h *RetentionHandler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var req models.PolicyUpdate
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, err)
		return
	}

	p, err := h.sweeper.SetPolicy(r.Context(), chi.URLParam(r, "project"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Cleanup handles POST /retention/cleanup. dryRun may come from the body
// or the query string.
func (h *RetentionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req models.CleanupRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeServiceError(w, err)
		return
	}
	if r.URL.Query().Get("dryRun") == "true" {
		req.DryRun = true
	}

	report, err := h.sweeper.Cleanup(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
