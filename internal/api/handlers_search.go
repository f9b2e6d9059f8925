package api

import (
	"net/http"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/search"
)

type SearchHandler struct {
	merger *search.Merger
}

func NewSearchHandler(m *search.Merger) *SearchHandler {
	return &SearchHandler{merger: m}
}

// Search handles POST /search. An empty query lists by filter.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.merger.Search(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Traces handles GET /search/traces
func (h *SearchHandler) Traces(w http.ResponseWriter, r *http.Request) {
	traces := h.merger.Tracer().Recent(limitQuery(r, 20))
	if traces == nil {
		traces = []models.SearchTrace{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}
