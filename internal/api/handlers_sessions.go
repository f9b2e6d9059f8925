package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/queue"
	"github.com/iammorganparry/cmem/internal/search"
	"github.com/iammorganparry/cmem/internal/sessions"
	"github.com/iammorganparry/cmem/internal/store"
)

// SessionHandler serves the hook-facing session lifecycle.
type SessionHandler struct {
	registry  *sessions.Registry
	processor *queue.Processor
	prompts   *store.PromptStore
	indexer   *search.Indexer
	logger    *slog.Logger
}

func NewSessionHandler(d Deps, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		registry:  d.Registry,
		processor: d.Processor,
		prompts:   d.Prompts,
		indexer:   d.Indexer,
		logger:    logger,
	}
}

// Init handles POST /sessions/init
func (h *SessionHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req models.InitRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, err)
		return
	}

	res, err := h.registry.InitSession(r.Context(), req.SessionID, req.Project, req.Prompt)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if !res.Skipped {
		h.indexPrompt(r, req.SessionID, res.PromptNumber)
	}
	writeJSON(w, http.StatusOK, res)
}

// indexPrompt pushes the stored prompt to the vector indexes. Failures are
// logged by the indexer and never fail the init.
func (h *SessionHandler) indexPrompt(r *http.Request, externalID string, number int) {
	p, err := h.prompts.Latest(r.Context(), nil, externalID)
	if err != nil {
		h.logger.Warn("prompt lookup for indexing failed", "session_id", externalID, "error", err)
		return
	}
	if p == nil || p.PromptNumber != number {
		return
	}
	h.indexer.IndexPrompt(r.Context(), p)
}

// Observation handles POST /sessions/observations
func (h *SessionHandler) Observation(w http.ResponseWriter, r *http.Request) {
	var req models.ObservationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.processor.EnqueueObservation(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Summarize handles POST /sessions/summarize
func (h *SessionHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req models.SummarizeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.processor.EnqueueSummary(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Complete handles POST /sessions/complete
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req models.CompleteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.processor.Complete(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListActive handles GET /sessions
func (h *SessionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListActive(r.Context(), limitQuery(r, defaultLimit))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
