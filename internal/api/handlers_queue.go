package api

import (
	"fmt"
	"net/http"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/queue"
)

type QueueHandler struct {
	processor *queue.Processor
}

func NewQueueHandler(p *queue.Processor) *QueueHandler {
	return &QueueHandler{processor: p}
}

type sessionBody struct {
	SessionID string `json:"sessionId"`
}

// Drain handles POST /queue/drain
func (h *QueueHandler) Drain(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.SessionID == "" {
		writeServiceError(w, fmt.Errorf("sessionId is required: %w", models.ErrValidation))
		return
	}

	res, err := h.processor.DrainSession(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Recover handles POST /queue/recover
func (h *QueueHandler) Recover(w http.ResponseWriter, r *http.Request) {
	res, err := h.processor.RecoverAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RetryFailed handles POST /queue/retry-failed. Without a sessionId every
// failed item is re-armed.
func (h *QueueHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if err := decodeJSON(r, &req, true); err != nil {
		writeServiceError(w, err)
		return
	}

	n, err := h.processor.RetryFailed(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": n})
}

// Failed handles GET /queue/failed
func (h *QueueHandler) Failed(w http.ResponseWriter, r *http.Request) {
	items, err := h.processor.Failures(r.Context(), limitQuery(r, defaultLimit))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Stats handles GET /queue/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.processor.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
