package api

import (
	"context"
	"net/http"
	"time"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/queue"
	"github.com/iammorganparry/cmem/internal/sessions"
	"github.com/iammorganparry/cmem/internal/store"
)

// Backend is an optional dependency that can report its reachability.
type Backend interface {
	Enabled() bool
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	db            *store.DB
	embedder      Backend
	external      Backend
	processor     *queue.Processor
	registry      *sessions.Registry
	observations  *store.ObservationStore
	summaries     *store.SummaryStore
	prompts       *store.PromptStore
	embeddings    *store.EmbeddingStore
	agentProvider string
}

func NewHealthHandler(d Deps) *HealthHandler {
	return &HealthHandler{
		db:            d.DB,
		embedder:      d.Embedder,
		external:      d.External,
		processor:     d.Processor,
		registry:      d.Registry,
		observations:  d.Observations,
		summaries:     d.Summaries,
		prompts:       d.Prompts,
		embeddings:    d.Embeddings,
		agentProvider: d.AgentProvider,
	}
}

// Health handles GET /health. Only the database is required; optional
// backends that fail mark the service degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := models.HealthResponse{Status: "ok"}

	if err := h.db.Ping(ctx); err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "error"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
	}

	resp.Embedder = check(ctx, h.embedder)
	resp.Vector = check(ctx, h.external)
	if resp.Status == "ok" && (resp.Embedder.Status == "error" || resp.Vector.Status == "error") {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func check(ctx context.Context, b Backend) models.ServiceCheck {
	if b == nil || !b.Enabled() {
		return models.ServiceCheck{Status: "disabled"}
	}
	if err := b.HealthCheck(ctx); err != nil {
		return models.ServiceCheck{Status: "error", Message: err.Error()}
	}
	return models.ServiceCheck{Status: "ok"}
}

// Status handles GET /status.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := models.StatusResponse{
		DrainMode:       string(h.processor.Mode()),
		AgentProvider:   h.agentProvider,
		EmbedderEnabled: h.embedder != nil && h.embedder.Enabled(),
		ExternalVector:  h.external != nil && h.external.Enabled(),
	}

	stats, err := h.processor.Stats(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp.Queue = *stats

	counts := []struct {
		dst *int
		fn  func(context.Context) (int, error)
	}{
		{&resp.ActiveSessions, h.registry.CountActive},
		{&resp.Observations, h.observations.Count},
		{&resp.Summaries, h.summaries.Count},
		{&resp.Prompts, h.prompts.CountLive},
		{&resp.LocalEmbeddings, h.embeddings.Count},
	}
	for _, c := range counts {
		n, err := c.fn(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		*c.dst = n
	}

	writeJSON(w, http.StatusOK, resp)
}
