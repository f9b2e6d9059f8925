package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/cmem/internal/events"
	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/queue"
	"github.com/iammorganparry/cmem/internal/retention"
	"github.com/iammorganparry/cmem/internal/search"
	"github.com/iammorganparry/cmem/internal/sessions"
	"github.com/iammorganparry/cmem/internal/store"
)

// Deps groups everything the HTTP layer serves.
type Deps struct {
	DB           *store.DB
	Registry     *sessions.Registry
	Processor    *queue.Processor
	Observations *store.ObservationStore
	Summaries    *store.SummaryStore
	Prompts      *store.PromptStore
	Embeddings   *store.EmbeddingStore
	Merger       *search.Merger
	Indexer      *search.Indexer
	Toucher      *search.Toucher
	Sweeper      *retention.Sweeper
	Broadcaster  *events.Broadcaster
	Embedder     Backend
	External     Backend

	AgentProvider string
	APIKey        string
}

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(d Deps, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(d)
	sessionH := NewSessionHandler(d, logger)
	searchH := NewSearchHandler(d.Merger)
	queueH := NewQueueHandler(d.Processor)
	retentionH := NewRetentionHandler(d.Sweeper)
	eventH := NewEventHandler(d.Broadcaster, logger)

	obsH := NewRecordHandler[models.Observation](models.EntityObservation, d.Observations,
		func(ctx context.Context, items []*models.Observation) error {
			return d.Toucher.Touch(ctx, items, nil, nil)
		}, logger)
	sumH := NewRecordHandler[models.Summary](models.EntitySummary, d.Summaries,
		func(ctx context.Context, items []*models.Summary) error {
			return d.Toucher.Touch(ctx, nil, items, nil)
		}, logger)
	promptH := NewRecordHandler[models.Prompt](models.EntityPrompt, d.Prompts,
		func(ctx context.Context, items []*models.Prompt) error {
			return d.Toucher.Touch(ctx, nil, nil, items)
		}, logger)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(d.APIKey))

		r.Get("/status", healthH.Status)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionH.ListActive)
			r.Post("/init", sessionH.Init)
			r.Post("/observations", sessionH.Observation)
			r.Post("/summarize", sessionH.Summarize)
			r.Post("/complete", sessionH.Complete)
			r.Get("/{id}", sessionH.Get)
		})

		r.Route("/observations", func(r chi.Router) {
			r.Get("/", obsH.List)
			r.Post("/batch", obsH.Batch)
			r.Get("/{id}", obsH.Get)
		})
		r.Route("/summaries", func(r chi.Router) {
			r.Get("/", sumH.List)
			r.Post("/batch", sumH.Batch)
			r.Get("/{id}", sumH.Get)
		})
		r.Route("/prompts", func(r chi.Router) {
			r.Get("/", promptH.List)
			r.Post("/batch", promptH.Batch)
			r.Get("/{id}", promptH.Get)
		})

		r.Post("/search", searchH.Search)
		r.Get("/search/traces", searchH.Traces)

		r.Route("/queue", func(r chi.Router) {
			r.Post("/drain", queueH.Drain)
			r.Post("/recover", queueH.Recover)
			r.Post("/retry-failed", queueH.RetryFailed)
			r.Get("/failed", queueH.Failed)
			r.Get("/stats", queueH.Stats)
		})

		r.Route("/retention", func(r chi.Router) {
			r.Get("/policies", retentionH.ListPolicies)
			r.Get("/policies/{project}", retentionH.GetPolicy)
			r.Put("/policies/{project}", retentionH.PutPolicy)
			r.Post("/cleanup", retentionH.Cleanup)
		})

		r.Get("/events", eventH.Stream)
	})

	return r
}
