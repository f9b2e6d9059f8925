// Package app wires stores, engines and the HTTP router from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iammorganparry/cmem/internal/agent"
	"github.com/iammorganparry/cmem/internal/api"
	"github.com/iammorganparry/cmem/internal/config"
	"github.com/iammorganparry/cmem/internal/embedding"
	"github.com/iammorganparry/cmem/internal/events"
	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/queue"
	"github.com/iammorganparry/cmem/internal/retention"
	"github.com/iammorganparry/cmem/internal/search"
	"github.com/iammorganparry/cmem/internal/sessions"
	"github.com/iammorganparry/cmem/internal/store"
	"github.com/iammorganparry/cmem/internal/vectorstore"
)

// App holds the running components of one cmem process.
type App struct {
	Config      *config.Config
	DB          *store.DB
	Registry    *sessions.Registry
	Processor   *queue.Processor
	Merger      *search.Merger
	Sweeper     *retention.Sweeper
	Broadcaster *events.Broadcaster
	Embedder    *embedding.CachedEmbedder
	External    vectorstore.External

	deps      api.Deps
	scheduler *retention.Scheduler
	closers   []func() error
	logger    *slog.Logger
}

// New opens the database and builds every component. Optional backends
// that are configured but unreachable are logged and used anyway; their
// calls degrade per request.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, DB: db, logger: logger}
	a.closers = append(a.closers, db.Close)

	// Stores
	observations := store.NewObservationStore(db)
	summaries := store.NewSummaryStore(db)
	prompts := store.NewPromptStore(db)
	activity := store.NewActivityStore(db)
	embeddings := store.NewEmbeddingStore(db)
	embCache := store.NewEmbeddingCacheStore(db)
	queueStore := store.NewQueueStore(db, cfg.Queue.RetryCap)

	// Embedding
	a.Embedder, err = embedding.New(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
		CacheSize:  cfg.Embedding.CacheBytes,
	}, embCache, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	a.closers = append(a.closers, func() error { a.Embedder.Close(); return nil })

	// External vectors
	a.External = vectorstore.Disabled{}
	if cfg.Qdrant.Enabled {
		qs, err := vectorstore.NewQdrantStore(vectorstore.Config{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		a.External = qs
		a.closers = append(a.closers, qs.Close)
	}

	// Agent
	ag, err := agent.New(agent.Config{
		Provider:   cfg.Agent.Provider,
		Model:      cfg.Agent.Model,
		BaseURL:    cfg.Agent.BaseURL,
		APIKey:     cfg.Agent.APIKey,
		MaxTokens:  cfg.Agent.MaxTokens,
		Timeout:    cfg.Agent.Timeout,
		MaxRetries: cfg.Agent.MaxRetries,
		Backoff:    cfg.Agent.Backoff,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("agent: %w", err)
	}

	a.Broadcaster = events.NewBroadcaster(cfg.EventBuffer, logger)
	indexer := search.NewIndexer(a.Embedder, embeddings, a.External, logger)
	toucher := search.NewToucher(db, activity)

	a.Merger = search.NewMerger(search.Deps{
		Observations: observations,
		Summaries:    summaries,
		Prompts:      prompts,
		Embeddings:   embeddings,
		Embedder:     a.Embedder,
		External:     a.External,
		Toucher:      toucher,
		Tracer:       search.NewTracer(cfg.TraceBufferSize),
	}, logger)

	a.Registry = sessions.NewRegistry(db, logger)
	a.Processor = queue.NewProcessor(queue.Deps{
		DB:           db,
		Queue:        queueStore,
		Registry:     a.Registry,
		Observations: observations,
		Summaries:    summaries,
		Activity:     activity,
		Agent:        ag,
		Indexer:      indexer,
		Publisher:    a.Broadcaster,
	}, queue.Config{
		DrainMode:  queue.DrainMode(cfg.Queue.DrainMode),
		Workers:    cfg.Queue.Workers,
		PoolSize:   cfg.Queue.PoolSize,
		StaleAfter: cfg.Queue.StaleAfter,
	}, logger)

	a.Sweeper = retention.NewSweeper(store.NewRetentionStore(db), indexer, a.Broadcaster, retention.Config{
		DefaultTTLDays: cfg.Retention.DefaultTTLDays,
		SoftDeleteDays: cfg.Retention.SoftDeleteDays,
	}, logger)

	a.deps = api.Deps{
		DB:            db,
		Registry:      a.Registry,
		Processor:     a.Processor,
		Observations:  observations,
		Summaries:     summaries,
		Prompts:       prompts,
		Embeddings:    embeddings,
		Merger:        a.Merger,
		Indexer:       indexer,
		Toucher:       toucher,
		Sweeper:       a.Sweeper,
		Broadcaster:   a.Broadcaster,
		Embedder:      a.Embedder,
		External:      a.External,
		AgentProvider: providerName(cfg.Agent.Provider),
		APIKey:        cfg.APIKey,
	}
	return a, nil
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler {
	return api.NewRouter(a.deps, a.logger)
}

// Start probes optional backends, recovers queue work left by a previous
// process and starts the background jobs.
func (a *App) Start(ctx context.Context) error {
	if a.Embedder.Enabled() {
		if err := a.Embedder.HealthCheck(ctx); err != nil {
			a.logger.Warn("embedder not available at startup, vectors will be skipped until it recovers", "error", err)
		}
	}
	if a.External.Enabled() {
		if err := a.External.HealthCheck(ctx); err != nil {
			a.logger.Warn("qdrant not available at startup, will retry on first use", "error", err)
		}
	}

	res, err := a.Processor.RecoverAll(ctx)
	if err != nil {
		a.logger.Error("startup recovery failed", "error", err)
	} else if res.Reset > 0 || res.Sessions > 0 {
		a.logger.Info("startup recovery complete", "reset", res.Reset, "sessions", res.Sessions)
	}

	a.scheduler = retention.NewScheduler(a.logger)
	if err := a.scheduleJobs(); err != nil {
		return err
	}
	a.scheduler.Start()
	return nil
}

func (a *App) scheduleJobs() error {
	cfg := a.Config
	if cfg.Queue.RecoverInterval > 0 {
		err := a.scheduler.Every("queue-recover", cfg.Queue.RecoverInterval, func(ctx context.Context) error {
			_, err := a.Processor.RecoverAll(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if !cfg.Retention.Enabled {
		a.logger.Info("retention disabled")
		return nil
	}
	sweep := func(ctx context.Context) error {
		report, err := a.Sweeper.Cleanup(ctx, models.CleanupRequest{})
		if err != nil {
			return err
		}
		a.logger.Info("retention sweep complete",
			"soft_deleted", report.SoftDeleted.Total(),
			"hard_deleted", report.HardDeleted.Total(),
		)
		return nil
	}
	if cfg.Retention.Schedule != "" {
		return a.scheduler.Cron("retention", cfg.Retention.Schedule, sweep)
	}
	return a.scheduler.Every("retention", cfg.Retention.Interval, sweep)
}

// Close stops background work and releases resources in reverse order.
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.Processor != nil {
		a.Processor.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func providerName(p string) string {
	if p == "" {
		return agent.ProviderRules
	}
	return p
}
