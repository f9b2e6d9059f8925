// Package embedding turns text into vectors for semantic search. Callers
// see a best-effort Embedder: a missing or failing provider yields nil and
// search falls back to lexical matching.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
)

// Embedder returns a vector for text, or nil when embeddings are
// unavailable. It never returns an error.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
	Enabled() bool
}

// Provider is a raw embedding backend.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	HealthCheck(ctx context.Context) error
}

// Provider names accepted by New.
const (
	ProviderNone   = "none"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config selects the embedding backend.
type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
	CacheSize  int64
}

// New builds the configured embedder. An empty or "none" provider returns
// a disabled embedder.
func New(cfg Config, cache *store.EmbeddingCacheStore, logger *slog.Logger) (*CachedEmbedder, error) {
	var p Provider
	switch cfg.Provider {
	case "", ProviderNone:
		return Disabled(), nil
	case ProviderOllama:
		p = NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Timeout)
	case ProviderOpenAI:
		p = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: %w", cfg.Provider, models.ErrValidation)
	}
	return NewCachedEmbedder(p, cache, cfg, logger)
}
