package embedding

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
)

const (
	defaultCacheSize = 1 << 24
	maxEmbedBackoff  = 4 * time.Second
)

// CachedEmbedder fronts a Provider with an in-memory ristretto cache and
// the SQLite embedding_cache table, both keyed by content hash.
type CachedEmbedder struct {
	provider   Provider
	mem        *ristretto.Cache
	cache      *store.EmbeddingCacheStore
	model      string
	dim        int
	maxRetries int
	timeout    time.Duration
	logger     *slog.Logger
}

// Disabled returns an embedder that always yields nil.
func Disabled() *CachedEmbedder {
	return &CachedEmbedder{}
}

func NewCachedEmbedder(p Provider, cache *store.EmbeddingCacheStore, cfg Config, logger *slog.Logger) (*CachedEmbedder, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	mem, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size / 64,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{
		provider:   p,
		mem:        mem,
		cache:      cache,
		model:      cfg.Model,
		dim:        cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		logger:     logger,
	}, nil
}

func (e *CachedEmbedder) Enabled() bool { return e.provider != nil }

func (e *CachedEmbedder) Model() string { return e.model }

// Embed returns the embedding for text, using cache when available. Any
// provider failure is logged and reported as nil.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) []float32 {
	if e.provider == nil || text == "" {
		return nil
	}
	hash := ContentHash(text)

	if v, ok := e.mem.Get(hash); ok {
		return v.([]float32)
	}

	if e.cache != nil {
		entry, err := e.cache.Get(ctx, hash, e.model)
		if err != nil {
			e.logger.Warn("embedding cache lookup failed", "error", err)
		} else if entry != nil {
			e.remember(hash, entry.Embedding)
			return entry.Embedding
		}
	}

	vec, err := e.embedWithRetry(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed", "model", e.model, "error", err)
		return nil
	}
	if e.dim > 0 && len(vec) != e.dim {
		e.logger.Warn("embedding dimension mismatch", "want", e.dim, "got", len(vec))
		return nil
	}

	e.remember(hash, vec)
	if e.cache != nil {
		err := e.cache.Put(ctx, &models.EmbeddingCacheEntry{
			ContentHash: hash,
			Embedding:   vec,
			Model:       e.model,
		})
		if err != nil {
			e.logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return vec
}

// HealthCheck reports whether the provider is reachable.
func (e *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if e.provider == nil {
		return nil
	}
	return e.provider.HealthCheck(ctx)
}

func (e *CachedEmbedder) Close() {
	if e.mem != nil {
		e.mem.Close()
	}
}

func (e *CachedEmbedder) remember(hash string, vec []float32) {
	e.mem.Set(hash, vec, int64(len(vec)*4))
}

func (e *CachedEmbedder) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	delay := 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
			delay = min(delay*2, maxEmbedBackoff)
		}
		vec, err := e.attempt(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt bounds a single provider call by the configured timeout.
func (e *CachedEmbedder) attempt(ctx context.Context, text string) ([]float32, error) {
	if e.timeout <= 0 {
		return e.provider.Embed(ctx, text)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.provider.Embed(ctx, text)
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
