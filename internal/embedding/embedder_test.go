package embedding

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/cmem/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeOllama(t *testing.T, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCacheStore(t *testing.T) *store.EmbeddingCacheStore {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewEmbeddingCacheStore(db)
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("caches by content hash", func(t *testing.T) {
		var calls atomic.Int32
		srv := fakeOllama(t, http.StatusOK, &calls)
		cache := newCacheStore(t)
		cfg := Config{Model: "nomic-embed-text", Dimension: 3}

		e, err := NewCachedEmbedder(NewOllamaClient(srv.URL, cfg.Model, 0), cache, cfg, discardLogger())
		require.NoError(t, err)
		defer e.Close()

		first := e.Embed(ctx, "hello")
		require.Equal(t, []float32{0.1, 0.2, 0.3}, first)

		entry, err := cache.Get(ctx, ContentHash("hello"), cfg.Model)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, 3, entry.Dimension)

		// A fresh embedder sharing the table must not call the provider.
		e2, err := NewCachedEmbedder(NewOllamaClient(srv.URL, cfg.Model, 0), cache, cfg, discardLogger())
		require.NoError(t, err)
		defer e2.Close()
		assert.Equal(t, first, e2.Embed(ctx, "hello"))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("provider failure yields nil", func(t *testing.T) {
		var calls atomic.Int32
		srv := fakeOllama(t, http.StatusBadRequest, &calls)
		cfg := Config{Model: "m", MaxRetries: 3}

		e, err := NewCachedEmbedder(NewOllamaClient(srv.URL, cfg.Model, 0), nil, cfg, discardLogger())
		require.NoError(t, err)
		defer e.Close()

		assert.Nil(t, e.Embed(ctx, "hello"))
		assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
	})

	t.Run("dimension mismatch yields nil", func(t *testing.T) {
		var calls atomic.Int32
		srv := fakeOllama(t, http.StatusOK, &calls)
		cfg := Config{Model: "m", Dimension: 768}

		e, err := NewCachedEmbedder(NewOllamaClient(srv.URL, cfg.Model, 0), nil, cfg, discardLogger())
		require.NoError(t, err)
		defer e.Close()
		assert.Nil(t, e.Embed(ctx, "hello"))
	})

	t.Run("stalled provider times out", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}))
		t.Cleanup(srv.Close)
		cfg := Config{Model: "text-embedding-3-small", Timeout: 100 * time.Millisecond, MaxRetries: 1}

		// The client carries no timeout of its own, so only the per-attempt
		// deadline can end each call.
		e, err := NewCachedEmbedder(NewOpenAIEmbedder("k", srv.URL, cfg.Model, 0, 0), nil, cfg, discardLogger())
		require.NoError(t, err)
		defer e.Close()

		start := time.Now()
		assert.Nil(t, e.Embed(ctx, "hello"))
		assert.Less(t, time.Since(start), 3*time.Second)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("disabled", func(t *testing.T) {
		e, err := New(Config{Provider: ProviderNone}, nil, discardLogger())
		require.NoError(t, err)
		assert.False(t, e.Enabled())
		assert.Nil(t, e.Embed(ctx, "hello"))
		assert.NoError(t, e.HealthCheck(ctx))
	})
}
