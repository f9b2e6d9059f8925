package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/iammorganparry/cmem/internal/models"
)

// EmbeddingCacheStore persists embeddings keyed by content hash so identical
// text is never sent to the embedding provider twice.
type EmbeddingCacheStore struct {
	db *DB
}

func NewEmbeddingCacheStore(db *DB) *EmbeddingCacheStore {
	return &EmbeddingCacheStore{db: db}
}

// Get returns a cached embedding for hash and model, or nil if not found.
func (s *EmbeddingCacheStore) Get(ctx context.Context, contentHash, model string) (*models.EmbeddingCacheEntry, error) {
	var (
		e    models.EmbeddingCacheEntry
		blob []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, embedding, dimension, model, updated_at
		FROM embedding_cache WHERE content_hash = ? AND model = ?
	`, contentHash, model).Scan(&e.ContentHash, &blob, &e.Dimension, &e.Model, &e.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding cache: %w", err)
	}
	e.Embedding = decodeFloat32(blob)
	if len(e.Embedding) != e.Dimension {
		// A truncated blob is treated as a miss and overwritten on the next put.
		return nil, nil
	}
	return &e, nil
}

// Put upserts an embedding cache entry.
func (s *EmbeddingCacheStore) Put(ctx context.Context, entry *models.EmbeddingCacheEntry) error {
	blob, err := sqlite_vec.SerializeFloat32(entry.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	entry.Dimension = len(entry.Embedding)
	entry.UpdatedAt = nowMillis()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, embedding, dimension, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = excluded.updated_at
	`, entry.ContentHash, blob, entry.Dimension, entry.Model, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put embedding cache: %w", err)
	}
	return nil
}

// decodeFloat32 reverses sqlite_vec.SerializeFloat32 (little-endian float32).
func decodeFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
