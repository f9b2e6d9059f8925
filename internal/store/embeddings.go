package store

import (
	"context"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// EmbeddingStore is the local vector index: one embedding per observation,
// queried with sqlite-vec's cosine distance.
type EmbeddingStore struct {
	db *DB
}

func NewEmbeddingStore(db *DB) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

// Upsert stores or replaces an observation's embedding.
func (s *EmbeddingStore) Upsert(ctx context.Context, observationID int64, project string, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO observation_embeddings (observation_id, project, embedding, dimension, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(observation_id) DO UPDATE SET
			project = excluded.project,
			embedding = excluded.embedding,
			dimension = excluded.dimension
	`, observationID, project, blob, len(vec), nowMillis())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Query returns ids of live observations nearest to vec, closest first.
// Embeddings of a different dimension are ignored.
func (s *EmbeddingStore) Query(ctx context.Context, vec []float32, project string, limit int) ([]int64, error) {
	if len(vec) == 0 || limit <= 0 {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}

	query := `
		SELECT e.observation_id
		FROM observation_embeddings e
		JOIN observations o ON o.id = e.observation_id
		WHERE o.deleted_at IS NULL AND e.dimension = ?`
	args := []any{len(vec)}
	if project != "" {
		query += ` AND e.project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY vec_distance_cosine(e.embedding, ?) ASC, e.observation_id DESC LIMIT ?`
	args = append(args, blob, limit)

	return queryIDs(ctx, s.db, query, args...)
}

// Count returns the number of stored embeddings.
func (s *EmbeddingStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observation_embeddings`).Scan(&count)
	return count, err
}
