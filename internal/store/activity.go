package store

import (
	"context"
	"fmt"

	"github.com/iammorganparry/cmem/internal/models"
)

// ActivityStore tracks last access per entity row and per project. Every
// read and write path calls Touch so retention sees real usage.
type ActivityStore struct {
	db *DB
}

func NewActivityStore(db *DB) *ActivityStore {
	return &ActivityStore{db: db}
}

var entityTables = map[models.EntityKind]string{
	models.EntityObservation: "observations",
	models.EntitySummary:     "summaries",
	models.EntityPrompt:      "prompts",
}

// Touch bumps last_accessed_at on the given rows and the project's rolling
// activity. Timestamps only move forward.
func (s *ActivityStore) Touch(ctx context.Context, q Querier, kind models.EntityKind, ids []int64, project string, at int64) error {
	if q == nil {
		q = s.db
	}
	table, ok := entityTables[kind]
	if !ok {
		return fmt.Errorf("touch: unknown kind %q", kind)
	}
	if len(ids) > 0 {
		ph, args := inClause(ids)
		args = append([]any{at}, args...)
		query := fmt.Sprintf(`UPDATE %s SET last_accessed_at = MAX(last_accessed_at, ?) WHERE id IN (%s)`, table, ph)
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("touch %s: %w", table, err)
		}
	}
	return s.TouchProject(ctx, q, project, at)
}

// TouchProject upserts the project's activity row, keeping the max timestamp.
func (s *ActivityStore) TouchProject(ctx context.Context, q Querier, project string, at int64) error {
	if project == "" {
		return nil
	}
	if q == nil {
		q = s.db
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO project_activity (project, last_accessed_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project) DO UPDATE SET
			last_accessed_at = MAX(project_activity.last_accessed_at, excluded.last_accessed_at),
			updated_at = excluded.updated_at
	`, project, at, nowMillis())
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}

// ProjectLastAccess returns the project's activity timestamp, or 0.
func (s *ActivityStore) ProjectLastAccess(ctx context.Context, project string) (int64, error) {
	var at int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_accessed_at), 0) FROM project_activity WHERE project = ?`, project,
	).Scan(&at)
	if err != nil {
		return 0, fmt.Errorf("project last access: %w", err)
	}
	return at, nil
}
