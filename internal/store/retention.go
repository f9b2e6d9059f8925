package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iammorganparry/cmem/internal/models"
)

// RetentionStore holds retention policies and the queries the sweeper uses
// to find, soft delete and hard delete project data.
type RetentionStore struct {
	db *DB
}

func NewRetentionStore(db *DB) *RetentionStore {
	return &RetentionStore{db: db}
}

// GetPolicy returns the stored policy for a project, or nil.
func (s *RetentionStore) GetPolicy(ctx context.Context, project string) (*models.RetentionPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project, enabled, pinned, ttl_days, updated_at
		FROM retention_policies WHERE project = ?
	`, project)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retention policy: %w", err)
	}
	return p, nil
}

// PutPolicy upserts a policy.
func (s *RetentionStore) PutPolicy(ctx context.Context, p *models.RetentionPolicy) error {
	p.UpdatedAt = nowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_policies (project, enabled, pinned, ttl_days, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project) DO UPDATE SET
			enabled = excluded.enabled,
			pinned = excluded.pinned,
			ttl_days = excluded.ttl_days,
			updated_at = excluded.updated_at
	`, p.Project, p.Enabled, p.Pinned, p.TTLDays, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put retention policy: %w", err)
	}
	return nil
}

// ListPolicies returns every stored policy ordered by project.
func (s *RetentionStore) ListPolicies(ctx context.Context) ([]*models.RetentionPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project, enabled, pinned, ttl_days, updated_at
		FROM retention_policies ORDER BY project
	`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.RetentionPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Projects returns every project that still has live data or recorded
// activity.
func (s *RetentionStore) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project FROM observations WHERE deleted_at IS NULL
		UNION SELECT project FROM summaries WHERE deleted_at IS NULL
		UNION SELECT s.project FROM prompts p
			JOIN sessions s ON s.external_session_id = p.external_session_id
			WHERE p.deleted_at IS NULL
		UNION SELECT project FROM project_activity
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if p != "" {
			projects = append(projects, p)
		}
	}
	return projects, rows.Err()
}

// LastAccess is the most recent access to anything in the project: the max
// over its observations, summaries, prompts and activity row.
func (s *RetentionStore) LastAccess(ctx context.Context, project string) (int64, error) {
	var at int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(last_accessed_at) FROM observations WHERE project = ?), 0),
			COALESCE((SELECT MAX(last_accessed_at) FROM summaries WHERE project = ?), 0),
			COALESCE((SELECT MAX(p.last_accessed_at) FROM prompts p
				JOIN sessions s ON s.external_session_id = p.external_session_id
				WHERE s.project = ?), 0),
			COALESCE((SELECT last_accessed_at FROM project_activity WHERE project = ?), 0)
		)
	`, project, project, project, project).Scan(&at)
	if err != nil {
		return 0, fmt.Errorf("project last access: %w", err)
	}
	return at, nil
}

// CountLive counts the project's rows that a soft delete would mark.
func (s *RetentionStore) CountLive(ctx context.Context, project string) (models.DeleteCounts, error) {
	var c models.DeleteCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM observations WHERE project = ? AND deleted_at IS NULL),
			(SELECT COUNT(*) FROM summaries WHERE project = ? AND deleted_at IS NULL),
			(SELECT COUNT(*) FROM prompts p
				JOIN sessions s ON s.external_session_id = p.external_session_id
				WHERE s.project = ? AND p.deleted_at IS NULL)
	`, project, project, project).Scan(&c.Observations, &c.Summaries, &c.Prompts)
	if err != nil {
		return c, fmt.Errorf("count live rows: %w", err)
	}
	return c, nil
}

// SoftDeletedIDs lists the ids marked by a soft delete, per kind, so the
// caller can remove them from external indexes.
type SoftDeletedIDs struct {
	Observations []int64
	Summaries    []int64
	Prompts      []int64
}

// SoftDeleteProject stamps deleted_at on every live row of the project in
// one transaction.
func (s *RetentionStore) SoftDeleteProject(ctx context.Context, project string, at int64) (models.DeleteCounts, *SoftDeletedIDs, error) {
	var counts models.DeleteCounts
	ids := &SoftDeletedIDs{}

	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		if ids.Observations, err = queryIDs(ctx, tx,
			`SELECT id FROM observations WHERE project = ? AND deleted_at IS NULL`, project); err != nil {
			return err
		}
		if ids.Summaries, err = queryIDs(ctx, tx,
			`SELECT id FROM summaries WHERE project = ? AND deleted_at IS NULL`, project); err != nil {
			return err
		}
		if ids.Prompts, err = queryIDs(ctx, tx, `
			SELECT p.id FROM prompts p
			JOIN sessions s ON s.external_session_id = p.external_session_id
			WHERE s.project = ? AND p.deleted_at IS NULL`, project); err != nil {
			return err
		}

		if counts.Observations, err = markDeleted(ctx, tx, "observations", ids.Observations, at); err != nil {
			return err
		}
		if counts.Summaries, err = markDeleted(ctx, tx, "summaries", ids.Summaries, at); err != nil {
			return err
		}
		if counts.Prompts, err = markDeleted(ctx, tx, "prompts", ids.Prompts, at); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return models.DeleteCounts{}, nil, fmt.Errorf("soft delete project %s: %w", project, err)
	}
	return counts, ids, nil
}

func markDeleted(ctx context.Context, tx *sql.Tx, table string, ids []int64, at int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph, args := inClause(ids)
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET deleted_at = ? WHERE id IN (%s) AND deleted_at IS NULL`, table, ph),
		append([]any{at}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("soft delete %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// HardDelete permanently removes rows soft deleted before cutoff, across all
// projects, together with their local embeddings.
func (s *RetentionStore) HardDelete(ctx context.Context, cutoff int64) (models.DeleteCounts, error) {
	var counts models.DeleteCounts
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM observation_embeddings WHERE observation_id IN (
				SELECT id FROM observations WHERE deleted_at IS NOT NULL AND deleted_at < ?
			)`, cutoff); err != nil {
			return fmt.Errorf("hard delete embeddings: %w", err)
		}
		for _, t := range []struct {
			table string
			n     *int
		}{
			{"observations", &counts.Observations},
			{"summaries", &counts.Summaries},
			{"prompts", &counts.Prompts},
		} {
			res, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE deleted_at IS NOT NULL AND deleted_at < ?`, t.table), cutoff)
			if err != nil {
				return fmt.Errorf("hard delete %s: %w", t.table, err)
			}
			n, _ := res.RowsAffected()
			*t.n = int(n)
		}
		return nil
	})
	if err != nil {
		return models.DeleteCounts{}, err
	}
	return counts, nil
}

func scanPolicy(row scanner) (*models.RetentionPolicy, error) {
	var p models.RetentionPolicy
	var ttl sql.NullInt64
	if err := row.Scan(&p.Project, &p.Enabled, &p.Pinned, &ttl, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if ttl.Valid {
		days := int(ttl.Int64)
		p.TTLDays = &days
	}
	return &p, nil
}
