package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iammorganparry/cmem/internal/models"
)

const summaryColumns = `id, memory_session_id, project, request, investigated,
	learned, completed, next_steps, notes, prompt_number, source_item_id,
	created_at, last_accessed_at, deleted_at`

// SummaryStore handles Summary persistence on SQLite.
type SummaryStore struct {
	db *DB
}

func NewSummaryStore(db *DB) *SummaryStore {
	return &SummaryStore{db: db}
}

// Insert stores a summary, returning the existing id when the same source
// queue item was already written for this memory session.
func (s *SummaryStore) Insert(ctx context.Context, q Querier, sum *models.Summary) (int64, bool, error) {
	if q == nil {
		q = s.db
	}
	if sum.SourceItemID != nil {
		var existing int64
		err := q.QueryRowContext(ctx,
			`SELECT id FROM summaries WHERE memory_session_id = ? AND source_item_id = ?`,
			sum.MemorySessionID, *sum.SourceItemID,
		).Scan(&existing)
		if err == nil {
			return existing, false, nil
		}
		if err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("lookup summary by source: %w", err)
		}
	}

	if sum.CreatedAt == 0 {
		sum.CreatedAt = nowMillis()
	}
	if sum.LastAccessedAt == 0 {
		sum.LastAccessedAt = sum.CreatedAt
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO summaries (
			memory_session_id, project, request, investigated, learned,
			completed, next_steps, notes, prompt_number, source_item_id,
			created_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sum.MemorySessionID, sum.Project, sum.Request, sum.Investigated, sum.Learned,
		sum.Completed, sum.NextSteps, nullIfEmpty(sum.Notes), sum.PromptNumber, sum.SourceItemID,
		sum.CreatedAt, sum.LastAccessedAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert summary id: %w", err)
	}
	sum.ID = id
	return id, true, nil
}

// GetByID fetches one live summary.
func (s *SummaryStore) GetByID(ctx context.Context, id int64) (*models.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM summaries WHERE id = ? AND deleted_at IS NULL`, summaryColumns), id)
	sum, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return sum, nil
}

// GetByIDs fetches live summaries in the order of ids, re-applying the
// project and date filter.
func (s *SummaryStore) GetByIDs(ctx context.Context, ids []int64, f models.ListFilter) ([]*models.Summary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph, args := inClause(ids)
	conditions, filterArgs := filterConditions(f, "project", "created_at", "")
	conditions = append([]string{fmt.Sprintf("id IN (%s)", ph), "deleted_at IS NULL"}, conditions...)
	args = append(args, filterArgs...)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM summaries WHERE %s`,
		summaryColumns, strings.Join(conditions, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("get summaries by ids: %w", err)
	}
	defer rows.Close()

	found, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Summary, len(found))
	for _, sum := range found {
		byID[sum.ID] = sum
	}
	ordered := make([]*models.Summary, 0, len(found))
	for _, id := range ids {
		if sum, ok := byID[id]; ok {
			ordered = append(ordered, sum)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// List returns a filtered page of live summaries, newest first.
func (s *SummaryStore) List(ctx context.Context, f models.ListFilter) ([]*models.Summary, int, error) {
	conditions, args := filterConditions(f, "project", "created_at", "")
	conditions = append(conditions, "deleted_at IS NULL")
	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM summaries "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count summaries: %w", err)
	}

	_, limit, offset := pageBounds(f.Page, f.Limit)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM summaries %s
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, summaryColumns, whereClause), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

// SearchLexical returns ids of live summaries containing query, newest first.
func (s *SummaryStore) SearchLexical(ctx context.Context, query string, f models.ListFilter, limit int) ([]int64, error) {
	conditions, args := filterConditions(f, "project", "created_at", "")
	conditions = append(conditions, "deleted_at IS NULL")
	if query = strings.TrimSpace(query); query != "" {
		pattern := "%" + escapeLike(query) + "%"
		conditions = append(conditions, `(request LIKE ? ESCAPE '\' OR investigated LIKE ? ESCAPE '\' OR learned LIKE ? ESCAPE '\' OR completed LIKE ? ESCAPE '\' OR next_steps LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}
	return queryIDs(ctx, s.db, fmt.Sprintf(
		`SELECT id FROM summaries WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`,
		strings.Join(conditions, " AND ")), append(args, limit)...)
}

// Count returns the number of live summaries.
func (s *SummaryStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM summaries WHERE deleted_at IS NULL").Scan(&count)
	return count, err
}

func scanSummary(row scanner) (*models.Summary, error) {
	var sum models.Summary
	var notes sql.NullString
	var sourceItemID, deletedAt sql.NullInt64

	if err := row.Scan(
		&sum.ID, &sum.MemorySessionID, &sum.Project, &sum.Request, &sum.Investigated,
		&sum.Learned, &sum.Completed, &sum.NextSteps, &notes, &sum.PromptNumber, &sourceItemID,
		&sum.CreatedAt, &sum.LastAccessedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	sum.Notes = notes.String
	if sourceItemID.Valid {
		sum.SourceItemID = &sourceItemID.Int64
	}
	if deletedAt.Valid {
		sum.DeletedAt = &deletedAt.Int64
	}
	return &sum, nil
}

func scanSummaries(rows *sql.Rows) ([]*models.Summary, error) {
	var result []*models.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		result = append(result, sum)
	}
	return result, rows.Err()
}
