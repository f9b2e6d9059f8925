package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iammorganparry/cmem/internal/models"
)

// Prompts carry no project column; it is joined from the owning session.
const promptColumns = `p.id, p.external_session_id, COALESCE(s.project, ''), p.prompt_number,
	p.text, p.created_at, p.last_accessed_at, p.deleted_at`

const promptFrom = `prompts p LEFT JOIN sessions s ON s.external_session_id = p.external_session_id`

// PromptStore handles user prompt rows on SQLite.
type PromptStore struct {
	db *DB
}

func NewPromptStore(db *DB) *PromptStore {
	return &PromptStore{db: db}
}

// Latest returns the highest-numbered prompt of a session, or nil. Deleted
// prompts still count so numbering never reuses a value.
func (s *PromptStore) Latest(ctx context.Context, q Querier, externalID string) (*models.Prompt, error) {
	if q == nil {
		q = s.db
	}
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE p.external_session_id = ?
		ORDER BY p.prompt_number DESC
		LIMIT 1
	`, promptColumns, promptFrom), externalID)
	p, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest prompt: %w", err)
	}
	return p, nil
}

// Count returns how many prompts a session has stored.
func (s *PromptStore) Count(ctx context.Context, q Querier, externalID string) (int, error) {
	if q == nil {
		q = s.db
	}
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prompts WHERE external_session_id = ?`, externalID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count prompts: %w", err)
	}
	return count, nil
}

// Insert stores a prompt with the given number and returns its id.
func (s *PromptStore) Insert(ctx context.Context, q Querier, externalID string, number int, text string) (int64, error) {
	if q == nil {
		q = s.db
	}
	now := nowMillis()
	res, err := q.ExecContext(ctx, `
		INSERT INTO prompts (external_session_id, prompt_number, text, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?)
	`, externalID, number, text, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert prompt: %w", err)
	}
	return res.LastInsertId()
}

// GetByID fetches one live prompt.
func (s *PromptStore) GetByID(ctx context.Context, id int64) (*models.Prompt, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE p.id = ? AND p.deleted_at IS NULL`, promptColumns, promptFrom), id)
	p, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return p, nil
}

// GetByIDs fetches live prompts in the order of ids, re-applying the filter.
func (s *PromptStore) GetByIDs(ctx context.Context, ids []int64, f models.ListFilter) ([]*models.Prompt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph, args := inClause(ids)
	conditions, filterArgs := filterConditions(f, "s.project", "p.created_at", "")
	conditions = append([]string{fmt.Sprintf("p.id IN (%s)", ph), "p.deleted_at IS NULL"}, conditions...)
	args = append(args, filterArgs...)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s`,
		promptColumns, promptFrom, strings.Join(conditions, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("get prompts by ids: %w", err)
	}
	defer rows.Close()

	found, err := scanPrompts(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Prompt, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	ordered := make([]*models.Prompt, 0, len(found))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// List returns a filtered page of live prompts, newest first.
func (s *PromptStore) List(ctx context.Context, f models.ListFilter) ([]*models.Prompt, int, error) {
	conditions, args := filterConditions(f, "s.project", "p.created_at", "")
	conditions = append(conditions, "p.deleted_at IS NULL")
	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s %s", promptFrom, whereClause), args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prompts: %w", err)
	}

	_, limit, offset := pageBounds(f.Page, f.Limit)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ? OFFSET ?
	`, promptColumns, promptFrom, whereClause), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	prompts, err := scanPrompts(rows)
	if err != nil {
		return nil, 0, err
	}
	return prompts, total, nil
}

// SearchLexical returns ids of live prompts whose text contains query.
func (s *PromptStore) SearchLexical(ctx context.Context, query string, f models.ListFilter, limit int) ([]int64, error) {
	conditions, args := filterConditions(f, "s.project", "p.created_at", "")
	conditions = append(conditions, "p.deleted_at IS NULL")
	if query = strings.TrimSpace(query); query != "" {
		conditions = append(conditions, `p.text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(query)+"%")
	}
	return queryIDs(ctx, s.db, fmt.Sprintf(
		`SELECT p.id FROM %s WHERE %s ORDER BY p.created_at DESC, p.id DESC LIMIT ?`,
		promptFrom, strings.Join(conditions, " AND ")), append(args, limit)...)
}

// CountLive returns the number of live prompts.
func (s *PromptStore) CountLive(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM prompts WHERE deleted_at IS NULL").Scan(&count)
	return count, err
}

func scanPrompt(row scanner) (*models.Prompt, error) {
	var p models.Prompt
	var deletedAt sql.NullInt64
	if err := row.Scan(
		&p.ID, &p.ExternalSessionID, &p.Project, &p.PromptNumber,
		&p.Text, &p.CreatedAt, &p.LastAccessedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Int64
	}
	return &p, nil
}

func scanPrompts(rows *sql.Rows) ([]*models.Prompt, error) {
	var result []*models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
