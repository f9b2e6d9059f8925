package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iammorganparry/cmem/internal/models"
)

// observationColumns is the canonical column list for all SELECT queries.
// Order must match scanObservation.
const observationColumns = `id, memory_session_id, project, type, title, subtitle,
	facts, narrative, concepts, files_read, files_modified,
	prompt_number, source_item_id, created_at, last_accessed_at, deleted_at`

// ObservationStore handles Observation persistence on SQLite.
type ObservationStore struct {
	db *DB
}

func NewObservationStore(db *DB) *ObservationStore {
	return &ObservationStore{db: db}
}

// Insert stores an observation and returns its id. When SourceItemID is set
// and a row for the same (memory session, source item) already exists, the
// existing id is returned and nothing is written.
func (s *ObservationStore) Insert(ctx context.Context, q Querier, o *models.Observation) (int64, bool, error) {
	if q == nil {
		q = s.db
	}
	if o.SourceItemID != nil {
		var existing int64
		err := q.QueryRowContext(ctx,
			`SELECT id FROM observations WHERE memory_session_id = ? AND source_item_id = ?`,
			o.MemorySessionID, *o.SourceItemID,
		).Scan(&existing)
		if err == nil {
			return existing, false, nil
		}
		if err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("lookup observation by source: %w", err)
		}
	}

	if o.CreatedAt == 0 {
		o.CreatedAt = nowMillis()
	}
	if o.LastAccessedAt == 0 {
		o.LastAccessedAt = o.CreatedAt
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO observations (
			memory_session_id, project, type, title, subtitle,
			facts, narrative, concepts, files_read, files_modified,
			prompt_number, source_item_id, created_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.MemorySessionID, o.Project, string(o.Type), o.Title, nullIfEmpty(o.Subtitle),
		jsonList(o.Facts), o.Narrative, jsonList(o.Concepts), jsonList(o.FilesRead), jsonList(o.FilesModified),
		o.PromptNumber, o.SourceItemID, o.CreatedAt, o.LastAccessedAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert observation id: %w", err)
	}
	o.ID = id
	return id, true, nil
}

// GetByID fetches one live observation.
func (s *ObservationStore) GetByID(ctx context.Context, id int64) (*models.Observation, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM observations WHERE id = ? AND deleted_at IS NULL`, observationColumns), id)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return o, nil
}

// GetByIDs fetches live observations by id, re-applying the filter. Results
// follow the order of ids; ids that are missing, deleted or filtered out are
// dropped.
func (s *ObservationStore) GetByIDs(ctx context.Context, ids []int64, f models.ListFilter) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph, args := inClause(ids)
	conditions, filterArgs := filterConditions(f, "project", "created_at", "type")
	conditions = append([]string{fmt.Sprintf("id IN (%s)", ph), "deleted_at IS NULL"}, conditions...)
	args = append(args, filterArgs...)

	query := fmt.Sprintf(`SELECT %s FROM observations WHERE %s`,
		observationColumns, strings.Join(conditions, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get observations by ids: %w", err)
	}
	defer rows.Close()

	found, err := scanObservations(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Observation, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}
	ordered := make([]*models.Observation, 0, len(found))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			ordered = append(ordered, o)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// List returns a filtered page of live observations, newest first.
func (s *ObservationStore) List(ctx context.Context, f models.ListFilter) ([]*models.Observation, int, error) {
	conditions, args := filterConditions(f, "project", "created_at", "type")
	conditions = append(conditions, "deleted_at IS NULL")
	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM observations %s", whereClause)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count observations: %w", err)
	}

	_, limit, offset := pageBounds(f.Page, f.Limit)
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM observations %s
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, observationColumns, whereClause)

	rows, err := s.db.QueryContext(ctx, selectQuery, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	observations, err := scanObservations(rows)
	if err != nil {
		return nil, 0, err
	}
	return observations, total, nil
}

// SearchLexical returns ids of live observations whose text fields contain
// query, newest first. An empty query matches everything the filter allows.
func (s *ObservationStore) SearchLexical(ctx context.Context, query string, f models.ListFilter, limit int) ([]int64, error) {
	conditions, args := filterConditions(f, "project", "created_at", "type")
	conditions = append(conditions, "deleted_at IS NULL")
	if query = strings.TrimSpace(query); query != "" {
		pattern := "%" + escapeLike(query) + "%"
		conditions = append(conditions, `(title LIKE ? ESCAPE '\' OR subtitle LIKE ? ESCAPE '\' OR narrative LIKE ? ESCAPE '\' OR facts LIKE ? ESCAPE '\' OR concepts LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}
	return queryIDs(ctx, s.db, fmt.Sprintf(
		`SELECT id FROM observations WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`,
		strings.Join(conditions, " AND ")), append(args, limit)...)
}

// Count returns the number of live observations.
func (s *ObservationStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM observations WHERE deleted_at IS NULL").Scan(&count)
	return count, err
}

func scanObservation(row scanner) (*models.Observation, error) {
	var o models.Observation
	var subtitle sql.NullString
	var facts, concepts, filesRead, filesModified string
	var sourceItemID, deletedAt sql.NullInt64

	if err := row.Scan(
		&o.ID, &o.MemorySessionID, &o.Project, &o.Type, &o.Title, &subtitle,
		&facts, &o.Narrative, &concepts, &filesRead, &filesModified,
		&o.PromptNumber, &sourceItemID, &o.CreatedAt, &o.LastAccessedAt, &deletedAt,
	); err != nil {
		return nil, err
	}

	o.Subtitle = subtitle.String
	o.Facts = parseList(facts)
	o.Concepts = parseList(concepts)
	o.FilesRead = parseList(filesRead)
	o.FilesModified = parseList(filesModified)
	if sourceItemID.Valid {
		o.SourceItemID = &sourceItemID.Int64
	}
	if deletedAt.Valid {
		o.DeletedAt = &deletedAt.Int64
	}
	return &o, nil
}

func scanObservations(rows *sql.Rows) ([]*models.Observation, error) {
	var result []*models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func queryIDs(ctx context.Context, q Querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func jsonList(v []string) string {
	if v == nil {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func parseList(s string) []string {
	out := []string{}
	if s != "" {
		json.Unmarshal([]byte(s), &out)
	}
	return out
}

// nullIfEmpty converts "" to NULL for optional TEXT columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
