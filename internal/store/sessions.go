package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iammorganparry/cmem/internal/models"
)

const sessionColumns = `id, external_session_id, memory_session_id, project,
	initial_prompt, status, started_at, completed_at`

// SessionStore handles Session rows on SQLite.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Ensure inserts a session for externalID unless one exists. It reports
// whether a row was created.
func (s *SessionStore) Ensure(ctx context.Context, q Querier, externalID, project, initialPrompt string) (bool, error) {
	if q == nil {
		q = s.db
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO sessions (external_session_id, project, initial_prompt, status, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_session_id) DO NOTHING
	`, externalID, project, nullIfEmpty(initialPrompt), string(models.SessionActive), nowMillis())
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BackfillProject sets the project only when the stored one is empty or the
// placeholder assigned by processing calls.
func (s *SessionStore) BackfillProject(ctx context.Context, q Querier, externalID, project string) error {
	if project == "" {
		return nil
	}
	if q == nil {
		q = s.db
	}
	_, err := q.ExecContext(ctx, `
		UPDATE sessions SET project = ?
		WHERE external_session_id = ? AND (project = '' OR project = ?)
	`, project, externalID, models.UnknownProject)
	if err != nil {
		return fmt.Errorf("backfill project: %w", err)
	}
	return nil
}

// BackfillInitialPrompt records the first prompt text if none is stored.
func (s *SessionStore) BackfillInitialPrompt(ctx context.Context, q Querier, externalID, prompt string) error {
	if prompt == "" {
		return nil
	}
	if q == nil {
		q = s.db
	}
	_, err := q.ExecContext(ctx, `
		UPDATE sessions SET initial_prompt = ?
		WHERE external_session_id = ? AND (initial_prompt IS NULL OR initial_prompt = '')
	`, prompt, externalID)
	if err != nil {
		return fmt.Errorf("backfill initial prompt: %w", err)
	}
	return nil
}

// AssignMemorySessionID sets memory_session_id = prefix + id once. Later
// calls leave the stored value untouched.
func (s *SessionStore) AssignMemorySessionID(ctx context.Context, q Querier, externalID string) error {
	if q == nil {
		q = s.db
	}
	_, err := q.ExecContext(ctx, `
		UPDATE sessions SET memory_session_id = ? || id
		WHERE external_session_id = ? AND memory_session_id IS NULL
	`, models.MemorySessionPrefix, externalID)
	if err != nil {
		return fmt.Errorf("assign memory session id: %w", err)
	}
	return nil
}

// Reactivate moves a completed session back to active when new work arrives.
func (s *SessionStore) Reactivate(ctx context.Context, q Querier, externalID string) error {
	if q == nil {
		q = s.db
	}
	_, err := q.ExecContext(ctx, `
		UPDATE sessions SET status = ?, completed_at = NULL
		WHERE external_session_id = ? AND status = ?
	`, string(models.SessionActive), externalID, string(models.SessionCompleted))
	if err != nil {
		return fmt.Errorf("reactivate session: %w", err)
	}
	return nil
}

// GetByExternalID fetches a session, returning nil when absent.
func (s *SessionStore) GetByExternalID(ctx context.Context, q Querier, externalID string) (*models.Session, error) {
	if q == nil {
		q = s.db
	}
	row := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sessions WHERE external_session_id = ?`, sessionColumns), externalID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetByID fetches a session by its internal id.
func (s *SessionStore) GetByID(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sessions WHERE id = ?`, sessionColumns), id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// SetStatus transitions a session from one status to another. It reports
// whether the row was in the expected state.
func (s *SessionStore) SetStatus(ctx context.Context, externalID string, from, to models.SessionStatus) (bool, error) {
	var completedAt any
	if to != models.SessionActive {
		completedAt = nowMillis()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, completed_at = ?
		WHERE external_session_id = ? AND status = ?
	`, string(to), completedAt, externalID, string(from))
	if err != nil {
		return false, fmt.Errorf("set session status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListByStatus returns sessions in a status, most recent first.
func (s *SessionStore) ListByStatus(ctx context.Context, status models.SessionStatus, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE status = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, sessionColumns), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CountByStatus counts sessions in a status.
func (s *SessionStore) CountByStatus(ctx context.Context, status models.SessionStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE status = ?`, string(status)).Scan(&count)
	return count, err
}

func scanSession(row scanner) (*models.Session, error) {
	var sess models.Session
	var memorySessionID, initialPrompt sql.NullString
	var completedAt sql.NullInt64

	if err := row.Scan(
		&sess.ID, &sess.ExternalSessionID, &memorySessionID, &sess.Project,
		&initialPrompt, &sess.Status, &sess.StartedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	if memorySessionID.Valid {
		sess.MemorySessionID = &memorySessionID.String
	}
	sess.InitialPrompt = initialPrompt.String
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Int64
	}
	return &sess, nil
}
