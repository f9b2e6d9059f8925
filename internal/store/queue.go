package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iammorganparry/cmem/internal/models"
)

const queueColumns = `id, session_id, external_session_id, kind, dedupe_key, payload,
	status, retry_count, created_at, claimed_at, failed_at, last_error, failure_class`

// QueueStore is the durable work queue. Items move
// pending -> processing -> (deleted | pending | failed).
type QueueStore struct {
	db       *DB
	retryCap int
}

func NewQueueStore(db *DB, retryCap int) *QueueStore {
	if retryCap <= 0 {
		retryCap = models.DefaultRetryCap
	}
	return &QueueStore{db: db, retryCap: retryCap}
}

// RetryCap is the number of failed attempts before an item is terminal.
func (s *QueueStore) RetryCap() int {
	return s.retryCap
}

// Enqueue inserts a pending item. With a dedupe key the ledger row and the
// queue row are written in one transaction; a key already in the ledger
// returns the originally recorded item id with Deduped set, even if that item
// has since been processed and deleted.
func (s *QueueStore) Enqueue(ctx context.Context, sessionID int64, externalID string, kind models.QueueKind, payload any, dedupeKey string) (*models.EnqueueResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	now := nowMillis()

	if dedupeKey == "" {
		id, err := insertQueueItem(ctx, s.db, sessionID, externalID, kind, nil, body, now)
		if err != nil {
			return nil, err
		}
		return &models.EnqueueResult{ItemID: id}, nil
	}

	var result models.EnqueueResult
	err = s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO dedupe_ledger (session_id, kind, dedupe_key, queue_item_id, created_at)
			VALUES (?, ?, ?, 0, ?)
			ON CONFLICT(session_id, kind, dedupe_key) DO NOTHING
		`, sessionID, string(kind), dedupeKey, now)
		if err != nil {
			return fmt.Errorf("insert dedupe ledger: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var existing int64
			if err := tx.QueryRowContext(ctx, `
				SELECT queue_item_id FROM dedupe_ledger
				WHERE session_id = ? AND kind = ? AND dedupe_key = ?
			`, sessionID, string(kind), dedupeKey).Scan(&existing); err != nil {
				return fmt.Errorf("read dedupe ledger: %w", err)
			}
			result = models.EnqueueResult{ItemID: existing, Deduped: true}
			return nil
		}

		id, err := insertQueueItem(ctx, tx, sessionID, externalID, kind, dedupeKey, body, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE dedupe_ledger SET queue_item_id = ?
			WHERE session_id = ? AND kind = ? AND dedupe_key = ?
		`, id, sessionID, string(kind), dedupeKey); err != nil {
			return fmt.Errorf("link dedupe ledger: %w", err)
		}
		result = models.EnqueueResult{ItemID: id}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func insertQueueItem(ctx context.Context, q Querier, sessionID int64, externalID string, kind models.QueueKind, dedupeKey any, payload []byte, now int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO queue_items (session_id, external_session_id, kind, dedupe_key, payload, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, sessionID, externalID, string(kind), dedupeKey, string(payload), string(models.QueuePending), now)
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	return res.LastInsertId()
}

// ClaimNext flips the oldest pending item of a session to processing and
// returns it, or nil when nothing is pending. The guarded update means two
// claimers can never receive the same item.
func (s *QueueStore) ClaimNext(ctx context.Context, sessionID int64) (*models.QueueItem, error) {
	var item *models.QueueItem
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM queue_items
			WHERE session_id = ? AND status = ?
			ORDER BY id ASC
			LIMIT 1
		`, sessionID, string(models.QueuePending)).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select pending item: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE queue_items SET status = ?, claimed_at = ?
			WHERE id = ? AND status = ?
		`, string(models.QueueProcessing), nowMillis(), id, string(models.QueuePending))
		if err != nil {
			return fmt.Errorf("claim item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		item, err = scanQueueItem(tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM queue_items WHERE id = ?`, queueColumns), id))
		if err != nil {
			return fmt.Errorf("read claimed item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Confirm deletes a processed item. Call only after its result is durable.
func (s *QueueStore) Confirm(ctx context.Context, itemID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, itemID); err != nil {
		return fmt.Errorf("confirm item: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. The attempt counter is incremented;
// while it stays below the cap the item returns to pending, otherwise it
// becomes terminally failed and is never claimed again.
func (s *QueueStore) MarkFailed(ctx context.Context, itemID int64, cause error, class models.FailureClass) (models.QueueStatus, error) {
	msg := ""
	if cause != nil {
		msg = truncate(cause.Error(), 2000)
	}
	var status models.QueueStatus
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var retryCount int
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT retry_count, status FROM queue_items WHERE id = ?`, itemID,
		).Scan(&retryCount, &current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("mark failed item %d: %w", itemID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read item for failure: %w", err)
		}
		if models.QueueStatus(current) == models.QueueFailed {
			status = models.QueueFailed
			return nil
		}

		retryCount++
		var failedAt any
		status = models.QueuePending
		if retryCount >= s.retryCap {
			retryCount = s.retryCap
			status = models.QueueFailed
			failedAt = nowMillis()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue_items
			SET status = ?, retry_count = ?, claimed_at = NULL, failed_at = ?,
				last_error = ?, failure_class = ?
			WHERE id = ?
		`, string(status), retryCount, failedAt, msg, string(class), itemID); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return nil
	})
	return status, err
}

// ResetStale returns processing items claimed before now-threshold to
// pending, recovering work abandoned by a crash.
func (s *QueueStore) ResetStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := nowMillis() - threshold.Milliseconds()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, claimed_at = NULL
		WHERE status = ? AND claimed_at < ?
	`, string(models.QueuePending), string(models.QueueProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RetryFailed re-arms terminally failed items with a fresh attempt counter.
// A zero sessionID applies to every session.
func (s *QueueStore) RetryFailed(ctx context.Context, sessionID int64) (int, error) {
	query := `UPDATE queue_items SET status = ?, retry_count = 0, failed_at = NULL WHERE status = ?`
	args := []any{string(models.QueuePending), string(models.QueueFailed)}
	if sessionID > 0 {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Get fetches one item, or nil.
func (s *QueueStore) Get(ctx context.Context, itemID int64) (*models.QueueItem, error) {
	item, err := scanQueueItem(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM queue_items WHERE id = ?`, queueColumns), itemID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// Stats counts items by status.
func (s *QueueStore) Stats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats models.QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch models.QueueStatus(status) {
		case models.QueuePending:
			stats.Pending = count
		case models.QueueProcessing:
			stats.Processing = count
		case models.QueueFailed:
			stats.Failed = count
		}
	}
	return &stats, rows.Err()
}

// CountPending counts pending items for one session.
func (s *QueueStore) CountPending(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE session_id = ? AND status = ?`,
		sessionID, string(models.QueuePending),
	).Scan(&count)
	return count, err
}

// SessionsWithPending lists the external ids of sessions that have pending
// work, oldest work first.
func (s *QueueStore) SessionsWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_session_id FROM queue_items
		WHERE status = ?
		GROUP BY external_session_id
		ORDER BY MIN(id)
	`, string(models.QueuePending))
	if err != nil {
		return nil, fmt.Errorf("sessions with pending: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListFailed returns terminally failed items, most recent failure first.
func (s *QueueStore) ListFailed(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM queue_items
		WHERE status = ?
		ORDER BY failed_at DESC, id DESC
		LIMIT ?
	`, queueColumns), string(models.QueueFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQueueItem(row scanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var dedupeKey, lastError, failureClass sql.NullString
	var payload string
	var claimedAt, failedAt sql.NullInt64

	if err := row.Scan(
		&item.ID, &item.SessionID, &item.ExternalSessionID, &item.Kind, &dedupeKey, &payload,
		&item.Status, &item.RetryCount, &item.CreatedAt, &claimedAt, &failedAt, &lastError, &failureClass,
	); err != nil {
		return nil, err
	}
	item.DedupeKey = dedupeKey.String
	item.Payload = json.RawMessage(payload)
	item.LastError = lastError.String
	item.FailureClass = models.FailureClass(failureClass.String)
	if claimedAt.Valid {
		item.ClaimedAt = &claimedAt.Int64
	}
	if failedAt.Valid {
		item.FailedAt = &failedAt.Int64
	}
	return &item, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
