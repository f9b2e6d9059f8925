// Package sessions maps external host-tool session ids to internal sessions
// and records the user prompts that start each turn.
package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/privacy"
	"github.com/iammorganparry/cmem/internal/store"
)

// Reasons reported when an operation does nothing.
const (
	ReasonPrivate   = "private"
	ReasonNotActive = "not_active"
)

// Registry owns session lifecycle. Every operation is idempotent: repeated
// or out-of-order calls from hooks converge on the same rows.
type Registry struct {
	db       *store.DB
	sessions *store.SessionStore
	prompts  *store.PromptStore
	activity *store.ActivityStore
	logger   *slog.Logger
}

func NewRegistry(db *store.DB, logger *slog.Logger) *Registry {
	return &Registry{
		db:       db,
		sessions: store.NewSessionStore(db),
		prompts:  store.NewPromptStore(db),
		activity: store.NewActivityStore(db),
		logger:   logger,
	}
}

// InitSession gets or creates the session for externalID and records the
// prompt as the next prompt number. A prompt that is empty after privacy
// stripping is not stored. A repeated init carrying the same text as the
// latest stored prompt is treated as a duplicate delivery and reports the
// existing number.
func (r *Registry) InitSession(ctx context.Context, externalID, project, prompt string) (*models.InitResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("sessionId is required: %w", models.ErrValidation)
	}
	project = strings.TrimSpace(project)
	cleaned := privacy.StripPrivateTags(prompt)

	var result models.InitResult
	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := r.sessions.Ensure(ctx, tx, externalID, project, cleaned); err != nil {
			return err
		}
		if err := r.sessions.BackfillProject(ctx, tx, externalID, project); err != nil {
			return err
		}
		if err := r.sessions.BackfillInitialPrompt(ctx, tx, externalID, cleaned); err != nil {
			return err
		}
		sess, err := r.sessions.GetByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("session %s vanished: %w", externalID, models.ErrInternal)
		}
		result.SessionDBID = sess.ID

		latest, err := r.prompts.Latest(ctx, tx, externalID)
		if err != nil {
			return err
		}
		next := 1
		if latest != nil {
			next = latest.PromptNumber + 1
		}

		if cleaned == "" {
			result.PromptNumber = next
			result.Skipped = true
			result.Reason = ReasonPrivate
			return nil
		}
		if latest != nil && latest.Text == cleaned {
			result.PromptNumber = latest.PromptNumber
			return nil
		}

		if err := r.sessions.Reactivate(ctx, tx, externalID); err != nil {
			return err
		}
		id, err := r.prompts.Insert(ctx, tx, externalID, next, cleaned)
		if err != nil {
			return err
		}
		result.PromptNumber = next
		return r.activity.Touch(ctx, tx, models.EntityPrompt, []int64{id}, sess.Project, time.Now().UnixMilli())
	})
	if err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}

	r.logger.Debug("session initialized",
		"session_id", externalID,
		"session_db_id", result.SessionDBID,
		"prompt_number", result.PromptNumber,
		"skipped", result.Skipped,
	)
	return &result, nil
}

// EnsureForProcessing returns the session a queue write should be attributed
// to, creating a minimal one for ids that never saw an init and assigning
// the memory-session id on first use.
func (r *Registry) EnsureForProcessing(ctx context.Context, externalID string) (*models.ProcessingSession, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("sessionId is required: %w", models.ErrValidation)
	}

	var ps models.ProcessingSession
	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := r.sessions.Ensure(ctx, tx, externalID, models.UnknownProject, ""); err != nil {
			return err
		}
		if err := r.sessions.AssignMemorySessionID(ctx, tx, externalID); err != nil {
			return err
		}
		sess, err := r.sessions.GetByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if sess == nil || sess.MemorySessionID == nil {
			return fmt.Errorf("session %s has no memory session id: %w", externalID, models.ErrInternal)
		}
		ps = models.ProcessingSession{
			SessionDBID:     sess.ID,
			MemorySessionID: *sess.MemorySessionID,
			Project:         sess.Project,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensure session for processing: %w", err)
	}
	return &ps, nil
}

// Complete moves an active session to completed. Any other state, including
// an unknown session, reports skipped rather than an error.
func (r *Registry) Complete(ctx context.Context, externalID string) (*models.CompleteResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("sessionId is required: %w", models.ErrValidation)
	}
	ok, err := r.sessions.SetStatus(ctx, externalID, models.SessionActive, models.SessionCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if !ok {
		return &models.CompleteResult{Status: models.StatusSkipped, Reason: ReasonNotActive}, nil
	}
	r.logger.Info("session completed", "session_id", externalID)
	return &models.CompleteResult{Status: models.StatusCompleted}, nil
}

// MarkFailed moves an active session to failed.
func (r *Registry) MarkFailed(ctx context.Context, externalID string) (bool, error) {
	ok, err := r.sessions.SetStatus(ctx, externalID, models.SessionActive, models.SessionFailed)
	if err != nil {
		return false, fmt.Errorf("fail session: %w", err)
	}
	return ok, nil
}

// Get returns a session by external id, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, externalID string) (*models.Session, error) {
	sess, err := r.sessions.GetByExternalID(ctx, nil, externalID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", externalID, models.ErrNotFound)
	}
	return sess, nil
}

// ListActive returns active sessions, most recent first. The active set is
// derived from stored status so it survives restarts.
func (r *Registry) ListActive(ctx context.Context, limit int) ([]*models.Session, error) {
	return r.sessions.ListByStatus(ctx, models.SessionActive, limit)
}

// CountActive counts active sessions.
func (r *Registry) CountActive(ctx context.Context) (int, error) {
	return r.sessions.CountByStatus(ctx, models.SessionActive)
}

// LatestPromptNumber returns the session's current prompt number, or 0.
func (r *Registry) LatestPromptNumber(ctx context.Context, externalID string) (int, error) {
	latest, err := r.prompts.Latest(ctx, nil, externalID)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	return latest.PromptNumber, nil
}
