package sessions

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
)

func setupRegistry(t *testing.T) (*Registry, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRegistry(db, slog.New(slog.NewTextHandler(io.Discard, nil))), db
}

func TestInitSession(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate init is idempotent", func(t *testing.T) {
		r, db := setupRegistry(t)

		first, err := r.InitSession(ctx, "S", "P", "hello")
		require.NoError(t, err)
		second, err := r.InitSession(ctx, "S", "P", "hello")
		require.NoError(t, err)

		assert.Equal(t, first.SessionDBID, second.SessionDBID)
		assert.Equal(t, 1, first.PromptNumber)
		assert.Equal(t, 1, second.PromptNumber)

		var rows int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM prompts WHERE external_session_id = 'S'`).Scan(&rows))
		assert.Equal(t, 1, rows)
	})

	t.Run("new prompts get the next number", func(t *testing.T) {
		r, _ := setupRegistry(t)

		for i, text := range []string{"one", "two", "three"} {
			res, err := r.InitSession(ctx, "S", "P", text)
			require.NoError(t, err)
			assert.Equal(t, i+1, res.PromptNumber)
		}
	})

	t.Run("private prompt is skipped and not stored", func(t *testing.T) {
		r, db := setupRegistry(t)

		res, err := r.InitSession(ctx, "S", "P", "<private>api key</private>")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, ReasonPrivate, res.Reason)
		assert.Equal(t, 1, res.PromptNumber)

		var rows int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM prompts`).Scan(&rows))
		assert.Zero(t, rows)

		sess, err := r.Get(ctx, "S")
		require.NoError(t, err)
		assert.Equal(t, "P", sess.Project, "the session still exists")
	})

	t.Run("project backfills only when empty", func(t *testing.T) {
		r, _ := setupRegistry(t)

		_, err := r.InitSession(ctx, "S", "", "hi")
		require.NoError(t, err)
		_, err = r.InitSession(ctx, "S", "first", "again")
		require.NoError(t, err)
		_, err = r.InitSession(ctx, "S", "second", "more")
		require.NoError(t, err)

		sess, err := r.Get(ctx, "S")
		require.NoError(t, err)
		assert.Equal(t, "first", sess.Project)
		assert.Equal(t, "hi", sess.InitialPrompt)
	})

	t.Run("missing session id is a validation error", func(t *testing.T) {
		r, _ := setupRegistry(t)
		_, err := r.InitSession(ctx, " ", "P", "hi")
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestEnsureForProcessing(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRegistry(t)

	t.Run("creates a minimal session", func(t *testing.T) {
		ps, err := r.EnsureForProcessing(ctx, "orphan")
		require.NoError(t, err)
		assert.Equal(t, models.UnknownProject, ps.Project)
		assert.Equal(t, "cmem-1", ps.MemorySessionID)
	})

	t.Run("memory session id is stable", func(t *testing.T) {
		init, err := r.InitSession(ctx, "S", "P", "hello")
		require.NoError(t, err)

		a, err := r.EnsureForProcessing(ctx, "S")
		require.NoError(t, err)
		b, err := r.EnsureForProcessing(ctx, "S")
		require.NoError(t, err)

		assert.Equal(t, init.SessionDBID, a.SessionDBID)
		assert.Equal(t, a.MemorySessionID, b.MemorySessionID)
		assert.NotEqual(t, "S", a.MemorySessionID)
		assert.Equal(t, "P", a.Project)
	})

	t.Run("init after processing replaces the placeholder project", func(t *testing.T) {
		_, err := r.InitSession(ctx, "orphan", "real", "late init")
		require.NoError(t, err)
		ps, err := r.EnsureForProcessing(ctx, "orphan")
		require.NoError(t, err)
		assert.Equal(t, "real", ps.Project)
		assert.Equal(t, "cmem-1", ps.MemorySessionID)
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRegistry(t)

	_, err := r.InitSession(ctx, "S", "P", "hello")
	require.NoError(t, err)

	res, err := r.Complete(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Status)

	res, err = r.Complete(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, res.Status)
	assert.Equal(t, ReasonNotActive, res.Reason)

	res, err = r.Complete(ctx, "never-seen")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, res.Status)

	active, err := r.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = r.InitSession(ctx, "S", "P", "a new turn")
	require.NoError(t, err)
	n, err := r.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a new prompt reactivates the session")
}
