package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueueEnqueue(t *testing.T) {
	db := setupTestDB(t)
	q := store.NewQueueStore(db, 3)
	ctx := context.Background()
	payload := models.ObservationPayload{ToolName: "Read", ToolInput: `{"path":"a.go"}`}

	t.Run("same dedupe key is recorded once", func(t *testing.T) {
		first, err := q.Enqueue(ctx, 1, "ext-1", models.KindObservation, payload, "k1")
		require.NoError(t, err)
		assert.False(t, first.Deduped)

		second, err := q.Enqueue(ctx, 1, "ext-1", models.KindObservation, payload, "k1")
		require.NoError(t, err)
		assert.True(t, second.Deduped)
		assert.Equal(t, first.ItemID, second.ItemID)

		n, err := q.CountPending(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("dedupe survives confirmation", func(t *testing.T) {
		first, err := q.Enqueue(ctx, 2, "ext-2", models.KindObservation, payload, "k2")
		require.NoError(t, err)
		item, err := q.ClaimNext(ctx, 2)
		require.NoError(t, err)
		require.NotNil(t, item)
		require.NoError(t, q.Confirm(ctx, item.ID))

		again, err := q.Enqueue(ctx, 2, "ext-2", models.KindObservation, payload, "k2")
		require.NoError(t, err)
		assert.True(t, again.Deduped)
		assert.Equal(t, first.ItemID, again.ItemID)

		n, err := q.CountPending(ctx, 2)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("same key under another kind is independent", func(t *testing.T) {
		res, err := q.Enqueue(ctx, 1, "ext-1", models.KindSummarize, models.SummaryPayload{}, "k1")
		require.NoError(t, err)
		assert.False(t, res.Deduped)
	})

	t.Run("no key always inserts", func(t *testing.T) {
		a, err := q.Enqueue(ctx, 3, "ext-3", models.KindObservation, payload, "")
		require.NoError(t, err)
		b, err := q.Enqueue(ctx, 3, "ext-3", models.KindObservation, payload, "")
		require.NoError(t, err)
		assert.NotEqual(t, a.ItemID, b.ItemID)
		assert.False(t, b.Deduped)
	})
}

func TestQueueClaimOrderAndExclusivity(t *testing.T) {
	db := setupTestDB(t)
	q := store.NewQueueStore(db, 3)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 20; i++ {
		res, err := q.Enqueue(ctx, 7, "ext-7", models.KindObservation, models.ObservationPayload{PromptNumber: i}, "")
		require.NoError(t, err)
		ids = append(ids, res.ItemID)
	}

	t.Run("oldest first", func(t *testing.T) {
		item, err := q.ClaimNext(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, ids[0], item.ID)
		assert.Equal(t, models.QueueProcessing, item.Status)
		assert.NotNil(t, item.ClaimedAt)
		require.NoError(t, q.Confirm(ctx, item.ID))
	})

	t.Run("concurrent claimers never share an item", func(t *testing.T) {
		var (
			mu      sync.Mutex
			claimed = map[int64]int{}
			wg      sync.WaitGroup
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					item, err := q.ClaimNext(ctx, 7)
					if err != nil {
						t.Errorf("claim: %v", err)
						return
					}
					if item == nil {
						return
					}
					mu.Lock()
					claimed[item.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, 19)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "item %d claimed %d times", id, n)
		}
	})

	t.Run("empty session claims nothing", func(t *testing.T) {
		item, err := q.ClaimNext(ctx, 99)
		require.NoError(t, err)
		assert.Nil(t, item)
	})
}

func TestQueueRetryCap(t *testing.T) {
	db := setupTestDB(t)
	q := store.NewQueueStore(db, 3)
	ctx := context.Background()

	res, err := q.Enqueue(ctx, 1, "ext-1", models.KindObservation, models.ObservationPayload{}, "")
	require.NoError(t, err)

	cause := errors.New("agent timeout")
	for attempt := 1; attempt <= 3; attempt++ {
		item, err := q.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, item, "attempt %d should claim", attempt)
		assert.Equal(t, res.ItemID, item.ID)

		status, err := q.MarkFailed(ctx, item.ID, cause, models.FailureTimeout)
		require.NoError(t, err)
		if attempt < 3 {
			assert.Equal(t, models.QueuePending, status)
		} else {
			assert.Equal(t, models.QueueFailed, status)
		}
	}

	item, err := q.Get(ctx, res.ItemID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.QueueFailed, item.Status)
	assert.Equal(t, 3, item.RetryCount)
	assert.NotNil(t, item.FailedAt)
	assert.Equal(t, "agent timeout", item.LastError)
	assert.Equal(t, models.FailureTimeout, item.FailureClass)

	next, err := q.ClaimNext(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, next, "failed items are never claimed")

	_, err = q.MarkFailed(ctx, res.ItemID, cause, models.FailureTimeout)
	require.NoError(t, err)
	item, err = q.Get(ctx, res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, 3, item.RetryCount, "retry count never exceeds the cap")

	failed, err := q.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	t.Run("retry failed re-arms the item", func(t *testing.T) {
		n, err := q.RetryFailed(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		item, err := q.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Zero(t, item.RetryCount)
	})
}

func TestQueueResetStale(t *testing.T) {
	db := setupTestDB(t)
	q := store.NewQueueStore(db, 3)
	ctx := context.Background()

	res, err := q.Enqueue(ctx, 1, "ext-1", models.KindObservation, models.ObservationPayload{}, "k")
	require.NoError(t, err)
	item, err := q.ClaimNext(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, item)

	t.Run("fresh claims are left alone", func(t *testing.T) {
		n, err := q.ResetStale(ctx, time.Minute)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	// Simulate a crash: the claim is ten minutes old and was never confirmed.
	_, err = db.Exec(`UPDATE queue_items SET claimed_at = ? WHERE id = ?`,
		time.Now().Add(-10*time.Minute).UnixMilli(), res.ItemID)
	require.NoError(t, err)

	n, err := q.ResetStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.ResetStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "reset is idempotent")

	again, err := q.ClaimNext(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, res.ItemID, again.ID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processing)
}

func TestQueueSessionsWithPending(t *testing.T) {
	db := setupTestDB(t)
	q := store.NewQueueStore(db, 3)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, 2, "ext-b", models.KindObservation, models.ObservationPayload{}, "")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, 1, "ext-a", models.KindObservation, models.ObservationPayload{}, "")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, 2, "ext-b", models.KindSummarize, models.SummaryPayload{}, "")
	require.NoError(t, err)

	ids, err := q.SessionsWithPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ext-b", "ext-a"}, ids)
}
