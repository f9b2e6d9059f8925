package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
)

func insertObservation(t *testing.T, s *store.ObservationStore, project string, typ models.ObservationType, title string) int64 {
	t.Helper()
	id, created, err := s.Insert(context.Background(), nil, &models.Observation{
		MemorySessionID: "cmem-1",
		Project:         project,
		Type:            typ,
		Title:           title,
		Narrative:       title + " narrative",
		Facts:           []string{"fact"},
	})
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func TestObservationStore(t *testing.T) {
	db := setupTestDB(t)
	obs := store.NewObservationStore(db)
	ctx := context.Background()

	a := insertObservation(t, obs, "alpha", models.ObservationChange, "Refactor the queue")
	b := insertObservation(t, obs, "alpha", models.ObservationDiscovery, "Read the router")
	c := insertObservation(t, obs, "beta", models.ObservationChange, "Queue metrics")

	t.Run("source item makes insert idempotent", func(t *testing.T) {
		src := int64(42)
		o := &models.Observation{MemorySessionID: "cmem-9", Project: "alpha", Type: models.ObservationBugfix, Title: "Fix", SourceItemID: &src}
		first, created, err := obs.Insert(ctx, nil, o)
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := obs.Insert(ctx, nil, &models.Observation{MemorySessionID: "cmem-9", Project: "alpha", Type: models.ObservationBugfix, Title: "Fix again", SourceItemID: &src})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, second)
	})

	t.Run("batch get keeps caller order and re-applies filters", func(t *testing.T) {
		got, err := obs.GetByIDs(ctx, []int64{c, a, b}, models.ListFilter{Project: "alpha"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, a, got[0].ID)
		assert.Equal(t, b, got[1].ID)

		got, err = obs.GetByIDs(ctx, []int64{a, b}, models.ListFilter{Types: []models.ObservationType{models.ObservationDiscovery}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, b, got[0].ID)
		assert.Equal(t, []string{"fact"}, got[0].Facts)
	})

	t.Run("lexical search matches substrings", func(t *testing.T) {
		ids, err := obs.SearchLexical(ctx, "queue", models.ListFilter{}, 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{a, c}, ids)

		ids, err = obs.SearchLexical(ctx, "100%", models.ListFilter{}, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("soft deleted rows disappear from reads", func(t *testing.T) {
		_, err := db.Exec(`UPDATE observations SET deleted_at = ? WHERE id = ?`, time.Now().UnixMilli(), a)
		require.NoError(t, err)

		o, err := obs.GetByID(ctx, a)
		require.NoError(t, err)
		assert.Nil(t, o)

		got, err := obs.GetByIDs(ctx, []int64{a, b}, models.ListFilter{})
		require.NoError(t, err)
		require.Len(t, got, 1)

		list, total, err := obs.List(ctx, models.ListFilter{Project: "alpha"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		for _, o := range list {
			assert.NotEqual(t, a, o.ID)
		}

		ids, err := obs.SearchLexical(ctx, "refactor", models.ListFilter{}, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestEmbeddingStoreQuery(t *testing.T) {
	db := setupTestDB(t)
	obs := store.NewObservationStore(db)
	emb := store.NewEmbeddingStore(db)
	ctx := context.Background()

	near := insertObservation(t, obs, "alpha", models.ObservationChange, "near")
	far := insertObservation(t, obs, "alpha", models.ObservationChange, "far")
	other := insertObservation(t, obs, "beta", models.ObservationChange, "other project")

	require.NoError(t, emb.Upsert(ctx, near, "alpha", []float32{1, 0.1, 0}))
	require.NoError(t, emb.Upsert(ctx, far, "alpha", []float32{0, 1, 0}))
	require.NoError(t, emb.Upsert(ctx, other, "beta", []float32{1, 0, 0}))

	ids, err := emb.Query(ctx, []float32{1, 0, 0}, "alpha", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{near, far}, ids)

	ids, err = emb.Query(ctx, []float32{1, 0, 0}, "", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{other}, ids)

	ids, err = emb.Query(ctx, []float32{1, 0}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, ids, "other dimensions are ignored")
}
