package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/cmem/internal/agent"
	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/sessions"
	"github.com/iammorganparry/cmem/internal/store"
)

type stubAgent struct {
	mu    sync.Mutex
	err   error
	calls int
	last  models.ObservationPayload
}

func (a *stubAgent) setErr(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *stubAgent) ProcessObservation(_ context.Context, p models.ObservationPayload) (*models.ObservationInput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.last = p
	if a.err != nil {
		return nil, a.err
	}
	return &models.ObservationInput{Type: models.ObservationChange, Title: "ran " + p.ToolName}, nil
}

func (a *stubAgent) ProcessSummary(_ context.Context, p models.SummaryPayload) (*models.SummaryInput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &models.SummaryInput{Request: "req", Completed: p.LastAssistantMessage}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(e models.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	db       *store.DB
	queue    *store.QueueStore
	obs      *store.ObservationStore
	registry *sessions.Registry
	agent    *stubAgent
	events   *recorder
	proc     *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		db:       db,
		queue:    store.NewQueueStore(db, models.DefaultRetryCap),
		obs:      store.NewObservationStore(db),
		registry: sessions.NewRegistry(db, logger),
		agent:    &stubAgent{},
		events:   &recorder{},
	}
	h.proc = NewProcessor(Deps{
		DB:           db,
		Queue:        h.queue,
		Registry:     h.registry,
		Observations: h.obs,
		Summaries:    store.NewSummaryStore(db),
		Activity:     store.NewActivityStore(db),
		Agent:        h.agent,
		Publisher:    h.events,
	}, Config{DrainMode: DrainSync, StaleAfter: time.Minute}, logger)
	return h
}

func (h *harness) countObservations(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&n))
	return n
}

func observation(tool string) models.ObservationRequest {
	return models.ObservationRequest{
		SessionID:    "S",
		ToolName:     tool,
		ToolInput:    map[string]any{"file_path": "main.go"},
		ToolResponse: "ok",
	}
}

func TestEnqueueAndDrain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.registry.InitSession(ctx, "S", "P", "hello")
	require.NoError(t, err)

	first, err := h.proc.EnqueueObservation(ctx, observation("Edit"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, first.Status)

	second, err := h.proc.EnqueueObservation(ctx, observation("Edit"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeduped, second.Status)
	assert.Equal(t, first.ItemID, second.ItemID)

	assert.Equal(t, 1, h.countObservations(t))
	stats, err := h.proc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Equal(t, []string{models.EventQueued, models.EventProcessingStarted, models.EventProcessed}, h.events.types())

	list, _, err := h.obs.List(ctx, models.ListFilter{Project: "P"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ran Edit", list[0].Title)
	assert.Equal(t, 1, list[0].PromptNumber)
	assert.Equal(t, "cmem-1", list[0].MemorySessionID)
}

func TestEnqueueStripsPrivateToolInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.registry.InitSession(ctx, "S", "P", "hello")
	require.NoError(t, err)

	// Fail the first attempt so the payload stays in the queue for inspection.
	h.agent.setErr(errors.New("rate limit exceeded"))
	res, err := h.proc.EnqueueObservation(ctx, models.ObservationRequest{
		SessionID:    "S",
		ToolName:     "Bash",
		ToolInput:    map[string]any{"command": "echo <private>hunter2</private>"},
		ToolResponse: map[string]any{"stdout": "<private>hunter2</private>ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, res.Status)

	var payload string
	require.NoError(t, h.db.QueryRow(`SELECT payload FROM queue_items WHERE id = ?`, res.ItemID).Scan(&payload))
	assert.NotContains(t, payload, "hunter2")

	h.agent.setErr(nil)
	_, err = h.proc.DrainSession(ctx, "S")
	require.NoError(t, err)

	h.agent.mu.Lock()
	seen := h.agent.last
	h.agent.mu.Unlock()
	assert.Equal(t, `{"command":"echo"}`, seen.ToolInput)
	assert.Equal(t, `{"stdout":"ok"}`, seen.ToolResponse)
	assert.Equal(t, 1, h.countObservations(t))
}

func TestEnqueueValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.proc.EnqueueObservation(ctx, models.ObservationRequest{ToolName: "Edit"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.proc.EnqueueObservation(ctx, models.ObservationRequest{SessionID: "S"})
	assert.ErrorIs(t, err, models.ErrValidation)

	res, err := h.proc.EnqueueObservation(ctx, models.ObservationRequest{
		SessionID: "S", ToolName: "Read", ToolInput: "<private>secret</private>",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, res.Status)

	res, err = h.proc.EnqueueSummary(ctx, models.SummarizeRequest{SessionID: "S"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, res.Status)
}

func TestNothingToRecordConfirms(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.agent.setErr(agent.ErrNothingToRecord)

	res, err := h.proc.EnqueueObservation(ctx, observation("LS"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, res.Status)

	item, err := h.queue.Get(ctx, res.ItemID)
	require.NoError(t, err)
	assert.Nil(t, item, "item confirmed without a write")
	assert.Zero(t, h.countObservations(t))
}

func TestRetryCapThenRetryFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.agent.setErr(errors.New("openai: rate limit (429): slow down"))

	res, err := h.proc.EnqueueObservation(ctx, observation("Bash"))
	require.NoError(t, err)

	// The enqueue drained once; two more attempts reach the cap.
	for i := 0; i < 2; i++ {
		dr, err := h.proc.DrainSession(ctx, "S")
		require.NoError(t, err)
		assert.Equal(t, 1, dr.Failed)
	}

	item, err := h.queue.Get(ctx, res.ItemID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.QueueFailed, item.Status)
	assert.Equal(t, 3, item.RetryCount)
	assert.Equal(t, models.FailureRateLimit, item.FailureClass)

	dr, err := h.proc.DrainSession(ctx, "S")
	require.NoError(t, err)
	assert.Zero(t, dr.Processed+dr.Failed, "failed items are never claimed")

	failures, err := h.proc.Failures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)

	h.agent.setErr(nil)
	n, err := h.proc.RetryFailed(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.countObservations(t))
}

func TestRecoverAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ps, err := h.registry.EnsureForProcessing(ctx, "S")
	require.NoError(t, err)

	// Simulate a crash: an item claimed but never confirmed.
	enq, err := h.queue.Enqueue(ctx, ps.SessionDBID, "S", models.KindObservation, models.ObservationPayload{ToolName: "Edit", ToolInput: "x"}, "")
	require.NoError(t, err)
	claimed, err := h.queue.ClaimNext(ctx, ps.SessionDBID)
	require.NoError(t, err)
	require.Equal(t, enq.ItemID, claimed.ID)
	_, err = h.db.Exec(`UPDATE queue_items SET claimed_at = ? WHERE id = ?`, time.Now().Add(-time.Hour).UnixMilli(), claimed.ID)
	require.NoError(t, err)

	// And the result had already been written before the crash.
	src := claimed.ID
	_, _, err = h.obs.Insert(ctx, nil, &models.Observation{
		MemorySessionID: ps.MemorySessionID, Project: ps.Project,
		Type: models.ObservationChange, Title: "ran Edit", SourceItemID: &src,
	})
	require.NoError(t, err)

	res, err := h.proc.RecoverAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reset)
	assert.Equal(t, 1, res.Sessions)
	require.Len(t, res.Drains, 1)
	assert.Equal(t, 1, res.Drains[0].Processed)

	assert.Equal(t, 1, h.countObservations(t), "re-run finds the existing row")
	stats, err := h.proc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending+stats.Processing)
}

func TestSummaryDrain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.registry.InitSession(ctx, "S", "P", "hello")
	require.NoError(t, err)

	res, err := h.proc.EnqueueSummary(ctx, models.SummarizeRequest{SessionID: "S", LastAssistantMessage: "done"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, res.Status)

	var n int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM summaries WHERE project = 'P'`).Scan(&n))
	assert.Equal(t, 1, n)

	done, err := h.proc.Complete(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Contains(t, h.events.types(), models.EventSessionCompleted)
}

func TestDrainGuard(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.proc.acquire("S"))
	assert.False(t, h.proc.acquire("S"), "second drain is refused")
	assert.False(t, h.proc.finished("S"), "refused drain forces a recheck")
	assert.True(t, h.proc.finished("S"))
	h.proc.release("S")
	assert.True(t, h.proc.acquire("S"))
	h.proc.release("S")
}

func TestAsyncPoolDrains(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := NewProcessor(Deps{
		DB:           h.db,
		Queue:        h.queue,
		Registry:     h.registry,
		Observations: h.obs,
		Summaries:    store.NewSummaryStore(h.db),
		Activity:     store.NewActivityStore(h.db),
		Agent:        h.agent,
	}, Config{DrainMode: DrainAsync, Workers: 2}, logger)

	for _, tool := range []string{"Edit", "Bash", "Read"} {
		_, err := proc.EnqueueObservation(ctx, observation(tool))
		require.NoError(t, err)
	}
	proc.Close()

	assert.Equal(t, 3, h.countObservations(t))
}
