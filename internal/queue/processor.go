// Package queue turns hook events into durable queue items and drains them
// through the Agent into observations and summaries.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/iammorganparry/cmem/internal/agent"
	"github.com/iammorganparry/cmem/internal/events"
	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/privacy"
	"github.com/iammorganparry/cmem/internal/search"
	"github.com/iammorganparry/cmem/internal/sessions"
	"github.com/iammorganparry/cmem/internal/store"
)

// DrainMode selects where session drains run.
type DrainMode string

const (
	// DrainSync drains inside the request that enqueued the work.
	DrainSync DrainMode = "sync"
	// DrainAsync hands the session to the background pool.
	DrainAsync DrainMode = "async"
)

// ReasonEmpty is reported when nothing is left to enqueue after privacy
// stripping.
const ReasonEmpty = "empty"

const maxEventMessage = 300

// Config tunes the processor.
type Config struct {
	DrainMode  DrainMode
	Workers    int
	PoolSize   int
	StaleAfter time.Duration
}

// Deps groups the processor's collaborators.
type Deps struct {
	DB           *store.DB
	Queue        *store.QueueStore
	Registry     *sessions.Registry
	Observations *store.ObservationStore
	Summaries    *store.SummaryStore
	Activity     *store.ActivityStore
	Agent        agent.Agent
	Indexer      *search.Indexer
	Publisher    events.Publisher
}

// Processor owns the queue lifecycle: enqueue, drain, recover.
type Processor struct {
	db           *store.DB
	queue        *store.QueueStore
	registry     *sessions.Registry
	observations *store.ObservationStore
	summaries    *store.SummaryStore
	activity     *store.ActivityStore
	agent        agent.Agent
	indexer      *search.Indexer
	publisher    events.Publisher
	cfg          Config
	pool         *Pool
	logger       *slog.Logger

	mu       sync.Mutex
	draining map[string]*drainState
}

type drainState struct {
	// rerun is set when work arrives while a drain is active, so the
	// active drain checks again before exiting.
	rerun bool
}

func NewProcessor(d Deps, cfg Config, logger *slog.Logger) *Processor {
	if d.Publisher == nil {
		d.Publisher = events.Discard{}
	}
	if cfg.DrainMode == "" {
		cfg.DrainMode = DrainSync
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	p := &Processor{
		db:           d.DB,
		queue:        d.Queue,
		registry:     d.Registry,
		observations: d.Observations,
		summaries:    d.Summaries,
		activity:     d.Activity,
		agent:        d.Agent,
		indexer:      d.Indexer,
		publisher:    d.Publisher,
		cfg:          cfg,
		logger:       logger,
		draining:     make(map[string]*drainState),
	}
	if cfg.DrainMode == DrainAsync {
		p.pool = NewPool(cfg.Workers, cfg.PoolSize, func(ctx context.Context, externalID string) {
			if _, err := p.DrainSession(ctx, externalID); err != nil {
				p.logger.Error("background drain failed", "session_id", externalID, "error", err)
			}
		}, logger)
	}
	return p
}

func (p *Processor) Mode() DrainMode { return p.cfg.DrainMode }

// Close waits for background drains to finish.
func (p *Processor) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// EnqueueObservation queues a tool event for the session.
func (p *Processor) EnqueueObservation(ctx context.Context, req models.ObservationRequest) (*models.EnqueueResponse, error) {
	externalID := strings.TrimSpace(req.SessionID)
	if externalID == "" {
		return nil, fmt.Errorf("sessionId is required: %w", models.ErrValidation)
	}
	toolName := strings.TrimSpace(req.ToolName)
	if toolName == "" {
		return nil, fmt.Errorf("toolName is required: %w", models.ErrValidation)
	}

	input := privacy.StripValue(req.ToolInput)
	output := privacy.StripValue(req.ToolResponse)
	if input == "" && output == "" {
		return &models.EnqueueResponse{Status: models.StatusSkipped, Reason: ReasonEmpty}, nil
	}

	ps, err := p.registry.EnsureForProcessing(ctx, externalID)
	if err != nil {
		return nil, err
	}
	promptNumber, err := p.registry.LatestPromptNumber(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("latest prompt number: %w", err)
	}

	payload := models.ObservationPayload{
		ToolName:     toolName,
		ToolInput:    input,
		ToolResponse: output,
		Cwd:          req.Cwd,
		PromptNumber: promptNumber,
	}
	return p.enqueue(ctx, ps, externalID, models.KindObservation, payload, ObservationKey(externalID, payload))
}

// EnqueueSummary queues the closing message of a turn.
func (p *Processor) EnqueueSummary(ctx context.Context, req models.SummarizeRequest) (*models.EnqueueResponse, error) {
	externalID := strings.TrimSpace(req.SessionID)
	if externalID == "" {
		return nil, fmt.Errorf("sessionId is required: %w", models.ErrValidation)
	}

	assistant := privacy.StripPrivateTags(req.LastAssistantMessage)
	if assistant == "" {
		return &models.EnqueueResponse{Status: models.StatusSkipped, Reason: ReasonEmpty}, nil
	}

	ps, err := p.registry.EnsureForProcessing(ctx, externalID)
	if err != nil {
		return nil, err
	}
	promptNumber, err := p.registry.LatestPromptNumber(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("latest prompt number: %w", err)
	}

	payload := models.SummaryPayload{
		LastUserMessage:      privacy.StripPrivateTags(req.LastUserMessage),
		LastAssistantMessage: assistant,
		PromptNumber:         promptNumber,
	}
	return p.enqueue(ctx, ps, externalID, models.KindSummarize, payload, SummaryKey(externalID, payload))
}

func (p *Processor) enqueue(ctx context.Context, ps *models.ProcessingSession, externalID string, kind models.QueueKind, payload any, key string) (*models.EnqueueResponse, error) {
	res, err := p.queue.Enqueue(ctx, ps.SessionDBID, externalID, kind, payload, key)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	if res.Deduped {
		p.logger.Debug("enqueue deduped", "session_id", externalID, "kind", kind, "item_id", res.ItemID)
		return &models.EnqueueResponse{Status: models.StatusDeduped, ItemID: res.ItemID}, nil
	}

	p.publisher.Publish(models.Event{
		Type:              models.EventQueued,
		ExternalSessionID: externalID,
		ItemID:            res.ItemID,
		Kind:              kind,
	})
	p.Schedule(ctx, externalID)
	return &models.EnqueueResponse{Status: models.StatusQueued, ItemID: res.ItemID}, nil
}

// Complete ends the session and drains whatever it still has queued.
func (p *Processor) Complete(ctx context.Context, externalID string) (*models.CompleteResult, error) {
	res, err := p.registry.Complete(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if res.Status == models.StatusCompleted {
		p.publisher.Publish(models.Event{
			Type:              models.EventSessionCompleted,
			ExternalSessionID: strings.TrimSpace(externalID),
		})
	}
	p.Schedule(ctx, strings.TrimSpace(externalID))
	return res, nil
}

// Schedule runs a drain for the session according to the drain mode. In
// sync mode the drain outlives the caller's cancellation so an item is
// never abandoned half-processed.
func (p *Processor) Schedule(ctx context.Context, externalID string) {
	if p.pool != nil {
		p.pool.Enqueue(externalID)
		return
	}
	if _, err := p.DrainSession(context.WithoutCancel(ctx), externalID); err != nil {
		p.logger.Error("drain failed", "session_id", externalID, "error", err)
	}
}

// DrainSession processes the session's pending items oldest first until
// none remain. Only one drain per session runs at a time; a concurrent call
// returns Skipped and the active drain picks up the new work.
//
// A failure that leaves its item pending ends the drain so later items do
// not overtake it; the next enqueue or recovery sweep resumes.
func (p *Processor) DrainSession(ctx context.Context, externalID string) (*models.DrainResult, error) {
	result := &models.DrainResult{ExternalSessionID: externalID}
	if !p.acquire(externalID) {
		result.Skipped = true
		return result, nil
	}
	defer p.release(externalID)

	sess, err := p.registry.Get(ctx, externalID)
	if errors.Is(err, models.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return result, err
	}

	for {
		item, err := p.queue.ClaimNext(ctx, sess.ID)
		if err != nil {
			return result, err
		}
		if item == nil {
			if p.finished(externalID) {
				break
			}
			continue
		}

		p.publisher.Publish(models.Event{
			Type:              models.EventProcessingStarted,
			ExternalSessionID: externalID,
			ItemID:            item.ID,
			Kind:              item.Kind,
		})

		if err := p.process(ctx, externalID, item); err != nil {
			status, markErr := p.fail(ctx, externalID, item, err)
			if markErr != nil {
				return result, markErr
			}
			result.Failed++
			if status == models.QueuePending {
				break
			}
			continue
		}

		if err := p.queue.Confirm(ctx, item.ID); err != nil {
			return result, err
		}
		result.Processed++
		p.publisher.Publish(models.Event{
			Type:              models.EventProcessed,
			ExternalSessionID: externalID,
			ItemID:            item.ID,
			Kind:              item.Kind,
		})
	}

	if result.Processed+result.Failed > 0 {
		p.logger.Info("session drained",
			"session_id", externalID,
			"processed", result.Processed,
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (p *Processor) fail(ctx context.Context, externalID string, item *models.QueueItem, cause error) (models.QueueStatus, error) {
	class := Classify(cause)
	status, err := p.queue.MarkFailed(ctx, item.ID, cause, class)
	if err != nil {
		return "", err
	}
	p.logger.Warn("queue item failed",
		"session_id", externalID,
		"item_id", item.ID,
		"kind", item.Kind,
		"class", class,
		"status", status,
		"error", cause,
	)
	p.publisher.Publish(models.Event{
		Type:              models.EventFailed,
		ExternalSessionID: externalID,
		ItemID:            item.ID,
		Kind:              item.Kind,
		FailureClass:      class,
		Message:           truncateStr(cause.Error(), maxEventMessage),
	})
	return status, nil
}

// process runs the Agent for one item and writes its result. A re-run of an
// item whose result was already written finds the existing row.
func (p *Processor) process(ctx context.Context, externalID string, item *models.QueueItem) error {
	ps, err := p.registry.EnsureForProcessing(ctx, externalID)
	if err != nil {
		return fmt.Errorf("processing session: %w", err)
	}

	switch item.Kind {
	case models.KindObservation:
		var payload models.ObservationPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal observation payload: %w", err)
		}
		out, err := p.agent.ProcessObservation(ctx, payload)
		if errors.Is(err, agent.ErrNothingToRecord) {
			return nil
		}
		if err != nil {
			return err
		}
		return p.writeObservation(ctx, ps, item, payload, out)

	case models.KindSummarize:
		var payload models.SummaryPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal summary payload: %w", err)
		}
		out, err := p.agent.ProcessSummary(ctx, payload)
		if errors.Is(err, agent.ErrNothingToRecord) {
			return nil
		}
		if err != nil {
			return err
		}
		return p.writeSummary(ctx, ps, item, payload, out)

	default:
		return fmt.Errorf("processing: unknown queue kind %q", item.Kind)
	}
}

func (p *Processor) writeObservation(ctx context.Context, ps *models.ProcessingSession, item *models.QueueItem, payload models.ObservationPayload, out *models.ObservationInput) error {
	itemID := item.ID
	o := &models.Observation{
		MemorySessionID: ps.MemorySessionID,
		Project:         ps.Project,
		Type:            out.Type,
		Title:           out.Title,
		Subtitle:        out.Subtitle,
		Facts:           out.Facts,
		Narrative:       out.Narrative,
		Concepts:        out.Concepts,
		FilesRead:       out.FilesRead,
		FilesModified:   out.FilesModified,
		PromptNumber:    payload.PromptNumber,
		SourceItemID:    &itemID,
	}

	var created bool
	err := p.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		id, isNew, err := p.observations.Insert(ctx, tx, o)
		if err != nil {
			return err
		}
		o.ID, created = id, isNew
		return p.activity.Touch(ctx, tx, models.EntityObservation, []int64{id}, ps.Project, time.Now().UnixMilli())
	})
	if err != nil {
		return fmt.Errorf("store observation: %w", err)
	}
	if created && p.indexer != nil {
		p.indexer.IndexObservation(ctx, o)
	}
	return nil
}

func (p *Processor) writeSummary(ctx context.Context, ps *models.ProcessingSession, item *models.QueueItem, payload models.SummaryPayload, out *models.SummaryInput) error {
	itemID := item.ID
	s := &models.Summary{
		MemorySessionID: ps.MemorySessionID,
		Project:         ps.Project,
		Request:         out.Request,
		Investigated:    out.Investigated,
		Learned:         out.Learned,
		Completed:       out.Completed,
		NextSteps:       out.NextSteps,
		Notes:           out.Notes,
		PromptNumber:    payload.PromptNumber,
		SourceItemID:    &itemID,
	}

	var created bool
	err := p.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		id, isNew, err := p.summaries.Insert(ctx, tx, s)
		if err != nil {
			return err
		}
		s.ID, created = id, isNew
		return p.activity.Touch(ctx, tx, models.EntitySummary, []int64{id}, ps.Project, time.Now().UnixMilli())
	})
	if err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	if created && p.indexer != nil {
		p.indexer.IndexSummary(ctx, s)
	}
	return nil
}

// RecoverAll returns stale processing items to pending and drains every
// session that has pending work. Used at startup and on demand.
func (p *Processor) RecoverAll(ctx context.Context) (*models.RecoverResult, error) {
	reset, err := p.queue.ResetStale(ctx, p.cfg.StaleAfter)
	if err != nil {
		return nil, err
	}
	ids, err := p.queue.SessionsWithPending(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.RecoverResult{Reset: reset, Sessions: len(ids)}
	for _, id := range ids {
		dr, err := p.DrainSession(ctx, id)
		if err != nil {
			p.logger.Error("recovery drain failed", "session_id", id, "error", err)
			continue
		}
		result.Drains = append(result.Drains, *dr)
	}
	if reset > 0 || len(ids) > 0 {
		p.logger.Info("queue recovered", "reset", reset, "sessions", len(ids))
	}
	return result, nil
}

// RetryFailed re-arms terminally failed items, for one session or for all
// when externalID is empty, and schedules drains for them.
func (p *Processor) RetryFailed(ctx context.Context, externalID string) (int, error) {
	var sessionID int64
	if externalID = strings.TrimSpace(externalID); externalID != "" {
		sess, err := p.registry.Get(ctx, externalID)
		if err != nil {
			return 0, err
		}
		sessionID = sess.ID
	}

	n, err := p.queue.RetryFailed(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	p.logger.Info("failed items re-armed", "count", n, "session_id", externalID)

	if externalID != "" {
		p.Schedule(ctx, externalID)
		return n, nil
	}
	ids, err := p.queue.SessionsWithPending(ctx)
	if err != nil {
		return n, err
	}
	for _, id := range ids {
		p.Schedule(ctx, id)
	}
	return n, nil
}

// Stats reports queue counts by status.
func (p *Processor) Stats(ctx context.Context) (*models.QueueStats, error) {
	return p.queue.Stats(ctx)
}

// Failures lists terminally failed items with their class and last error.
func (p *Processor) Failures(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	return p.queue.ListFailed(ctx, limit)
}

func (p *Processor) acquire(externalID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.draining[externalID]; ok {
		st.rerun = true
		return false
	}
	p.draining[externalID] = &drainState{}
	return true
}

// finished reports whether the drain may exit, clearing a pending rerun.
func (p *Processor) finished(externalID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.draining[externalID]
	if st != nil && st.rerun {
		st.rerun = false
		return false
	}
	return true
}

func (p *Processor) release(externalID string) {
	p.mu.Lock()
	delete(p.draining, externalID)
	p.mu.Unlock()
}

// truncateStr shortens s to maxLen bytes, appending "..." when cut.
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
