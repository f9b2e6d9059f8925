// Package search answers memory queries by merging lexical matches with
// nearest neighbours from the local sqlite-vec index and the external
// vector service.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iammorganparry/cmem/internal/embedding"
	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
	"github.com/iammorganparry/cmem/internal/vectorstore"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	// vectorOversample widens vector candidate lists so hydration filters
	// still leave enough rows.
	vectorOversample = 2
)

// Merger runs hybrid searches.
type Merger struct {
	observations *store.ObservationStore
	summaries    *store.SummaryStore
	prompts      *store.PromptStore
	embeddings   *store.EmbeddingStore
	embedder     embedding.Embedder
	external     vectorstore.External
	toucher      *Toucher
	tracer       *Tracer
	logger       *slog.Logger
}

// Deps groups the Merger's collaborators.
type Deps struct {
	Observations *store.ObservationStore
	Summaries    *store.SummaryStore
	Prompts      *store.PromptStore
	Embeddings   *store.EmbeddingStore
	Embedder     embedding.Embedder
	External     vectorstore.External
	Toucher      *Toucher
	Tracer       *Tracer
}

func NewMerger(d Deps, logger *slog.Logger) *Merger {
	if d.External == nil {
		d.External = vectorstore.Disabled{}
	}
	if d.Tracer == nil {
		d.Tracer = NewTracer(0)
	}
	return &Merger{
		observations: d.Observations,
		summaries:    d.Summaries,
		prompts:      d.Prompts,
		embeddings:   d.Embeddings,
		embedder:     d.Embedder,
		external:     d.External,
		toucher:      d.Toucher,
		tracer:       d.Tracer,
		logger:       logger,
	}
}

func (m *Merger) Tracer() *Tracer { return m.tracer }

// Search returns observations, summaries and prompts matching req. With an
// empty query it lists the newest rows the filter allows.
func (m *Merger) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := normalize(&req); err != nil {
		return nil, err
	}
	filter := req.Filter()
	query := strings.TrimSpace(req.Query)

	lexObs, err := m.observations.SearchLexical(ctx, query, filter, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("lexical observations: %w", err)
	}
	lexSums, err := m.summaries.SearchLexical(ctx, query, filter, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("lexical summaries: %w", err)
	}
	lexPrompts, err := m.prompts.SearchLexical(ctx, query, filter, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("lexical prompts: %w", err)
	}

	var local []int64
	var external map[models.EntityKind][]int64
	if query != "" && m.embedder != nil {
		if vec := m.embedder.Embed(ctx, query); vec != nil {
			local, err = m.embeddings.Query(ctx, vec, req.Project, req.Limit*vectorOversample)
			if err != nil {
				m.logger.Warn("local vector query failed", "error", err)
				local = nil
			}
			external, err = m.external.Query(ctx, vec, req.Project, req.Limit*vectorOversample)
			if err != nil {
				m.logger.Warn("external vector query failed", "error", err)
				external = nil
			}
		}
	}

	obsIDs := MergeIDs([][]int64{local, external[models.EntityObservation]}, lexObs, req.Limit)
	sumIDs := MergeIDs([][]int64{external[models.EntitySummary]}, lexSums, req.Limit)
	promptIDs := MergeIDs([][]int64{external[models.EntityPrompt]}, lexPrompts, req.Limit)

	resp := &models.SearchResponse{Mode: models.SearchModeLexical}
	if resp.Observations, err = m.observations.GetByIDs(ctx, obsIDs, filter); err != nil {
		return nil, err
	}
	if resp.Summaries, err = m.summaries.GetByIDs(ctx, sumIDs, filter); err != nil {
		return nil, err
	}
	if resp.Prompts, err = m.prompts.GetByIDs(ctx, promptIDs, filter); err != nil {
		return nil, err
	}
	ensureSlices(resp)

	externalHits := 0
	for _, ids := range external {
		externalHits += len(ids)
	}
	if len(local)+externalHits > 0 {
		resp.Mode = models.SearchModeHybrid
	}

	if m.toucher != nil {
		if err := m.toucher.Touch(ctx, resp.Observations, resp.Summaries, resp.Prompts); err != nil {
			m.logger.Warn("touch search results failed", "error", err)
		}
	}

	elapsed := time.Since(start)
	resp.Meta = models.SearchMeta{
		LexicalHits:  len(lexObs) + len(lexSums) + len(lexPrompts),
		LocalHits:    len(local),
		ExternalHits: externalHits,
		SearchTimeMs: int(elapsed.Milliseconds()),
	}
	m.tracer.Record(models.SearchTrace{
		Query:        query,
		Project:      req.Project,
		Mode:         resp.Mode,
		LexicalHits:  resp.Meta.LexicalHits,
		LocalHits:    resp.Meta.LocalHits,
		ExternalHits: resp.Meta.ExternalHits,
		Results:      len(resp.Observations) + len(resp.Summaries) + len(resp.Prompts),
		LatencyMs:    elapsed.Milliseconds(),
		At:           start.UnixMilli(),
	})
	m.logger.Debug("search",
		"mode", resp.Mode,
		"lexical", resp.Meta.LexicalHits,
		"local", resp.Meta.LocalHits,
		"external", resp.Meta.ExternalHits,
		"ms", resp.Meta.SearchTimeMs,
	)
	return resp, nil
}

func normalize(req *models.SearchRequest) error {
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	for _, t := range req.Types {
		if !t.IsValid() {
			return fmt.Errorf("invalid observation type %q: %w", t, models.ErrValidation)
		}
	}
	if req.From > 0 && req.To > 0 && req.From > req.To {
		return fmt.Errorf("from is after to: %w", models.ErrValidation)
	}
	return nil
}

func ensureSlices(r *models.SearchResponse) {
	if r.Observations == nil {
		r.Observations = []*models.Observation{}
	}
	if r.Summaries == nil {
		r.Summaries = []*models.Summary{}
	}
	if r.Prompts == nil {
		r.Prompts = []*models.Prompt{}
	}
}
