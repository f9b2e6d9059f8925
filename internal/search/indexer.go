package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/iammorganparry/cmem/internal/embedding"
	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
	"github.com/iammorganparry/cmem/internal/vectorstore"
)

// Indexer embeds written records into the local and external vector
// indexes. Indexing is best effort: failures are logged, never returned, so
// a record that is already durable is not retried for a missing vector.
type Indexer struct {
	embedder   embedding.Embedder
	embeddings *store.EmbeddingStore
	external   vectorstore.External
	logger     *slog.Logger
}

func NewIndexer(e embedding.Embedder, embeddings *store.EmbeddingStore, external vectorstore.External, logger *slog.Logger) *Indexer {
	if external == nil {
		external = vectorstore.Disabled{}
	}
	return &Indexer{embedder: e, embeddings: embeddings, external: external, logger: logger}
}

func (ix *Indexer) IndexObservation(ctx context.Context, o *models.Observation) {
	text := ObservationText(o)
	vec := ix.embed(ctx, text)
	if vec == nil {
		return
	}
	if err := ix.embeddings.Upsert(ctx, o.ID, o.Project, vec); err != nil {
		ix.logger.Warn("local index failed", "observation", o.ID, "error", err)
	}
	ix.upsertExternal(ctx, models.EntityObservation, o.ID, o.Project, vec, text)
}

func (ix *Indexer) IndexSummary(ctx context.Context, s *models.Summary) {
	text := SummaryText(s)
	if vec := ix.embed(ctx, text); vec != nil {
		ix.upsertExternal(ctx, models.EntitySummary, s.ID, s.Project, vec, text)
	}
}

func (ix *Indexer) IndexPrompt(ctx context.Context, p *models.Prompt) {
	if vec := ix.embed(ctx, p.Text); vec != nil {
		ix.upsertExternal(ctx, models.EntityPrompt, p.ID, p.Project, vec, p.Text)
	}
}

// Forget removes records from the external index.
func (ix *Indexer) Forget(ctx context.Context, kind models.EntityKind, ids []int64) {
	if err := ix.external.Delete(ctx, kind, ids); err != nil {
		ix.logger.Warn("external delete failed", "kind", kind, "count", len(ids), "error", err)
	}
}

func (ix *Indexer) embed(ctx context.Context, text string) []float32 {
	if ix.embedder == nil || !ix.embedder.Enabled() || strings.TrimSpace(text) == "" {
		return nil
	}
	return ix.embedder.Embed(ctx, text)
}

func (ix *Indexer) upsertExternal(ctx context.Context, kind models.EntityKind, id int64, project string, vec []float32, text string) {
	if !ix.external.Enabled() {
		return
	}
	if err := ix.external.Upsert(ctx, kind, id, project, vec, text); err != nil {
		ix.logger.Warn("external index failed", "kind", kind, "id", id, "error", err)
	}
}

// ObservationText is the text embedded for an observation.
func ObservationText(o *models.Observation) string {
	parts := []string{o.Title, o.Subtitle, o.Narrative}
	parts = append(parts, o.Facts...)
	parts = append(parts, o.Concepts...)
	return joinNonEmpty(parts)
}

// SummaryText is the text embedded for a summary.
func SummaryText(s *models.Summary) string {
	return joinNonEmpty([]string{s.Request, s.Investigated, s.Learned, s.Completed, s.NextSteps, s.Notes})
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
