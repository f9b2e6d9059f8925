package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iammorganparry/cmem/internal/models"
)

// recordStore is the read side shared by observations, summaries and
// prompts.
type recordStore[E any] interface {
	GetByID(ctx context.Context, id int64) (*E, error)
	GetByIDs(ctx context.Context, ids []int64, f models.ListFilter) ([]*E, error)
	List(ctx context.Context, f models.ListFilter) ([]*E, int, error)
}

// RecordHandler serves list, get and batch reads for one record kind.
// Every returned row has its last access bumped.
type RecordHandler[E any] struct {
	kind   models.EntityKind
	store  recordStore[E]
	touch  func(ctx context.Context, items []*E) error
	logger *slog.Logger
}

func NewRecordHandler[E any](kind models.EntityKind, s recordStore[E], touch func(context.Context, []*E) error, logger *slog.Logger) *RecordHandler[E] {
	return &RecordHandler[E]{kind: kind, store: s, touch: touch, logger: logger}
}

// List handles GET /{kind}
func (h *RecordHandler[E]) List(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items, total, err := h.store.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.touched(r.Context(), items)

	if items == nil {
		items = []*E{}
	}
	writeJSON(w, http.StatusOK, models.ListResponse[*E]{
		Items:      items,
		Pagination: models.NewPagination(f.Page, f.Limit, total),
	})
}

// Get handles GET /{kind}/{id}
func (h *RecordHandler[E]) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	f, err := listFilter(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	item, err := h.getByID(r.Context(), id, f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if item == nil {
		writeServiceError(w, fmt.Errorf("%s %d: %w", h.kind, id, models.ErrNotFound))
		return
	}
	h.touched(r.Context(), []*E{item})
	writeJSON(w, http.StatusOK, item)
}

// Batch handles POST /{kind}/batch
func (h *RecordHandler[E]) Batch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchGetRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeServiceError(w, err)
		return
	}
	if len(req.IDs) > maxBatchIDs {
		writeServiceError(w, fmt.Errorf("at most %d ids per batch: %w", maxBatchIDs, models.ErrValidation))
		return
	}
	f := req.Filter()
	if err := validateFilter(f); err != nil {
		writeServiceError(w, err)
		return
	}

	items, err := h.store.GetByIDs(r.Context(), req.IDs, f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.touched(r.Context(), items)

	if items == nil {
		items = []*E{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// getByID reads one row. With filters set, a row outside them is reported
// as missing.
func (h *RecordHandler[E]) getByID(ctx context.Context, id int64, f models.ListFilter) (*E, error) {
	if !hasFilter(f) {
		return h.store.GetByID(ctx, id)
	}
	items, err := h.store.GetByIDs(ctx, []int64{id}, f)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (h *RecordHandler[E]) touched(ctx context.Context, items []*E) {
	if len(items) == 0 || h.touch == nil {
		return
	}
	if err := h.touch(ctx, items); err != nil {
		h.logger.Warn("touch failed", "kind", h.kind, "count", len(items), "error", err)
	}
}
