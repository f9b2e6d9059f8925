// Package vectorstore indexes memory records in an external vector service
// (Qdrant) alongside the local sqlite-vec index.
package vectorstore

import (
	"context"

	"github.com/iammorganparry/cmem/internal/models"
)

// External is a remote vector index over observations, summaries and
// prompts.
type External interface {
	Upsert(ctx context.Context, kind models.EntityKind, id int64, project string, vector []float32, text string) error
	// Query returns ids per kind, nearest first.
	Query(ctx context.Context, vector []float32, project string, limit int) (map[models.EntityKind][]int64, error)
	Delete(ctx context.Context, kind models.EntityKind, ids []int64) error
	HealthCheck(ctx context.Context) error
	Enabled() bool
}

// Disabled is an External that stores nothing and finds nothing.
type Disabled struct{}

func (Disabled) Upsert(context.Context, models.EntityKind, int64, string, []float32, string) error {
	return nil
}

func (Disabled) Query(context.Context, []float32, string, int) (map[models.EntityKind][]int64, error) {
	return nil, nil
}

func (Disabled) Delete(context.Context, models.EntityKind, []int64) error { return nil }
func (Disabled) HealthCheck(context.Context) error                        { return nil }
func (Disabled) Enabled() bool                                            { return false }
