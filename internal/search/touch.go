package search

import (
	"context"
	"database/sql"
	"time"

	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
)

// Toucher records reads so retention sees them as activity.
type Toucher struct {
	db       *store.DB
	activity *store.ActivityStore
}

func NewToucher(db *store.DB, activity *store.ActivityStore) *Toucher {
	return &Toucher{db: db, activity: activity}
}

// Touch bumps last_accessed_at on every returned row and on each row's
// project, in one transaction.
func (t *Toucher) Touch(ctx context.Context, obs []*models.Observation, sums []*models.Summary, prompts []*models.Prompt) error {
	if len(obs)+len(sums)+len(prompts) == 0 {
		return nil
	}
	groups := make(map[models.EntityKind]map[string][]int64)
	add := func(kind models.EntityKind, project string, id int64) {
		if groups[kind] == nil {
			groups[kind] = make(map[string][]int64)
		}
		groups[kind][project] = append(groups[kind][project], id)
	}
	for _, o := range obs {
		add(models.EntityObservation, o.Project, o.ID)
	}
	for _, s := range sums {
		add(models.EntitySummary, s.Project, s.ID)
	}
	for _, p := range prompts {
		add(models.EntityPrompt, p.Project, p.ID)
	}

	now := time.Now().UnixMilli()
	return t.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		for kind, byProject := range groups {
			for project, ids := range byProject {
				if err := t.activity.Touch(ctx, tx, kind, ids, project, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
