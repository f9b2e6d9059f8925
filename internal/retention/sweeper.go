// Package retention expires idle projects. Each project's data is soft
// deleted once nothing in it has been read or written for its TTL, and
// soft-deleted rows are purged after a grace period.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/iammorganparry/cmem/internal/events"
	"github.com/iammorganparry/cmem/internal/models"
	"github.com/iammorganparry/cmem/internal/store"
)

const day = 24 * time.Hour

// Forgetter removes deleted records from external indexes.
type Forgetter interface {
	Forget(ctx context.Context, kind models.EntityKind, ids []int64)
}

// Config holds the global retention rules.
type Config struct {
	DefaultTTLDays int
	SoftDeleteDays int
}

// Sweeper evaluates retention policies and deletes expired data.
type Sweeper struct {
	store     *store.RetentionStore
	forgetter Forgetter
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger

	// mu serializes sweeps; a scheduled run and a manual one never overlap.
	mu sync.Mutex
}

func NewSweeper(s *store.RetentionStore, f Forgetter, pub events.Publisher, cfg Config, logger *slog.Logger) *Sweeper {
	if pub == nil {
		pub = events.Discard{}
	}
	if cfg.DefaultTTLDays <= 0 {
		cfg.DefaultTTLDays = 90
	}
	if cfg.SoftDeleteDays <= 0 {
		cfg.SoftDeleteDays = 30
	}
	return &Sweeper{
		store:     s,
		forgetter: f,
		publisher: pub,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock replaces the sweeper's clock.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Cleanup runs one retention pass over every known project. A dry run
// reports what would be deleted without changing anything.
func (s *Sweeper) Cleanup(ctx context.Context, req models.CleanupRequest) (*models.CleanupReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	report := &models.CleanupReport{DryRun: req.DryRun, RanAt: now.UnixMilli(), Projects: []models.ProjectDecision{}}

	projects, err := s.store.Projects(ctx)
	if err != nil {
		return nil, err
	}

	for _, project := range projects {
		decision, err := s.decide(ctx, project, now)
		if err != nil {
			return nil, err
		}

		if decision.Decision == models.DecisionExpired {
			if req.DryRun {
				decision.SoftDeleted, err = s.store.CountLive(ctx, project)
				if err != nil {
					return nil, err
				}
			} else {
				counts, ids, err := s.store.SoftDeleteProject(ctx, project, now.UnixMilli())
				if err != nil {
					return nil, err
				}
				decision.SoftDeleted = counts
				s.forget(ctx, ids)
				if counts.Total() > 0 {
					s.logger.Info("project expired",
						"project", project,
						"observations", counts.Observations,
						"summaries", counts.Summaries,
						"prompts", counts.Prompts,
					)
				}
			}
			report.SoftDeleted = report.SoftDeleted.Add(decision.SoftDeleted)
		}
		report.Projects = append(report.Projects, *decision)
	}

	if !req.DryRun {
		cutoff := now.Add(-time.Duration(s.cfg.SoftDeleteDays) * day).UnixMilli()
		report.HardDeleted, err = s.store.HardDelete(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("hard delete: %w", err)
		}
		if report.HardDeleted.Total() > 0 {
			s.logger.Info("purged soft-deleted rows", "count", report.HardDeleted.Total())
		}
	}

	s.publisher.Publish(models.Event{
		Type: models.EventRetentionRan,
		Message: fmt.Sprintf("dry_run=%t soft_deleted=%d hard_deleted=%d",
			req.DryRun, report.SoftDeleted.Total(), report.HardDeleted.Total()),
	})
	return report, nil
}

func (s *Sweeper) decide(ctx context.Context, project string, now time.Time) (*models.ProjectDecision, error) {
	policy, err := s.store.GetPolicy(ctx, project)
	if err != nil {
		return nil, err
	}
	lastAccess, err := s.store.LastAccess(ctx, project)
	if err != nil {
		return nil, err
	}

	d := &models.ProjectDecision{
		Project:      project,
		LastAccessAt: lastAccess,
		TTLDays:      s.ttlDays(policy),
	}
	switch {
	case policy != nil && policy.Pinned:
		d.Decision = models.DecisionPinned
	case policy != nil && !policy.Enabled:
		d.Decision = models.DecisionDisabled
	case now.Sub(time.UnixMilli(lastAccess)) >= time.Duration(d.TTLDays)*day:
		d.Decision = models.DecisionExpired
	default:
		d.Decision = models.DecisionRetained
	}
	return d, nil
}

func (s *Sweeper) ttlDays(p *models.RetentionPolicy) int {
	if p != nil && p.TTLDays != nil && *p.TTLDays > 0 {
		return *p.TTLDays
	}
	return s.cfg.DefaultTTLDays
}

func (s *Sweeper) forget(ctx context.Context, ids *store.SoftDeletedIDs) {
	if s.forgetter == nil || ids == nil {
		return
	}
	if len(ids.Observations) > 0 {
		s.forgetter.Forget(ctx, models.EntityObservation, ids.Observations)
	}
	if len(ids.Summaries) > 0 {
		s.forgetter.Forget(ctx, models.EntitySummary, ids.Summaries)
	}
	if len(ids.Prompts) > 0 {
		s.forgetter.Forget(ctx, models.EntityPrompt, ids.Prompts)
	}
}

// GetPolicy returns the project's policy, or the default one when none is
// stored.
func (s *Sweeper) GetPolicy(ctx context.Context, project string) (*models.RetentionPolicy, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, fmt.Errorf("project is required: %w", models.ErrValidation)
	}
	p, err := s.store.GetPolicy(ctx, project)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &models.RetentionPolicy{Project: project, Enabled: true}
	}
	return p, nil
}

// SetPolicy applies a partial update to the project's policy.
func (s *Sweeper) SetPolicy(ctx context.Context, project string, u models.PolicyUpdate) (*models.RetentionPolicy, error) {
	if u.TTLDays != nil && *u.TTLDays < 0 {
		return nil, fmt.Errorf("ttlDays must not be negative: %w", models.ErrValidation)
	}
	p, err := s.GetPolicy(ctx, project)
	if err != nil {
		return nil, err
	}
	if u.Enabled != nil {
		p.Enabled = *u.Enabled
	}
	if u.Pinned != nil {
		p.Pinned = *u.Pinned
	}
	if u.TTLDays != nil {
		if *u.TTLDays == 0 {
			p.TTLDays = nil
		} else {
			ttl := *u.TTLDays
			p.TTLDays = &ttl
		}
	}
	if err := s.store.PutPolicy(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("retention policy updated", "project", p.Project, "enabled", p.Enabled, "pinned", p.Pinned)
	return p, nil
}

func (s *Sweeper) ListPolicies(ctx context.Context) ([]*models.RetentionPolicy, error) {
	return s.store.ListPolicies(ctx)
}
