package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iammorganparry/cmem/internal/models"
)

// FallbackAgent uses secondary when primary cannot be reached. Other
// primary failures, including rate limits and bad replies, are returned
// so the queue retries them against the real provider.
type FallbackAgent struct {
	primary   Agent
	secondary Agent
	logger    *slog.Logger
}

func NewFallbackAgent(primary, secondary Agent, logger *slog.Logger) *FallbackAgent {
	return &FallbackAgent{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackAgent) ProcessObservation(ctx context.Context, p models.ObservationPayload) (*models.ObservationInput, error) {
	out, err := f.primary.ProcessObservation(ctx, p)
	if err != nil && errors.Is(err, ErrUnavailable) {
		f.logger.Warn("agent provider unavailable, using rules", "tool", p.ToolName, "error", err)
		return f.secondary.ProcessObservation(ctx, p)
	}
	return out, err
}

func (f *FallbackAgent) ProcessSummary(ctx context.Context, p models.SummaryPayload) (*models.SummaryInput, error) {
	out, err := f.primary.ProcessSummary(ctx, p)
	if err != nil && errors.Is(err, ErrUnavailable) {
		f.logger.Warn("agent provider unavailable, using rules for summary", "error", err)
		return f.secondary.ProcessSummary(ctx, p)
	}
	return out, err
}
