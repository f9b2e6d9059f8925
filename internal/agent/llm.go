package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/iammorganparry/cmem/internal/models"
)

// LLMOptions tunes calls to the provider.
type LLMOptions struct {
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the first retry delay; it doubles per attempt up to
	// maxBackoff. Zero retries immediately.
	Backoff time.Duration
}

const maxBackoff = 8 * time.Second

// LLMAgent asks a provider for structured records and validates the reply.
type LLMAgent struct {
	completer Completer
	opts      LLMOptions
	logger    *slog.Logger
}

func NewLLMAgent(c Completer, opts LLMOptions, logger *slog.Logger) *LLMAgent {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &LLMAgent{completer: c, opts: opts, logger: logger}
}

func (a *LLMAgent) ProcessObservation(ctx context.Context, p models.ObservationPayload) (*models.ObservationInput, error) {
	text, err := a.complete(ctx, observationSystemPrompt, observationUserPrompt(p))
	if err != nil {
		return nil, err
	}
	return ParseObservation(text)
}

func (a *LLMAgent) ProcessSummary(ctx context.Context, p models.SummaryPayload) (*models.SummaryInput, error) {
	text, err := a.complete(ctx, summarySystemPrompt, summaryUserPrompt(p))
	if err != nil {
		return nil, err
	}
	return ParseSummary(text)
}

// complete calls the provider with a per-attempt timeout, retrying transient
// failures with exponential backoff. Permanent failures return at once.
func (a *LLMAgent) complete(ctx context.Context, system, user string) (string, error) {
	delay := a.opts.Backoff
	var lastErr error
	for attempt := 0; attempt <= a.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			a.logger.Warn("retrying agent call",
				"provider", a.completer.Name(),
				"attempt", attempt,
				"error", lastErr,
			)
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
			delay = min(delay*2, maxBackoff)
		}

		callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		text, err := a.completer.Complete(callCtx, system, user)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = classifyUpstream(a.completer.Name(), err)
		if !errors.Is(lastErr, models.ErrUpstreamTransient) || ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// statusCoder is implemented by provider SDK errors that carry an HTTP status.
type statusCoder interface {
	error
	HTTPStatus() int
}

// classifyUpstream wraps a provider error with the taxonomy sentinel the
// retry loop and the fallback agent act on. Already-classified errors pass
// through.
func classifyUpstream(provider string, err error) error {
	if errors.Is(err, models.ErrUpstreamTransient) || errors.Is(err, models.ErrUpstreamPermanent) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: timeout: %w: %w", provider, models.ErrUpstreamTransient, err)
	}
	if isUnreachable(err) {
		return fmt.Errorf("%s: network: %w: %w: %w", provider, ErrUnavailable, models.ErrUpstreamTransient, err)
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(provider, sc.HTTPStatus(), err)
	}
	return fmt.Errorf("%s: %w: %w", provider, models.ErrUpstreamTransient, err)
}

func classifyStatus(provider string, status int, err error) error {
	switch {
	case status == 429:
		return fmt.Errorf("%s: rate limit (429): %w: %w", provider, models.ErrUpstreamTransient, err)
	case status == 401 || status == 403:
		return fmt.Errorf("%s: auth (%d): %w: %w", provider, status, models.ErrUpstreamPermanent, err)
	case status == 408 || status >= 500:
		return fmt.Errorf("%s: upstream %d: %w: %w", provider, status, models.ErrUpstreamTransient, err)
	default:
		return fmt.Errorf("%s: upstream %d: %w: %w", provider, status, models.ErrUpstreamPermanent, err)
	}
}

// isUnreachable reports connection-level failures: refused dials, DNS
// misses and closed sockets.
func isUnreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

// statusError carries the HTTP status of a provider SDK error.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string   { return e.err.Error() }
func (e *statusError) Unwrap() error   { return e.err }
func (e *statusError) HTTPStatus() int { return e.status }
