// Package agent turns raw session events into structured memory records.
// An Agent is backed either by an LLM provider (OpenAI-compatible or
// Anthropic) or by deterministic rules, and the two can be chained so an
// unreachable provider degrades to rules instead of stalling the queue.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iammorganparry/cmem/internal/models"
)

// Agent produces structured records from queued payloads.
type Agent interface {
	ProcessObservation(ctx context.Context, p models.ObservationPayload) (*models.ObservationInput, error)
	ProcessSummary(ctx context.Context, p models.SummaryPayload) (*models.SummaryInput, error)
}

// Completer is a single-turn text completion against an LLM provider.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}

var (
	// ErrUnavailable marks a provider that could not be reached at all.
	ErrUnavailable = errors.New("agent provider unavailable")

	// ErrNothingToRecord is returned when the agent judged an event not
	// worth storing. The processor confirms the item without a write.
	ErrNothingToRecord = errors.New("nothing to record")
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderRules     = "rules"
)

// Config selects and tunes the agent.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// New builds the configured agent. LLM-backed agents are wrapped with the
// rule-based fallback.
func New(cfg Config, logger *slog.Logger) (Agent, error) {
	rules := NewRuleAgent()

	var completer Completer
	switch cfg.Provider {
	case "", ProviderRules:
		return rules, nil
	case ProviderOpenAI:
		completer = NewOpenAICompleter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an api key: %w", models.ErrValidation)
		}
		completer = NewAnthropicCompleter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown agent provider %q: %w", cfg.Provider, models.ErrValidation)
	}

	llm := NewLLMAgent(completer, LLMOptions{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.Backoff,
	}, logger)
	return NewFallbackAgent(llm, rules, logger), nil
}
