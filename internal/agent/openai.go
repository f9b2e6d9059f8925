package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/iammorganparry/cmem/internal/models"
)

// OpenAICompleter talks to the OpenAI chat completions API or any
// compatible server (Ollama's /v1, vLLM, LM Studio) via BaseURL.
type OpenAICompleter struct {
	client    openai.Client
	model     string
	maxTokens int
}

func NewOpenAICompleter(apiKey, baseURL, model string, maxTokens int) *OpenAICompleter {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		// Local OpenAI-compatible servers ignore the key but the SDK wants one.
		opts = append(opts, option.WithAPIKey("unused"))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompleter{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *OpenAICompleter) Name() string { return ProviderOpenAI }

func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &statusError{status: apiErr.StatusCode, err: err}
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no response choices: %w", models.ErrUpstreamTransient)
	}
	return resp.Choices[0].Message.Content, nil
}
