package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/internal/config"
)

// OpenAIClient implements Model against any OpenAI compatible chat endpoint.
type OpenAIClient struct {
	client *openai.Client
	logger *zap.Logger
	config config.LLMModelConfig
}

// NewOpenAIClient initializes the client. Endpoint selects a compatible
// server such as a local inference host; the key may then be empty.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, fmt.Errorf("openai API key is required when no endpoint is set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.APITimeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		config: cfg,
		logger: logger.Named("llm_client.openai").With(zap.String("model", cfg.Model)),
	}, nil
}

// Generate runs one chat completion with a system and a user message.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: c.config.Temperature,
		TopP:        c.config.TopP,
	}
	maxTokens := c.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		chatReq.MaxTokens = maxTokens
	}

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return c.classify(ctx, err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return backoff.Permanent(fmt.Errorf("openai returned no choices: %w", ErrEmptyResponse))
		}
		c.logger.Debug("LLM generation complete.",
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)))
		text = resp.Choices[0].Message.Content
		return nil
	}

	if err := withRetry(ctx, c.config.MaxRetryTime, c.logger, operation); err != nil {
		return "", err
	}
	return text, nil
}

func (c *OpenAIClient) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return c.statusError(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return c.statusError(reqErr.HTTPStatusCode, err)
	}
	c.logger.Warn("Network error during LLM request.", zap.Error(err))
	return fmt.Errorf("openai request failed: %w", err)
}

func (c *OpenAIClient) statusError(code int, err error) error {
	wrapped := fmt.Errorf("openai API error: status %d: %w", code, err)
	if transientStatus(code) {
		return wrapped
	}
	return backoff.Permanent(wrapped)
}
