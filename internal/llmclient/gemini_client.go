// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/darkswarm/internal/config"
)

// GeminiClient implements Model on the Google Gen AI SDK.
type GeminiClient struct {
	client *genai.Client
	logger *zap.Logger
	config config.LLMModelConfig
}

// NewGeminiClient initializes the client. A non-empty Endpoint replaces the
// public API base URL.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
	}, nil
}

// Generate sends the prompt and returns the concatenated text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}
	genCfg := c.buildConfig(req)

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, genCfg)
		if err != nil {
			return c.classify(ctx, err)
		}
		if len(resp.Candidates) == 0 {
			if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
				return backoff.Permanent(fmt.Errorf("gemini blocked the prompt (reason: %s)", resp.PromptFeedback.BlockReason))
			}
			return backoff.Permanent(fmt.Errorf("gemini returned no candidates: %w", ErrEmptyResponse))
		}

		candidate := resp.Candidates[0]
		out := resp.Text()
		if strings.TrimSpace(out) == "" {
			switch candidate.FinishReason {
			case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
				return backoff.Permanent(fmt.Errorf("gemini blocked the response (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini returned empty content (reason: %s): %w", candidate.FinishReason, ErrEmptyResponse)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(start))}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount))
		}
		c.logger.Debug("LLM generation complete.", fields...)
		text = out
		return nil
	}

	if err := withRetry(ctx, c.config.MaxRetryTime, c.logger, operation); err != nil {
		return "", err
	}
	return text, nil
}

func (c *GeminiClient) buildConfig(req Request) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(c.config.Temperature),
		SafetySettings: c.safetySettings(),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if c.config.TopP > 0 {
		gc.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		gc.TopK = genai.Ptr(float32(c.config.TopK))
	}
	maxTokens := c.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	return gc
}

func (c *GeminiClient) safetySettings() []*genai.SafetySetting {
	settings := make([]*genai.SafetySetting, 0, len(c.config.SafetyFilters))
	for category, threshold := range c.config.SafetyFilters {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}
	return settings
}

// classify marks provider errors as transient or permanent.
func (c *GeminiClient) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return c.statusError(apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return c.statusError(apiErrPtr.Code, apiErrPtr.Message, err)
	}
	// Transport failures carry no status and are retried.
	c.logger.Warn("Network error during LLM request.", zap.Error(err))
	return fmt.Errorf("gemini request failed: %w", err)
}

func (c *GeminiClient) statusError(code int, msg string, err error) error {
	wrapped := fmt.Errorf("gemini API error: status %d: %s: %w", code, msg, err)
	if transientStatus(code) {
		return wrapped
	}
	c.logger.Error("Gemini API returned a permanent error.", zap.Int("status", code), zap.String("message", msg))
	return backoff.Permanent(wrapped)
}
