package llmclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/darkswarm/internal/config"
)

const chatCompletion = `{
  "id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "test-model",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "example.onion looks relevant"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func TestOpenAIClient_Generate(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletion)
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(getValidLLMConfig(config.ProviderOpenAI, srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), Request{SystemPrompt: "sys", UserPrompt: "user", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "example.onion looks relevant", out)
	assert.Contains(t, body, `"role":"system"`)
	assert.Contains(t, body, `"content":"user"`)
	assert.Contains(t, body, `"max_tokens":64`)
	assert.Contains(t, body, `"model":"test-model"`)
}

func TestOpenAIClient_PermanentErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	cfg := getValidLLMConfig(config.ProviderOpenAI, srv.URL)
	cfg.MaxRetryTime = 10 * time.Second
	client, err := NewOpenAIClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}
		_, _ = io.WriteString(w, chatCompletion)
	}))
	defer srv.Close()

	cfg := getValidLLMConfig(config.ProviderOpenAI, srv.URL)
	cfg.MaxRetryTime = 10 * time.Second
	client, err := NewOpenAIClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), Request{UserPrompt: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClient_RequiresKeyOrEndpoint(t *testing.T) {
	cfg := getValidLLMConfig(config.ProviderOpenAI, "")
	cfg.APIKey = ""
	_, err := NewOpenAIClient(cfg, nil)
	assert.Error(t, err)

	cfg.Endpoint = "http://localhost:11434/v1"
	_, err = NewOpenAIClient(cfg, nil)
	assert.NoError(t, err)
}

func TestGeminiClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/test-model:generateContent"), r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(b), "analyze this")
		assert.Contains(t, string(b), "systemInstruction")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "finding one"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
}`)
	}))
	defer srv.Close()

	client, err := NewGeminiClient(context.Background(), getValidLLMConfig(config.ProviderGemini, srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), Request{SystemPrompt: "be terse", UserPrompt: "analyze this"})
	require.NoError(t, err)
	assert.Equal(t, "finding one", out)
}

func TestGeminiClient_BadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"bad prompt","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	cfg := getValidLLMConfig(config.ProviderGemini, srv.URL)
	cfg.MaxRetryTime = 10 * time.Second
	client, err := NewGeminiClient(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiClient_RequiresKeyAndModel(t *testing.T) {
	cfg := getValidLLMConfig(config.ProviderGemini, "")
	cfg.APIKey = ""
	_, err := NewGeminiClient(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = getValidLLMConfig(config.ProviderGemini, "")
	cfg.Model = ""
	_, err = NewGeminiClient(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestWithRetry_SingleAttemptUnwrapsPermanent(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := withRetry(context.Background(), 0, zaptest.NewLogger(t), func() error {
		calls++
		return backoff.Permanent(boom)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, boom)
	var perm *backoff.PermanentError
	assert.False(t, errors.As(err, &perm))
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, transientStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, transientStatus(code), code)
	}
}

func TestNewModel_Providers(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	m, err := NewModel(ctx, getValidLLMConfig(config.ProviderGemini, "http://127.0.0.1:1"), logger)
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, m)

	m, err = NewModel(ctx, getValidLLMConfig(config.ProviderOpenAI, "http://127.0.0.1:1"), logger)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, m)

	_, err = NewModel(ctx, getValidLLMConfig("anthropic-local", ""), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown or unsupported LLM provider")
}

func TestNewRouterFromConfig_SharedKey(t *testing.T) {
	fast := getValidLLMConfig(config.ProviderOpenAI, "http://127.0.0.1:1")
	powerful := getValidLLMConfig(config.ProviderGemini, "http://127.0.0.1:1")
	powerful.APIKey = ""

	router, err := NewRouterFromConfig(context.Background(), config.LLMConfig{APIKey: "shared", Fast: fast, Powerful: powerful}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, router)

	_, err = NewRouterFromConfig(context.Background(), config.LLMConfig{Fast: fast, Powerful: powerful}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
