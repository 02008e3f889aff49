package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/darkswarm/internal/config"
)

// MockModel is a testify mock of Model.
type MockModel struct {
	mock.Mock
	Name string
}

func (m *MockModel) Generate(ctx context.Context, req Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

func getValidLLMConfig(provider config.LLMProvider, endpoint string) config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    provider,
		APIKey:      "test-api-key",
		Model:       "test-model",
		Endpoint:    endpoint,
		APITimeout:  5 * time.Second,
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        50,
		MaxTokens:   256,
	}
}
