// internal/llmclient/model.go
package llmclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("model returned no content")

// Request is a single prompt to one model.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	// MaxTokens overrides the model default when positive.
	MaxTokens int
}

// Model generates text for a request. Implementations retry transient
// provider failures internally.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// withRetry runs op with exponential backoff until it succeeds, returns a
// permanent error, ctx ends, or maxElapsed passes. Zero maxElapsed means one attempt.
func withRetry(ctx context.Context, maxElapsed time.Duration, logger *zap.Logger, op func() error) error {
	if maxElapsed <= 0 {
		err := op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxElapsed

	notify := func(err error, wait time.Duration) {
		logger.Warn("Transient LLM error, retrying.", zap.Error(err), zap.Duration("wait", wait))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// transientStatus reports whether an HTTP status from a provider is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
