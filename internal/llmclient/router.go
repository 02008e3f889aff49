package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// Router implements schemas.InferenceClient by dispatching each persona to
// the model of its tier.
type Router struct {
	logger *zap.Logger
	models map[schemas.ModelTier]Model
}

var _ schemas.InferenceClient = (*Router)(nil)

// NewRouter creates a router with one model per tier.
func NewRouter(logger *zap.Logger, fast, powerful Model) (*Router, error) {
	if fast == nil || powerful == nil {
		return nil, fmt.Errorf("both fast and powerful tier models must be provided")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		logger: logger.Named("llm_router"),
		models: map[schemas.ModelTier]Model{
			schemas.TierFast:     fast,
			schemas.TierPowerful: powerful,
		},
	}, nil
}

// Infer runs prompt under the persona's system prompt. Personas without a
// tier use the fast model.
func (r *Router) Infer(ctx context.Context, persona schemas.Persona, prompt string) (string, error) {
	tier := persona.Tier
	if tier == "" {
		tier = schemas.TierFast
	}
	model, ok := r.models[tier]
	if !ok {
		return "", fmt.Errorf("no LLM model configured for tier: %s", tier)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)), zap.String("persona", persona.ID))
	return model.Generate(ctx, Request{
		SystemPrompt: persona.SystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    persona.MaxTokens,
	})
}
