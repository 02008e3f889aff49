package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// Refiner turns user queries into search-engine friendly terms.
type Refiner struct {
	Base
	llm     schemas.InferenceClient
	persona schemas.Persona
	seen    seenSet
}

func NewRefiner(id string, llm schemas.InferenceClient, persona schemas.Persona, threshold float64, logger *zap.Logger) (*Refiner, error) {
	if llm == nil {
		return nil, errors.New("refiner requires an inference client")
	}
	return &Refiner{
		Base:    NewBase(id, schemas.AgentRefiner, threshold, logger, schemas.KindUserQuery),
		llm:     llm,
		persona: persona,
		seen:    make(seenSet),
	}, nil
}

func (r *Refiner) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	var (
		out  []schemas.Payload
		keys []string
	)
	for _, q := range payloads[schemas.UserQuery](sensed) {
		key := schemas.NormalizeText(q.Query)
		if key == "" || r.seen.has(key) {
			continue
		}
		resp, err := r.llm.Infer(ctx, r.persona, q.Query)
		if err != nil {
			return nil, fmt.Errorf("refine %q: %w", q.Query, err)
		}
		refined := cleanRefinement(resp)
		if refined == "" {
			refined = strings.TrimSpace(q.Query)
		}
		keys = append(keys, key)
		r.Logger.Info("Refined query.", zap.String("original", q.Query), zap.String("refined", refined))
		out = append(out, schemas.RefinedQuery{Original: q.Query, Refined: refined})
	}
	if len(out) == 0 {
		return nil, ErrNoWork
	}
	if err := r.seen.commit(ctx, keys); err != nil {
		return nil, err
	}
	return out, nil
}

// cleanRefinement keeps the first non-empty line of a model answer without
// quoting or a leading label.
func cleanRefinement(resp string) string {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "\"'`*")
		if i := strings.Index(line, ":"); i >= 0 && strings.EqualFold(strings.TrimSpace(line[:i]), "refined query") {
			line = strings.TrimSpace(line[i+1:])
		}
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			return line
		}
	}
	return ""
}
