package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/enrichment"
)

const enrichPerTick = 10

// Enricher looks extracted artifacts up in external sources, most useful
// artifact types first.
type Enricher struct {
	Base
	sources []schemas.Enricher
	seen    seenSet
}

func NewEnricher(id string, sources []schemas.Enricher, threshold float64, logger *zap.Logger) (*Enricher, error) {
	sources = slices.DeleteFunc(slices.Clone(sources), func(s schemas.Enricher) bool { return s == nil })
	if len(sources) == 0 {
		return nil, errors.New("enricher requires at least one source")
	}
	return &Enricher{
		Base:    NewBase(id, schemas.AgentEnricher, threshold, logger, schemas.KindExtractedArtifacts),
		sources: sources,
		seen:    make(seenSet),
	}, nil
}

func (e *Enricher) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	pending := e.pending(sensed)
	if len(pending) == 0 {
		return nil, ErrNoWork
	}

	var (
		out      []schemas.Payload
		failures []error
		keys     []string
	)
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		findings := make([][]schemas.EnrichmentFinding, len(e.sources))
		errs := make([]error, len(e.sources))
		var g errgroup.Group
		for i, src := range e.sources {
			g.Go(func() error {
				findings[i], errs[i] = src.Lookup(ctx, a)
				return nil
			})
		}
		_ = g.Wait()

		answered := false
		for i, src := range e.sources {
			if errs[i] != nil {
				e.Logger.Warn("Enrichment lookup failed.", zap.String("source", src.Name()), zap.String("artifact", a.Key()), zap.Error(errs[i]))
				failures = append(failures, fmt.Errorf("%s %s: %w", src.Name(), a.Key(), errs[i]))
				continue
			}
			answered = true
			if len(findings[i]) == 0 {
				continue
			}
			out = append(out, schemas.EnrichedArtifacts{Artifact: a, Source: src.Name(), Findings: findings[i]})
		}
		// Artifacts no source answered for are retried on a later tick.
		if answered {
			keys = append(keys, a.Key())
		}
	}

	if len(keys) == 0 {
		return nil, errors.Join(failures...)
	}
	if err := e.seen.commit(ctx, keys); err != nil {
		return nil, err
	}
	e.Logger.Info("Enriched artifacts.", zap.Int("artifacts", len(keys)), zap.Int("hits", len(out)), zap.Int("failed_lookups", len(failures)))
	return out, nil
}

// pending returns unseen enrichable artifacts ordered by priority, capped per tick.
func (e *Enricher) pending(sensed []schemas.Signal) []schemas.Artifact {
	queued := make(seenSet)
	var pending []schemas.Artifact
	for _, set := range payloads[schemas.ExtractedArtifacts](sensed) {
		for _, a := range set.Artifacts {
			key := a.Key()
			if !enrichment.Enrichable(a.Type) || e.seen.has(key) || queued.has(key) {
				continue
			}
			queued.add(key)
			pending = append(pending, a)
		}
	}
	slices.SortStableFunc(pending, func(x, y schemas.Artifact) int {
		return enrichment.Priority(x.Type) - enrichment.Priority(y.Type)
	})
	if len(pending) > enrichPerTick {
		pending = pending[:enrichPerTick]
	}
	return pending
}
