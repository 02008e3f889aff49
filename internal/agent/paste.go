package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// PasteMonitor searches paste sites for every refined query and emits the
// pastes it finds. The extractor reads their content like a scraped page.
type PasteMonitor struct {
	Base
	sites []schemas.PasteSearcher
	seen  seenSet
}

func NewPasteMonitor(id string, sites []schemas.PasteSearcher, threshold float64, logger *zap.Logger) (*PasteMonitor, error) {
	sites = slices.DeleteFunc(slices.Clone(sites), func(s schemas.PasteSearcher) bool { return s == nil })
	if len(sites) == 0 {
		return nil, errors.New("paste monitor requires at least one paste site")
	}
	return &PasteMonitor{
		Base:  NewBase(id, schemas.AgentPasteMonitor, threshold, logger, schemas.KindRefinedQuery),
		sites: sites,
		seen:  make(seenSet),
	}, nil
}

func (p *PasteMonitor) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	var (
		out  []schemas.Payload
		errs []error
		keys []string
	)
	worked := false
	emitted := make(seenSet)
	for _, q := range payloads[schemas.RefinedQuery](sensed) {
		key := schemas.NormalizeText(q.Refined)
		if key == "" || p.seen.has(key) {
			continue
		}
		worked = true
		pastes, err := p.search(ctx, q.Refined)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.Logger.Warn("Paste search failed.", zap.String("query", q.Refined), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		keys = append(keys, key)
		for _, paste := range pastes {
			id := schemas.NormalizeURL(paste.URL)
			if emitted.has(id) {
				continue
			}
			emitted.add(id)
			out = append(out, paste)
		}
		p.Logger.Info("Paste search finished.", zap.String("query", q.Refined), zap.Int("pastes", len(pastes)))
	}
	if !worked {
		return nil, ErrNoWork
	}
	if len(keys) == 0 {
		return nil, errors.Join(errs...)
	}
	if err := p.seen.commit(ctx, keys); err != nil {
		return nil, err
	}
	return out, nil
}

// search asks every site concurrently and keeps site order. It fails only
// when no site answered.
func (p *PasteMonitor) search(ctx context.Context, query string) ([]schemas.PasteContent, error) {
	found := make([][]schemas.PasteContent, len(p.sites))
	failed := make([]error, len(p.sites))
	var g errgroup.Group
	for i, site := range p.sites {
		g.Go(func() error {
			found[i], failed[i] = site.Search(ctx, query)
			if failed[i] != nil {
				p.Logger.Debug("Paste site failed.", zap.String("site", site.Name()), zap.Error(failed[i]))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	answered := 0
	var out []schemas.PasteContent
	for i := range p.sites {
		if failed[i] != nil {
			continue
		}
		answered++
		out = append(out, found[i]...)
	}
	if answered == 0 {
		return nil, fmt.Errorf("all %d paste sites failed for %q: %w", len(p.sites), query, errors.Join(failed...))
	}
	return out, nil
}
