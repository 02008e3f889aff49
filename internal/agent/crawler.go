package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/discovery"
)

const defaultEngineParallelism = 4

// Crawler queries its share of the search engines for every refined query
// and emits the result links.
type Crawler struct {
	Base
	retriever   schemas.Retriever
	engines     []discovery.Engine
	parallelism int
	seen        seenSet
}

func NewCrawler(id string, retriever schemas.Retriever, engines []discovery.Engine, threshold float64, logger *zap.Logger) (*Crawler, error) {
	if retriever == nil {
		return nil, errors.New("crawler requires a retriever")
	}
	if len(engines) == 0 {
		return nil, errors.New("crawler requires at least one search engine")
	}
	return &Crawler{
		Base:        NewBase(id, schemas.AgentCrawler, threshold, logger, schemas.KindRefinedQuery),
		retriever:   retriever,
		engines:     engines,
		parallelism: defaultEngineParallelism,
		seen:        make(seenSet),
	}, nil
}

// Engines returns the engines assigned to this crawler.
func (c *Crawler) Engines() []discovery.Engine { return c.engines }

func (c *Crawler) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	var (
		out  []schemas.Payload
		errs []error
		keys []string
	)
	worked := false
	for _, q := range payloads[schemas.RefinedQuery](sensed) {
		key := schemas.NormalizeText(q.Refined)
		if key == "" || c.seen.has(key) {
			continue
		}
		worked = true
		results, err := c.crawl(ctx, q.Refined)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.Logger.Warn("Crawl failed.", zap.String("query", q.Refined), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		keys = append(keys, key)
		c.Logger.Info("Crawl finished.", zap.String("query", q.Refined), zap.Int("results", len(results)))
		out = append(out, results...)
	}
	if !worked {
		return nil, ErrNoWork
	}
	// Failed queries stay unseen and are crawled again next tick.
	if len(keys) == 0 {
		return nil, errors.Join(errs...)
	}
	if err := c.seen.commit(ctx, keys); err != nil {
		return nil, err
	}
	return out, nil
}

// crawl searches every engine concurrently and merges the links in engine
// order, dropping duplicates. It fails only when no engine answered.
func (c *Crawler) crawl(ctx context.Context, query string) ([]schemas.Payload, error) {
	perEngine := make([][]discovery.Link, len(c.engines))
	failed := make([]error, len(c.engines))

	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for i, engine := range c.engines {
		g.Go(func() error {
			doc, err := c.retriever.Fetch(ctx, engine.SearchURL(query))
			if err != nil {
				c.Logger.Debug("Search engine failed.", zap.String("engine", engine.Name), zap.Error(err))
				failed[i] = err
				return nil
			}
			perEngine[i] = discovery.ParseResults(doc.Body, engine.Host())
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	answered := 0
	seen := make(seenSet)
	var out []schemas.Payload
	for i, links := range perEngine {
		if failed[i] != nil {
			continue
		}
		answered++
		for _, l := range links {
			key := schemas.NormalizeURL(l.URL)
			if seen.has(key) {
				continue
			}
			seen.add(key)
			out = append(out, schemas.RawResult{URL: l.URL, Title: l.Title, Engine: c.engines[i].Name})
		}
	}
	if answered == 0 {
		return nil, fmt.Errorf("all %d search engines failed for %q: %w", len(c.engines), query, errors.Join(failed...))
	}
	return out, nil
}
