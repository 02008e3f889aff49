package agent

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/discovery"
)

const (
	// MaxContentChars caps the text kept per page.
	MaxContentChars = 4000
	truncatedMarker = "...(truncated)"
	scrapeBatchSize = 3
	minPageChars    = 40
)

// Shard assigns a scraper a disjoint slice of the URL space.
type Shard struct {
	Index int
	Count int
}

func (s Shard) owns(url string) bool {
	if s.Count <= 1 {
		return true
	}
	return int(xxhash.Sum64String(schemas.NormalizeURL(url))%uint64(s.Count)) == s.Index
}

// Scraper fetches filtered results and emits their readable text.
type Scraper struct {
	Base
	retriever schemas.Retriever
	shard     Shard
	seen      seenSet
}

func NewScraper(id string, retriever schemas.Retriever, shard Shard, threshold float64, logger *zap.Logger) (*Scraper, error) {
	if retriever == nil {
		return nil, errors.New("scraper requires a retriever")
	}
	if shard.Count > 1 && (shard.Index < 0 || shard.Index >= shard.Count) {
		return nil, errors.New("scraper shard index out of range")
	}
	return &Scraper{
		Base:      NewBase(id, schemas.AgentScraper, threshold, logger, schemas.KindFilteredResult),
		retriever: retriever,
		shard:     shard,
		seen:      make(seenSet),
	}, nil
}

func (s *Scraper) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	var batch []schemas.FilteredResult
	for _, r := range payloads[schemas.FilteredResult](sensed) {
		key := schemas.NormalizeURL(r.URL)
		if s.seen.has(key) || !s.shard.owns(r.URL) {
			continue
		}
		batch = append(batch, r)
		if len(batch) == scrapeBatchSize {
			break
		}
	}
	if len(batch) == 0 {
		return nil, ErrNoWork
	}

	pages := make([]*schemas.ScrapedContent, len(batch))
	var g errgroup.Group
	for i, r := range batch {
		g.Go(func() error {
			pages[i] = s.scrape(ctx, r)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []schemas.Payload
	for i, r := range batch {
		s.seen.add(schemas.NormalizeURL(r.URL))
		if pages[i] != nil {
			out = append(out, *pages[i])
		}
	}
	s.Logger.Info("Scraped pages.", zap.Int("attempted", len(batch)), zap.Int("kept", len(out)))
	return out, nil
}

// scrape returns nil for pages that failed or carry too little text.
func (s *Scraper) scrape(ctx context.Context, r schemas.FilteredResult) *schemas.ScrapedContent {
	doc, err := s.retriever.Fetch(ctx, r.URL)
	if err != nil {
		s.Logger.Debug("Fetch failed.", zap.String("url", r.URL), zap.Error(err))
		return nil
	}
	page := discovery.ExtractPage(doc.Body)
	if len(page.Text) < minPageChars {
		return nil
	}
	chars := utf8.RuneCountInString(page.Text)
	text, cut := discovery.Truncate(page.Text, MaxContentChars)
	if cut {
		text += truncatedMarker
	}
	title := page.Title
	if title == "" {
		title = r.Title
	}
	return &schemas.ScrapedContent{URL: r.URL, Title: title, Text: text, CharCount: chars}
}
