package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// Extractor pulls artifacts out of scraped pages and pastes.
type Extractor struct {
	Base
	extractor schemas.ArtifactExtractor
	seen      seenSet
}

func NewExtractor(id string, extractor schemas.ArtifactExtractor, threshold float64, logger *zap.Logger) (*Extractor, error) {
	if extractor == nil {
		return nil, errors.New("extractor agent requires an artifact extractor")
	}
	return &Extractor{
		Base:      NewBase(id, schemas.AgentExtractor, threshold, logger, schemas.KindScrapedContent, schemas.KindPasteContent),
		extractor: extractor,
		seen:      make(seenSet),
	}, nil
}

func (e *Extractor) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	var (
		out  []schemas.Payload
		keys []string
	)
	for _, page := range texts(sensed) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := schemas.NormalizeURL(page.url)
		if e.seen.has(key) {
			continue
		}
		keys = append(keys, key)

		artifacts := e.extractor.Extract(page.text, page.url)
		if len(artifacts) == 0 {
			continue
		}
		e.Logger.Debug("Extracted artifacts.", zap.String("url", page.url), zap.Int("count", len(artifacts)))
		out = append(out, schemas.ExtractedArtifacts{SourceURL: page.url, Artifacts: artifacts})
	}
	if len(keys) == 0 {
		return nil, ErrNoWork
	}
	if err := e.seen.commit(ctx, keys); err != nil {
		return nil, err
	}
	return out, nil
}

type sourceText struct{ url, text string }

// texts lists the readable content of sensed pages and pastes in sensed order.
func texts(sensed []schemas.Signal) []sourceText {
	var out []sourceText
	for _, s := range sensed {
		switch p := s.Payload.(type) {
		case schemas.ScrapedContent:
			out = append(out, sourceText{p.URL, p.Text})
		case schemas.PasteContent:
			out = append(out, sourceText{p.URL, p.Content})
		}
	}
	return out
}
