package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/discovery"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

const (
	analystMaxSources   = 10
	analystSourceChars  = 1500
	analystMaxArtifacts = 50
	analystMaxFindings  = 30
	leadContextChars    = 4000
	unknownQuery        = "Unknown query"
)

// AnalystConfig selects how the analyst writes its summary.
type AnalystConfig struct {
	// MinContent is the number of scraped pages to wait for.
	MinContent int
	// Single is the persona used without specialists.
	Single schemas.Persona
	// Specialists, when non-empty together with Lead, replaces the single
	// persona with a parallel specialist pass and a synthesis by Lead.
	Specialists []schemas.Persona
	Lead        *schemas.Persona
}

// Analyst waits for enough material and writes the investigation summary.
// It stops once a summary is in the field.
type Analyst struct {
	Base
	llm schemas.InferenceClient
	cfg AnalystConfig
	// query is remembered because the seed decays long before content arrives.
	query string
}

func NewAnalyst(id string, llm schemas.InferenceClient, cfg AnalystConfig, threshold float64, logger *zap.Logger) (*Analyst, error) {
	if llm == nil {
		return nil, errors.New("analyst requires an inference client")
	}
	cfg.MinContent = max(cfg.MinContent, 1)
	return &Analyst{
		Base: NewBase(id, schemas.AgentAnalyst, threshold, logger,
			schemas.KindUserQuery, schemas.KindRefinedQuery,
			schemas.KindScrapedContent, schemas.KindExtractedArtifacts, schemas.KindEnrichedArtifacts,
			schemas.KindBlockchainAnalysis, schemas.KindPasteContent),
		llm: llm,
		cfg: cfg,
	}, nil
}

func (a *Analyst) specialistMode() bool {
	return len(a.cfg.Specialists) > 0 && a.cfg.Lead != nil
}

// Sense returns nothing once the view holds a summary, whoever wrote it.
func (a *Analyst) Sense(view field.Reader) []schemas.Signal {
	if view == nil {
		return nil
	}
	for range view.Query(field.OfKind(schemas.KindSummary)) {
		return nil
	}
	return a.Base.Sense(view)
}

// material is what the analyst reasons over.
type material struct {
	query     string
	pages     []schemas.ScrapedContent
	artifacts []schemas.Artifact
	enriched  []schemas.EnrichedArtifacts
	wallets   []schemas.BlockchainAnalysis
	pastes    []schemas.PasteContent
}

func (a *Analyst) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	m := gather(sensed)
	if m.query != unknownQuery {
		a.query = m.query
	} else if a.query != "" {
		m.query = a.query
	}
	if len(m.pages) < a.cfg.MinContent {
		a.Logger.Debug("Waiting for more content.", zap.Int("have", len(m.pages)), zap.Int("want", a.cfg.MinContent))
		return nil, ErrNoWork
	}

	input := m.render()
	var (
		markdown string
		out      []schemas.Payload
		err      error
	)
	if a.specialistMode() {
		var insights []schemas.Payload
		markdown, insights, err = a.specialistSummary(ctx, m, input)
		out = append(out, insights...)
	} else {
		markdown, err = a.llm.Infer(ctx, a.cfg.Single, fmt.Sprintf("Input Query: %s\n\n%s", m.query, input))
	}
	if err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}

	a.Logger.Info("Summary written.", zap.Int("sources", len(m.pages)), zap.Int("artifacts", len(m.artifacts)))
	out = append(out, schemas.Summary{
		Query:         m.query,
		Markdown:      strings.TrimSpace(markdown),
		ArtifactCount: len(m.artifacts),
		SourceCount:   len(m.pages),
	})
	return out, nil
}

// specialistSummary runs every specialist over the same material and has the
// lead merge their reports. Failed specialists are skipped.
func (a *Analyst) specialistSummary(ctx context.Context, m material, input string) (string, []schemas.Payload, error) {
	reports := make([]string, len(a.cfg.Specialists))
	prompt := fmt.Sprintf("Original Query: %s\n\n%s", m.query, input)

	var g errgroup.Group
	for i, p := range a.cfg.Specialists {
		g.Go(func() error {
			resp, err := a.llm.Infer(ctx, p, prompt)
			if err != nil {
				a.Logger.Warn("Specialist failed.", zap.String("persona", p.ID), zap.Error(err))
				return nil
			}
			reports[i] = strings.TrimSpace(resp)
			return nil
		})
	}
	_ = g.Wait()

	sources := m.sourceURLs()
	var (
		insights []schemas.Payload
		sections []string
	)
	for i, p := range a.cfg.Specialists {
		if reports[i] == "" {
			continue
		}
		insights = append(insights, schemas.Insight{Category: p.ID, Content: reports[i], Sources: sources})
		sections = append(sections, fmt.Sprintf("### %s Report\n%s\n", p.Name, reports[i]))
	}
	if len(sections) == 0 {
		return "", nil, fmt.Errorf("all %d specialists failed", len(a.cfg.Specialists))
	}

	excerpt, _ := discovery.Truncate(m.renderPages(), leadContextChars)
	leadPrompt := fmt.Sprintf("# Investigation Context\n\n## Original Query\n%s\n\n## Raw Content Summary\n%s\n\n## Extracted Artifacts\n%s\n\n# Specialist Analyst Reports\n\n%s",
		m.query, excerpt, m.renderArtifacts(), strings.Join(sections, "\n---\n\n"))

	summary, err := a.llm.Infer(ctx, *a.cfg.Lead, leadPrompt)
	if err != nil {
		return "", insights, err
	}
	return summary, insights, nil
}

func gather(sensed []schemas.Signal) material {
	m := material{query: unknownQuery}
	if qs := payloads[schemas.UserQuery](sensed); len(qs) > 0 {
		m.query = qs[0].Query
	} else if rs := payloads[schemas.RefinedQuery](sensed); len(rs) > 0 {
		m.query = rs[0].Original
	}
	m.pages = payloads[schemas.ScrapedContent](sensed)
	m.enriched = payloads[schemas.EnrichedArtifacts](sensed)
	m.wallets = payloads[schemas.BlockchainAnalysis](sensed)
	m.pastes = payloads[schemas.PasteContent](sensed)

	seen := make(seenSet)
	for _, set := range payloads[schemas.ExtractedArtifacts](sensed) {
		for _, art := range set.Artifacts {
			if seen.has(art.Key()) {
				continue
			}
			seen.add(art.Key())
			m.artifacts = append(m.artifacts, art)
		}
	}
	return m
}

func (m material) sourceURLs() []string {
	n := min(len(m.pages), analystMaxSources)
	urls := make([]string, 0, n)
	for _, p := range m.pages[:n] {
		urls = append(urls, p.URL)
	}
	return urls
}

func (m material) render() string {
	var b strings.Builder
	b.WriteString("## Scraped Content\n\n")
	b.WriteString(m.renderPages())
	b.WriteString("## Extracted Artifacts\n\n")
	b.WriteString(m.renderArtifacts())
	if len(m.enriched) > 0 {
		b.WriteString("\n## Enrichment Findings\n\n")
		b.WriteString(m.renderFindings())
	}
	if len(m.wallets) > 0 {
		b.WriteString("\n## Wallet Analysis\n\n")
		b.WriteString(m.renderWallets())
	}
	if len(m.pastes) > 0 {
		b.WriteString("\n## Paste Sites\n\n")
		b.WriteString(m.renderPastes())
	}
	return b.String()
}

func (m material) renderPages() string {
	var b strings.Builder
	for _, p := range m.pages[:min(len(m.pages), analystMaxSources)] {
		text, cut := discovery.Truncate(p.Text, analystSourceChars)
		if cut {
			text += "..."
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", p.URL, text)
	}
	return b.String()
}

func (m material) renderArtifacts() string {
	var b strings.Builder
	for _, art := range m.artifacts[:min(len(m.artifacts), analystMaxArtifacts)] {
		fmt.Fprintf(&b, "- %s: %s (confidence: %.2f)\n", art.Type, art.Value, art.Confidence)
	}
	return b.String()
}

func (m material) renderFindings() string {
	var b strings.Builder
	written := 0
	for _, e := range m.enriched {
		for _, f := range e.Findings {
			if written == analystMaxFindings {
				return b.String()
			}
			fmt.Fprintf(&b, "- %s [%s]: %s (%s)\n", e.Artifact.Value, e.Source, f.Title, f.URL)
			written++
		}
	}
	return b.String()
}

func (m material) renderWallets() string {
	var b strings.Builder
	for _, w := range m.wallets {
		a := w.Analysis
		fmt.Fprintf(&b, "### %s %s\n- transactions: %d, received: %d, sent: %d, balance: %d\n", w.Chain, w.Address, a.TxCount, a.TotalReceived, a.TotalSent, a.Balance)
		if a.FirstSeen > 0 {
			fmt.Fprintf(&b, "- active: %s to %s\n", time.Unix(a.FirstSeen, 0).UTC().Format(time.DateOnly), time.Unix(a.LastSeen, 0).UTC().Format(time.DateOnly))
		}
		for _, p := range a.Patterns {
			fmt.Fprintf(&b, "- pattern %s: %s (confidence %.2f)\n", p.Type, p.Description, p.Confidence)
		}
		for _, r := range a.RiskIndicators {
			fmt.Fprintf(&b, "- risk: %s\n", r)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (m material) renderPastes() string {
	var b strings.Builder
	for _, p := range m.pastes[:min(len(m.pastes), analystMaxSources)] {
		text, cut := discovery.Truncate(p.Content, analystSourceChars)
		if cut {
			text += "..."
		}
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", p.URL, p.Site, text)
	}
	return b.String()
}
