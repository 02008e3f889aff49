package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

const (
	filterBatchSize = 50
	filterTopN      = 20
	// relevanceStep is the relevance lost per rank position.
	relevanceStep = 0.03
)

// Filter ranks raw results against the refined query through the model and
// passes on the most relevant ones.
type Filter struct {
	Base
	llm     schemas.InferenceClient
	persona schemas.Persona
	seen    seenSet
}

func NewFilter(id string, llm schemas.InferenceClient, persona schemas.Persona, threshold float64, logger *zap.Logger) (*Filter, error) {
	if llm == nil {
		return nil, errors.New("filter requires an inference client")
	}
	return &Filter{
		Base:    NewBase(id, schemas.AgentFilter, threshold, logger, schemas.KindRefinedQuery, schemas.KindRawResult),
		llm:     llm,
		persona: persona,
		seen:    make(seenSet),
	}, nil
}

func (f *Filter) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	queries := payloads[schemas.RefinedQuery](sensed)
	if len(queries) == 0 {
		return nil, ErrNoWork
	}
	query := queries[0].Refined

	var batch []schemas.RawResult
	for _, r := range payloads[schemas.RawResult](sensed) {
		if f.seen.has(schemas.NormalizeURL(r.URL)) {
			continue
		}
		batch = append(batch, r)
		if len(batch) == filterBatchSize {
			break
		}
	}
	if len(batch) == 0 {
		return nil, ErrNoWork
	}

	resp, err := f.llm.Infer(ctx, f.persona, filterPrompt(query, batch))
	if err != nil {
		return nil, fmt.Errorf("rank %d results: %w", len(batch), err)
	}
	keys := make([]string, len(batch))
	for i, r := range batch {
		keys[i] = schemas.NormalizeURL(r.URL)
	}
	if err := f.seen.commit(ctx, keys); err != nil {
		return nil, err
	}

	selected := parseIndices(resp, len(batch), filterTopN)
	f.Logger.Info("Filtered results.", zap.Int("candidates", len(batch)), zap.Int("selected", len(selected)))

	out := make([]schemas.Payload, 0, len(selected))
	for rank, idx := range selected {
		r := batch[idx-1]
		out = append(out, schemas.FilteredResult{
			URL:       r.URL,
			Title:     r.Title,
			Relevance: 1 - float64(rank)*relevanceStep,
			Reason:    fmt.Sprintf("Ranked #%d by relevance filter", rank+1),
		})
	}
	return out, nil
}

func filterPrompt(query string, batch []schemas.RawResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search Query: %s\n\nSearch Results:\n", query)
	for i, r := range batch {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, shortOnion(r.URL), r.Title)
	}
	return b.String()
}

// shortOnion cuts a link after its .onion host.
func shortOnion(u string) string {
	if i := strings.Index(u, ".onion"); i >= 0 {
		return u[:i+len(".onion")]
	}
	return u
}

// parseIndices reads the 1-based indices out of a ranking answer in order,
// dropping out-of-range and repeated values, and keeps at most limit.
func parseIndices(resp string, n, limit int) []int {
	fields := strings.FieldsFunc(resp, func(r rune) bool { return !unicode.IsDigit(r) })
	seen := make(map[int]struct{}, len(fields))
	var out []int
	for _, f := range fields {
		idx, err := strconv.Atoi(f)
		if err != nil || idx < 1 || idx > n {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
		if len(out) == limit {
			break
		}
	}
	return out
}
