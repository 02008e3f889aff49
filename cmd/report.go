package cmd

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/field"
	"github.com/xkilldash9x/darkswarm/internal/swarm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxReportResults = 10

// runReport is what the investigate command prints.
type runReport struct {
	Query         string                   `json:"query"`
	Status        swarm.Status             `json:"status"`
	Diagnostic    string                   `json:"diagnostic,omitempty"`
	Ticks         int                      `json:"ticks"`
	Elapsed       string                   `json:"elapsed"`
	SnapshotID    string                   `json:"snapshot_id,omitempty"`
	Summary       *schemas.Summary         `json:"summary,omitempty"`
	Insights      []schemas.Insight        `json:"insights,omitempty"`
	TopResults    []schemas.FilteredResult `json:"top_results,omitempty"`
	Stats         field.Stats              `json:"stats"`
	AgentFailures map[string]int           `json:"agent_failures,omitempty"`
}

type renderer func(io.Writer, runReport) error

func rendererFor(format string) (renderer, error) {
	switch strings.ToLower(format) {
	case "", "markdown", "md":
		return renderMarkdown, nil
	case "json":
		return renderJSON, nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// reportFrom builds the report. Without a summary, the strongest insights and
// ranked results left in the field are included instead.
func reportFrom(query string, out swarm.RunOutcome) runReport {
	signals := slices.Clone(out.Snapshot.Signals)
	slices.SortStableFunc(signals, func(a, b schemas.Signal) int { return cmp.Compare(b.Intensity, a.Intensity) })

	r := runReport{
		Query:      query,
		Status:     out.Status,
		Diagnostic: out.Diagnostic,
		Ticks:      out.Ticks,
		Elapsed:    out.Elapsed.Round(time.Millisecond).String(),
		Summary:    out.Summary,
		Stats:      out.Stats,
	}
	if len(out.AgentFailures) > 0 {
		r.AgentFailures = out.AgentFailures
	}
	for _, s := range signals {
		switch p := s.Payload.(type) {
		case schemas.UserQuery:
			if r.Query == "" {
				r.Query = p.Query
			}
		case schemas.Insight:
			if r.Summary == nil {
				r.Insights = append(r.Insights, p)
			}
		case schemas.FilteredResult:
			if r.Summary == nil && len(r.TopResults) < maxReportResults {
				r.TopResults = append(r.TopResults, p)
			}
		}
	}
	return r
}

func renderJSON(w io.Writer, r runReport) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func renderMarkdown(w io.Writer, r runReport) error {
	var b strings.Builder
	if r.Summary != nil {
		b.WriteString(strings.TrimSpace(r.Summary.Markdown))
		b.WriteString("\n\n---\n\n")
		fmt.Fprintf(&b, "_Completed after %d ticks in %s from %d sources and %d artifacts._\n",
			r.Ticks, r.Elapsed, r.Summary.SourceCount, r.Summary.ArtifactCount)
	} else {
		fmt.Fprintf(&b, "# Investigation: %s\n\n", r.Query)
		fmt.Fprintf(&b, "**Status:** %s after %d ticks in %s\n\n", r.Status, r.Ticks, r.Elapsed)
		if r.Diagnostic != "" {
			fmt.Fprintf(&b, "> %s\n\n", r.Diagnostic)
		}
		if len(r.Insights) > 0 {
			b.WriteString("## Partial Findings\n\n")
			for _, in := range r.Insights {
				fmt.Fprintf(&b, "### %s\n\n%s\n\n", in.Category, strings.TrimSpace(in.Content))
			}
		}
		if len(r.TopResults) > 0 {
			b.WriteString("## Top Results\n\n")
			for i, res := range r.TopResults {
				title := res.Title
				if title == "" {
					title = res.URL
				}
				fmt.Fprintf(&b, "%d. [%s](%s) (relevance %.2f)\n", i+1, title, res.URL, res.Relevance)
			}
			b.WriteString("\n")
		}
		writeFieldTable(&b, r.Stats)
	}
	if len(r.AgentFailures) > 0 {
		b.WriteString("\n**Agent failures:** ")
		ids := slices.Sorted(maps.Keys(r.AgentFailures))
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, fmt.Sprintf("%s (%d)", id, r.AgentFailures[id]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	if r.SnapshotID != "" {
		fmt.Fprintf(&b, "\nSnapshot: `%s`\n", r.SnapshotID)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeFieldTable(b *strings.Builder, st field.Stats) {
	if st.Active == 0 {
		return
	}
	b.WriteString("## Field\n\n| Kind | Signals |\n|---|---|\n")
	for _, kind := range slices.Sorted(maps.Keys(st.ByKind)) {
		fmt.Fprintf(b, "| %s | %d |\n", kind, st.ByKind[kind])
	}
	fmt.Fprintf(b, "\n%d signals, %d corroborated, mean intensity %.2f.\n", st.Active, st.Corroborated, st.AvgIntensity)
}
