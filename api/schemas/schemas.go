package schemas

import (
	"fmt"
	"math"
	"slices"
)

// Kind tags the type of information a Signal carries.
type Kind string

const (
	KindUserQuery          Kind = "user_query"
	KindRefinedQuery       Kind = "refined_query"
	KindRawResult          Kind = "raw_result"
	KindFilteredResult     Kind = "filtered_result"
	KindScrapedContent     Kind = "scraped_content"
	KindExtractedArtifacts Kind = "extracted_artifacts"
	KindEnrichedArtifacts  Kind = "enriched_artifacts"
	KindInsight            Kind = "insight"
	KindSummary            Kind = "summary"
	KindBlockchainAnalysis Kind = "blockchain_analysis"
	KindPasteContent       Kind = "paste_content"
)

// AgentKind is the capability tag of an agent.
type AgentKind string

const (
	AgentRefiner      AgentKind = "refiner"
	AgentCrawler      AgentKind = "crawler"
	AgentFilter       AgentKind = "filter"
	AgentScraper      AgentKind = "scraper"
	AgentExtractor    AgentKind = "extractor"
	AgentEnricher     AgentKind = "enricher"
	AgentAnalyst      AgentKind = "analyst"
	AgentBlockchain   AgentKind = "blockchain_analyst"
	AgentPasteMonitor AgentKind = "paste_monitor"
)

// Signal is a unit of shared information in the field.
//
// Signals are values. The field hands out copies, so a Signal obtained from a
// view can be kept without locking. ReinforcedBy is sorted and must not be
// modified by readers.
type Signal struct {
	// ID is the content fingerprint over Kind and the payload identity.
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"-"`

	Intensity  float64 `json:"intensity"`
	Confidence float64 `json:"confidence"`
	// TTL is the number of ticks left before forced expiry.
	TTL int64 `json:"ttl"`

	EmitterID          string   `json:"emitter_id"`
	ReinforcedBy       []string `json:"reinforced_by,omitempty"`
	ReinforcementCount int      `json:"reinforcement_count"`
	Corroborated       bool     `json:"corroborated"`

	CreatedAt     int64 `json:"created_at"`
	LastTouchedAt int64 `json:"last_touched_at"`
}

// Clone returns a deep copy of the signal. Payloads are immutable and shared.
func (s Signal) Clone() Signal {
	s.ReinforcedBy = slices.Clone(s.ReinforcedBy)
	return s
}

// HasEmitter reports whether the agent already contributed to this signal.
func (s Signal) HasEmitter(agentID string) bool {
	if s.EmitterID == agentID {
		return true
	}
	_, found := slices.BinarySearch(s.ReinforcedBy, agentID)
	return found
}

// CheckRanges verifies the numeric invariants of a signal.
func (s Signal) CheckRanges() error {
	if math.IsNaN(s.Intensity) || s.Intensity < 0 || s.Intensity > 1 {
		return fmt.Errorf("intensity %v out of range [0,1]", s.Intensity)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", s.Confidence)
	}
	if s.ReinforcementCount < 0 {
		return fmt.Errorf("negative reinforcement count %d", s.ReinforcementCount)
	}
	return nil
}

// Clamp01 limits v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
