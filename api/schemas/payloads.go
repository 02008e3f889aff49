package schemas

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Payload is the kind-specific content of a signal.
//
// Identity returns the canonical content that two equivalent findings share.
// Provenance fields (which engine, which agent) are excluded so independent
// producers of the same finding collide on the signal ID.
type Payload interface {
	Kind() Kind
	Identity() string
}

// Salient payloads carry their own emission intensity.
type Salient interface {
	Salience() float64
}

// -- Payload types --

type UserQuery struct {
	Query    string  `json:"query"`
	Priority float64 `json:"priority"`
}

func (UserQuery) Kind() Kind         { return KindUserQuery }
func (p UserQuery) Identity() string { return NormalizeText(p.Query) }

type RefinedQuery struct {
	Original string `json:"original"`
	Refined  string `json:"refined"`
}

func (RefinedQuery) Kind() Kind         { return KindRefinedQuery }
func (p RefinedQuery) Identity() string { return NormalizeText(p.Refined) }

type RawResult struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Engine string `json:"engine"`
}

func (RawResult) Kind() Kind         { return KindRawResult }
func (p RawResult) Identity() string { return NormalizeURL(p.URL) }

type FilteredResult struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Relevance float64 `json:"relevance"`
	Reason    string  `json:"reason"`
}

func (FilteredResult) Kind() Kind          { return KindFilteredResult }
func (p FilteredResult) Identity() string  { return NormalizeURL(p.URL) }
func (p FilteredResult) Salience() float64 { return p.Relevance }

type ScrapedContent struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	CharCount int    `json:"char_count"`
}

func (ScrapedContent) Kind() Kind         { return KindScrapedContent }
func (p ScrapedContent) Identity() string { return NormalizeURL(p.URL) }

type ExtractedArtifacts struct {
	SourceURL string     `json:"source_url"`
	Artifacts []Artifact `json:"artifacts"`
}

func (ExtractedArtifacts) Kind() Kind { return KindExtractedArtifacts }
func (p ExtractedArtifacts) Identity() string {
	keys := make([]string, 0, len(p.Artifacts))
	for _, a := range p.Artifacts {
		keys = append(keys, a.Key())
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	return NormalizeURL(p.SourceURL) + "|" + strings.Join(keys, ",")
}

type EnrichedArtifacts struct {
	Artifact Artifact            `json:"artifact"`
	Source   string              `json:"source"`
	Findings []EnrichmentFinding `json:"findings"`
}

func (EnrichedArtifacts) Kind() Kind { return KindEnrichedArtifacts }
func (p EnrichedArtifacts) Identity() string {
	return p.Artifact.Key() + "|" + strings.ToLower(p.Source)
}

type Insight struct {
	Category string   `json:"category"`
	Content  string   `json:"content"`
	Sources  []string `json:"sources,omitempty"`
}

func (Insight) Kind() Kind { return KindInsight }
func (p Insight) Identity() string {
	return strings.ToLower(p.Category) + "|" + NormalizeText(p.Content)
}

type Summary struct {
	Query         string `json:"query"`
	Markdown      string `json:"markdown"`
	ArtifactCount int    `json:"artifact_count"`
	SourceCount   int    `json:"source_count"`
}

func (Summary) Kind() Kind         { return KindSummary }
func (p Summary) Identity() string { return NormalizeText(p.Query) }

type BlockchainAnalysis struct {
	Address  string         `json:"address"`
	Chain    string         `json:"chain"`
	Analysis WalletAnalysis `json:"analysis"`
}

func (BlockchainAnalysis) Kind() Kind { return KindBlockchainAnalysis }
func (p BlockchainAnalysis) Identity() string {
	return strings.ToLower(p.Chain) + "|" + strings.TrimSpace(p.Address)
}

// WalletAnalysis is the activity history of one address. Amounts are in the
// chain's smallest unit and times are Unix seconds.
type WalletAnalysis struct {
	FirstSeen      int64             `json:"first_seen,omitempty"`
	LastSeen       int64             `json:"last_seen,omitempty"`
	TxCount        int               `json:"tx_count"`
	TotalReceived  uint64            `json:"total_received"`
	TotalSent      uint64            `json:"total_sent"`
	Balance        uint64            `json:"balance"`
	Patterns       []TemporalPattern `json:"patterns,omitempty"`
	RiskIndicators []string          `json:"risk_indicators,omitempty"`
}

// TemporalPattern is a timing regularity found in an address's transactions.
type TemporalPattern struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence,omitempty"`
}

type PasteContent struct {
	URL       string `json:"url"`
	Site      string `json:"site"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
	Author    string `json:"author,omitempty"`
}

func (PasteContent) Kind() Kind         { return KindPasteContent }
func (p PasteContent) Identity() string { return NormalizeURL(p.URL) }

// -- Normalization --

// NormalizeText trims, lower-cases and collapses inner whitespace.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeURL lower-cases scheme and host and drops a trailing slash.
// Unparseable input is normalized as text.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

// -- Registry --

// PayloadDecoder rebuilds a payload from its JSON form.
type PayloadDecoder func(raw []byte) (Payload, error)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]PayloadDecoder{}
)

// RegisterKind adds a signal kind to the taxonomy. Registering an existing
// kind replaces its decoder.
func RegisterKind(kind Kind, decode PayloadDecoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = decode
}

// IsRegistered reports whether a decoder exists for the kind.
func IsRegistered(kind Kind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[kind]
	return ok
}

// RegisteredKinds lists every known kind in sorted order.
func RegisteredKinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// DecodePayload rebuilds a payload of the given kind.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	registryMu.RLock()
	decode, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown signal kind %q", kind)
	}
	return decode(raw)
}

// EncodePayload serializes a payload for snapshots.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecoderFor builds a PayloadDecoder for a concrete payload type.
func DecoderFor[T Payload]() PayloadDecoder {
	return func(raw []byte) (Payload, error) {
		var p T
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

func init() {
	RegisterKind(KindUserQuery, DecoderFor[UserQuery]())
	RegisterKind(KindRefinedQuery, DecoderFor[RefinedQuery]())
	RegisterKind(KindRawResult, DecoderFor[RawResult]())
	RegisterKind(KindFilteredResult, DecoderFor[FilteredResult]())
	RegisterKind(KindScrapedContent, DecoderFor[ScrapedContent]())
	RegisterKind(KindExtractedArtifacts, DecoderFor[ExtractedArtifacts]())
	RegisterKind(KindEnrichedArtifacts, DecoderFor[EnrichedArtifacts]())
	RegisterKind(KindInsight, DecoderFor[Insight]())
	RegisterKind(KindSummary, DecoderFor[Summary]())
	RegisterKind(KindBlockchainAnalysis, DecoderFor[BlockchainAnalysis]())
	RegisterKind(KindPasteContent, DecoderFor[PasteContent]())
}
