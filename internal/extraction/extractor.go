// internal/extraction/extractor.go
package extraction

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// contextRadius is how many bytes either side of a match are kept as context.
const contextRadius = 48

// rule matches one artifact type. Rules run in order and the first rule to
// claim a key wins, so the more specific patterns come first.
type rule struct {
	kind       schemas.ArtifactType
	pattern    *regexp.Regexp
	confidence float64
	// accept filters raw matches. Nil accepts everything.
	accept func(value string, seen map[string]struct{}) bool
}

// Extractor pulls indicators out of text with a fixed set of patterns.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	rules        []rule
	commonDomain []string
}

var _ schemas.ArtifactExtractor = (*Extractor)(nil)

// DefaultCommonDomains are clearnet domains too common to be useful indicators.
var DefaultCommonDomains = []string{
	"google.com", "facebook.com", "twitter.com", "github.com",
	"microsoft.com", "apple.com", "amazon.com", "youtube.com",
	"linkedin.com", "instagram.com", "wikipedia.org", "reddit.com",
}

// New creates an Extractor. Domains ending in any of commonDomains are not
// reported; nil uses DefaultCommonDomains.
func New(commonDomains []string) *Extractor {
	if commonDomains == nil {
		commonDomains = DefaultCommonDomains
	}
	e := &Extractor{commonDomain: make([]string, 0, len(commonDomains))}
	for _, d := range commonDomains {
		e.commonDomain = append(e.commonDomain, strings.ToLower(d))
	}

	e.rules = []rule{
		{kind: schemas.ArtifactOnion, pattern: regexp.MustCompile(`\b[a-z2-7]{16,56}\.onion\b`), confidence: 1.0},
		{kind: schemas.ArtifactURL, pattern: regexp.MustCompile(`https?://[^\s<>"']+`), confidence: 0.9,
			accept: func(v string, _ map[string]struct{}) bool { return len(v) > len("http://")+3 }},
		{kind: schemas.ArtifactBitcoin, pattern: regexp.MustCompile(`\b(?:bc1|[13])[a-zA-HJ-NP-Z0-9]{25,39}\b`), confidence: 0.95},
		{kind: schemas.ArtifactEthereum, pattern: regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`), confidence: 0.95},
		{kind: schemas.ArtifactMonero, pattern: regexp.MustCompile(`\b4[0-9AB][1-9A-HJ-NP-Za-km-z]{93}\b`), confidence: 0.95},
		{kind: schemas.ArtifactSHA256, pattern: regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`), confidence: 0.9},
		{kind: schemas.ArtifactSHA1, pattern: regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`), confidence: 0.85,
			accept: func(v string, seen map[string]struct{}) bool {
				_, dup := seen[string(schemas.ArtifactSHA256)+":"+strings.ToLower(v)]
				return !dup
			}},
		{kind: schemas.ArtifactMD5, pattern: regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`), confidence: 0.8},
		{kind: schemas.ArtifactCVE, pattern: regexp.MustCompile(`\bCVE-\d{4}-\d{4,}\b`), confidence: 1.0},
		{kind: schemas.ArtifactMitreAttack, pattern: regexp.MustCompile(`\b[TS]\d{4}(?:\.\d{3})?\b`), confidence: 0.9},
		{kind: schemas.ArtifactEmail, pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), confidence: 0.95},
		{kind: schemas.ArtifactIPv4, pattern: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`), confidence: 0.85,
			accept: func(v string, _ map[string]struct{}) bool {
				return !strings.HasPrefix(v, "0.") && !strings.HasPrefix(v, "127.0.0.1")
			}},
		{kind: schemas.ArtifactIPv6, pattern: regexp.MustCompile(`(?i)\b[0-9a-f]{0,4}(?::[0-9a-f]{0,4}){2,7}\b`), confidence: 0.8,
			accept: func(v string, _ map[string]struct{}) bool {
				addr, err := netip.ParseAddr(v)
				return err == nil && addr.Is6() && !addr.IsLoopback() && !addr.IsUnspecified()
			}},
		{kind: schemas.ArtifactDomain, pattern: regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`), confidence: 0.7,
			accept: func(v string, _ map[string]struct{}) bool {
				d := strings.ToLower(v)
				return !strings.HasSuffix(d, ".onion") && !e.isCommonDomain(d)
			}},
	}
	return e
}

// Extract returns every artifact found in content, deduplicated by Key, in
// rule order and then order of appearance. source is recorded on each artifact.
func (e *Extractor) Extract(content, source string) []schemas.Artifact {
	if content == "" {
		return nil
	}
	var out []schemas.Artifact
	seen := make(map[string]struct{})

	for _, r := range e.rules {
		for _, loc := range r.pattern.FindAllStringIndex(content, -1) {
			value := content[loc[0]:loc[1]]
			if r.accept != nil && !r.accept(value, seen) {
				continue
			}
			a := schemas.Artifact{
				Type:       r.kind,
				Value:      value,
				Context:    snippet(content, loc[0], loc[1]),
				Confidence: r.confidence,
				Source:     source,
			}
			key := a.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

func (e *Extractor) isCommonDomain(domain string) bool {
	for _, c := range e.commonDomain {
		if domain == c || strings.HasSuffix(domain, "."+c) {
			return true
		}
	}
	return false
}

// snippet returns the text around [start, end) trimmed to whole runes.
func snippet(s string, start, end int) string {
	lo := max(start-contextRadius, 0)
	hi := min(end+contextRadius, len(s))
	for lo > 0 && lo < len(s) && !isRuneStart(s[lo]) {
		lo++
	}
	for hi < len(s) && !isRuneStart(s[hi]) {
		hi--
	}
	return strings.Join(strings.Fields(s[lo:hi]), " ")
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// CountByType tallies artifacts per type.
func CountByType(artifacts []schemas.Artifact) map[schemas.ArtifactType]int {
	counts := make(map[schemas.ArtifactType]int)
	for _, a := range artifacts {
		counts[a.Type]++
	}
	return counts
}
