package schemas

import "strings"

// ArtifactType classifies an indicator pulled out of scraped content.
type ArtifactType string

const (
	ArtifactIPv4        ArtifactType = "ipv4"
	ArtifactIPv6        ArtifactType = "ipv6"
	ArtifactDomain      ArtifactType = "domain"
	ArtifactOnion       ArtifactType = "onion"
	ArtifactEmail       ArtifactType = "email"
	ArtifactMD5         ArtifactType = "md5"
	ArtifactSHA1        ArtifactType = "sha1"
	ArtifactSHA256      ArtifactType = "sha256"
	ArtifactBitcoin     ArtifactType = "bitcoin"
	ArtifactEthereum    ArtifactType = "ethereum"
	ArtifactMonero      ArtifactType = "monero"
	ArtifactCVE         ArtifactType = "cve"
	ArtifactMitreAttack ArtifactType = "mitre_attack"
	ArtifactURL         ArtifactType = "url"
	ArtifactUsername    ArtifactType = "username"
)

// Artifact is a single indicator of compromise or intelligence item.
type Artifact struct {
	Type       ArtifactType `json:"type"`
	Value      string       `json:"value"`
	Context    string       `json:"context,omitempty"`
	Confidence float64      `json:"confidence"`
	Source     string       `json:"source,omitempty"`
}

// Key identifies an artifact independent of where it was seen.
func (a Artifact) Key() string {
	return string(a.Type) + ":" + strings.ToLower(a.Value)
}

// EnrichmentFinding is one hit returned by an external lookup.
type EnrichmentFinding struct {
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Snippet   string  `json:"snippet,omitempty"`
	Relevance float64 `json:"relevance"`
}
