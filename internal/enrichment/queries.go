// Package enrichment looks extracted artifacts up in surface web sources,
// reads wallet histories from block explorers and searches paste sites.
package enrichment

import (
	"fmt"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// DefaultMaxResults bounds findings per artifact per source.
const DefaultMaxResults = 5

// Enrichable reports whether an artifact type is worth an external lookup.
// Onion addresses and URLs are rarely indexed by clearnet sources.
func Enrichable(t schemas.ArtifactType) bool {
	switch t {
	case schemas.ArtifactEmail, schemas.ArtifactUsername, schemas.ArtifactDomain,
		schemas.ArtifactIPv4, schemas.ArtifactIPv6,
		schemas.ArtifactSHA256, schemas.ArtifactSHA1, schemas.ArtifactMD5,
		schemas.ArtifactBitcoin, schemas.ArtifactEthereum:
		return true
	}
	return false
}

// Priority orders artifacts for enrichment. Lower values go first.
func Priority(t schemas.ArtifactType) int {
	switch t {
	case schemas.ArtifactEmail, schemas.ArtifactUsername, schemas.ArtifactDomain,
		schemas.ArtifactIPv4, schemas.ArtifactIPv6:
		return 0
	case schemas.ArtifactSHA256, schemas.ArtifactSHA1, schemas.ArtifactMD5,
		schemas.ArtifactBitcoin, schemas.ArtifactEthereum:
		return 1
	default:
		return 2
	}
}

func githubQuery(a schemas.Artifact) (string, bool) {
	switch a.Type {
	case schemas.ArtifactUsername:
		return fmt.Sprintf("%q OR author:%s", a.Value, a.Value), true
	case schemas.ArtifactEmail, schemas.ArtifactDomain, schemas.ArtifactIPv4, schemas.ArtifactIPv6,
		schemas.ArtifactSHA256, schemas.ArtifactSHA1, schemas.ArtifactMD5,
		schemas.ArtifactBitcoin, schemas.ArtifactEthereum:
		return fmt.Sprintf("%q", a.Value), true
	}
	return "", false
}

func braveQuery(a schemas.Artifact) string {
	var suffix string
	switch a.Type {
	case schemas.ArtifactEmail:
		suffix = " data breach leak"
	case schemas.ArtifactUsername:
		suffix = " hacker forum profile"
	case schemas.ArtifactDomain:
		suffix = " malware infrastructure"
	case schemas.ArtifactIPv4, schemas.ArtifactIPv6:
		suffix = " threat intelligence"
	case schemas.ArtifactSHA256, schemas.ArtifactSHA1, schemas.ArtifactMD5:
		suffix = " malware analysis"
	case schemas.ArtifactBitcoin:
		suffix = " ransomware bitcoin"
	case schemas.ArtifactEthereum:
		suffix = " cryptocurrency scam"
	}
	return fmt.Sprintf("%q", a.Value) + suffix
}
