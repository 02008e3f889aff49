package schemas

import (
	"context"
	"time"
)

// -- Collaborator Interfaces --

// ModelTier selects a class of model for an inference call.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// Persona configures the role an inference call plays.
type Persona struct {
	ID           string    `yaml:"id" json:"id"`
	Name         string    `yaml:"name" json:"name"`
	Category     string    `yaml:"category" json:"category"`
	Role         string    `yaml:"role,omitempty" json:"role,omitempty"`
	Enabled      bool      `yaml:"enabled" json:"enabled"`
	Tier         ModelTier `yaml:"tier,omitempty" json:"tier,omitempty"`
	Domains      []string  `yaml:"domains,omitempty" json:"domains,omitempty"`
	ArtifactKind []string  `yaml:"artifact_types,omitempty" json:"artifact_types,omitempty"`
	SystemPrompt string    `yaml:"system" json:"system"`
	MaxTokens    int       `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// InferenceClient turns a persona and a prompt into generated text.
type InferenceClient interface {
	Infer(ctx context.Context, persona Persona, prompt string) (string, error)
}

// Document is a fetched resource.
type Document struct {
	Address     string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// Retriever fetches a resource by address, usually through an anonymizing proxy.
type Retriever interface {
	Fetch(ctx context.Context, address string) (*Document, error)
}

// ArtifactExtractor pulls indicators out of text content.
type ArtifactExtractor interface {
	Extract(content, source string) []Artifact
}

// Enricher looks an artifact up in an external source.
type Enricher interface {
	Name() string
	Lookup(ctx context.Context, artifact Artifact) ([]EnrichmentFinding, error)
}

// WalletAnalyzer reads the public transaction history of an address.
type WalletAnalyzer interface {
	// Supports reports whether the analyzer can read addresses of this type.
	Supports(t ArtifactType) bool
	Analyze(ctx context.Context, artifact Artifact) (BlockchainAnalysis, error)
}

// PasteSearcher finds pastes on one paste site.
type PasteSearcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]PasteContent, error)
}

// SnapshotStore persists encoded field snapshots between runs.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, id string, blob []byte) error
	LoadSnapshot(ctx context.Context, id string) ([]byte, error)
	Close() error
}
