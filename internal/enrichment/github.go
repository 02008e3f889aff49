package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// GitHubConfig configures code search lookups.
type GitHubConfig struct {
	Token      string
	MaxResults int
	// RequestsPerMinute defaults to the unauthenticated search limit.
	RequestsPerMinute int
	// BaseURL overrides the API endpoint, for GitHub Enterprise or tests.
	BaseURL string
}

// GitHub searches public code for mentions of an artifact.
type GitHub struct {
	client     *github.Client
	limiter    *rate.Limiter
	maxResults int
	logger     *zap.Logger
}

var _ schemas.Enricher = (*GitHub)(nil)

// NewGitHub creates a GitHub enricher. httpClient may be nil.
func NewGitHub(cfg GitHubConfig, httpClient *http.Client, logger *zap.Logger) (*GitHub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 10
		if cfg.Token != "" {
			cfg.RequestsPerMinute = 30
		}
	}
	return &GitHub{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1),
		maxResults: cfg.MaxResults,
		logger:     logger.Named("github"),
	}, nil
}

func (g *GitHub) Name() string { return "github" }

// Lookup runs a code search for the artifact value. Unsupported artifact
// types return no findings.
func (g *GitHub) Lookup(ctx context.Context, artifact schemas.Artifact) ([]schemas.EnrichmentFinding, error) {
	query, ok := githubQuery(artifact)
	if !ok {
		return nil, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	opts := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: g.maxResults}}
	result, _, err := g.client.Search.Code(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("github code search: %w", err)
	}

	findings := make([]schemas.EnrichmentFinding, 0, min(len(result.CodeResults), g.maxResults))
	for _, item := range result.CodeResults {
		if len(findings) == g.maxResults {
			break
		}
		repo := item.GetRepository()
		findings = append(findings, schemas.EnrichmentFinding{
			Type:      "github_code",
			Title:     repo.GetFullName() + "/" + item.GetName(),
			URL:       item.GetHTMLURL(),
			Snippet:   fmt.Sprintf("Found in %s (%s)", item.GetPath(), repo.GetDescription()),
			Relevance: 0.8,
		})
	}
	g.logger.Debug("Code search complete.",
		zap.String("artifact_type", string(artifact.Type)),
		zap.Int("findings", len(findings)))
	return findings, nil
}
