package enrichment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBraveEndpoint is the Brave web search API.
const DefaultBraveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// ErrMissingAPIKey is returned when a source needs a key that was not configured.
var ErrMissingAPIKey = errors.New("api key is required")

// BraveConfig configures Brave web search lookups.
type BraveConfig struct {
	APIKey            string
	MaxResults        int
	RequestsPerSecond float64
	Endpoint          string
}

// Brave searches the surface web for context on an artifact.
type Brave struct {
	cfg     BraveConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.Enricher = (*Brave)(nil)

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// NewBrave creates a Brave enricher. httpClient may be nil.
func NewBrave(cfg BraveConfig, httpClient *http.Client, logger *zap.Logger) (*Brave, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("brave: %w", ErrMissingAPIKey)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultBraveEndpoint
	}
	return &Brave{
		cfg:     cfg,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.Named("brave"),
	}, nil
}

func (b *Brave) Name() string { return "brave" }

// Lookup queries Brave with a type-specific search phrase.
func (b *Brave) Lookup(ctx context.Context, artifact schemas.Artifact) ([]schemas.EnrichmentFinding, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", braveQuery(artifact))
	params.Set("count", strconv.Itoa(b.cfg.MaxResults))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.cfg.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("brave: unexpected status %d", resp.StatusCode)
	}

	var parsed braveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("brave: failed to decode response: %w", err)
	}

	findings := make([]schemas.EnrichmentFinding, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if len(findings) == b.cfg.MaxResults {
			break
		}
		findings = append(findings, schemas.EnrichmentFinding{
			Type:      "web_search",
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   r.Description,
			Relevance: 0.7,
		})
	}
	return findings, nil
}
