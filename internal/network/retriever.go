// internal/network/retriever.go
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// DefaultMaxBodyBytes caps how much of a page is read.
const DefaultMaxBodyBytes = 4 << 20

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:137.0) Gecko/20100101 Firefox/137.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.7; rv:137.0) Gecko/20100101 Firefox/137.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
}

// ErrStatus is wrapped for non-2xx responses.
var ErrStatus = errors.New("unexpected status")

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	// RequestsPerSecond limits outbound fetches across all agents. Zero disables it.
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	MaxBodyBytes      int64
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// Retriever fetches pages over an HTTP client, normally routed through Tor.
// It is safe for concurrent use.
type Retriever struct {
	client  *http.Client
	cfg     RetrieverConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	pickUA  func() string
}

var _ schemas.Retriever = (*Retriever)(nil)

// NewRetriever creates a Retriever around an existing client.
func NewRetriever(client *http.Client, cfg RetrieverConfig, logger *zap.Logger) (*Retriever, error) {
	if client == nil {
		return nil, errors.New("http client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	return &Retriever{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.Named("retriever"),
		pickUA:  func() string { return userAgents[rand.IntN(len(userAgents))] },
	}, nil
}

// Fetch retrieves address, retrying transport errors and 5xx/429 responses.
func (r *Retriever) Fetch(ctx context.Context, address string) (*schemas.Document, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(r.cfg.MaxRetries, 0))), ctx)

	var doc *schemas.Document
	attempt := 0
	operation := func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		d, err := r.fetchOnce(ctx, address)
		if err != nil {
			r.logger.Debug("Fetch attempt failed.",
				zap.String("address", address),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		doc = d
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *Retriever) fetchOnce(ctx context.Context, address string) (*schemas.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", r.pickUA())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		err := fmt.Errorf("%w %d from %s", ErrStatus, resp.StatusCode, address)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	body, err := DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	raw, err := io.ReadAll(io.LimitReader(body, r.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &schemas.Document{
		Address:     address,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        raw,
		FetchedAt:   time.Now(),
	}, nil
}
