package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/agent"
	"github.com/xkilldash9x/darkswarm/internal/config"
	"github.com/xkilldash9x/darkswarm/internal/discovery"
	"github.com/xkilldash9x/darkswarm/internal/enrichment"
	"github.com/xkilldash9x/darkswarm/internal/extraction"
	"github.com/xkilldash9x/darkswarm/internal/llmclient"
	"github.com/xkilldash9x/darkswarm/internal/network"
	"github.com/xkilldash9x/darkswarm/internal/persona"
	"github.com/xkilldash9x/darkswarm/internal/store"
)

// rosterBuilder is swapped in tests to avoid network and model access.
var rosterBuilder = buildDependencies

// buildDependencies wires the network, model and enrichment collaborators of the roster.
func buildDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (agent.Dependencies, error) {
	darkClient, err := newDarkWebClient(ctx, cfg.Network, logger)
	if err != nil {
		return agent.Dependencies{}, err
	}
	retriever, err := network.NewRetriever(darkClient, network.RetrieverConfig{
		RequestsPerSecond: cfg.Network.RequestsPerSecond,
		Burst:             cfg.Network.Burst,
		MaxRetries:        cfg.Network.MaxRetries,
		MaxBodyBytes:      cfg.Network.MaxBodyBytes,
	}, logger)
	if err != nil {
		return agent.Dependencies{}, err
	}

	personas, err := persona.LoadEmbedded()
	if err != nil {
		return agent.Dependencies{}, fmt.Errorf("failed to load personas: %w", err)
	}
	if cfg.Swarm.PersonaDir != "" {
		if err := personas.LoadDir(cfg.Swarm.PersonaDir); err != nil {
			return agent.Dependencies{}, fmt.Errorf("failed to load personas from %s: %w", cfg.Swarm.PersonaDir, err)
		}
	}

	router, err := llmclient.NewRouterFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return agent.Dependencies{}, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	deps := agent.Dependencies{
		Inference: router,
		Retriever: retriever,
		Extractor: extraction.New(nil),
		Personas:  personas,
		Engines:   enabledEngines(discovery.DefaultEngines(), cfg.Network.DisabledEngines),
		Logger:    logger,
	}
	if !cfg.Swarm.Enrich && !cfg.Swarm.Blockchain && !cfg.Swarm.Pastes {
		return deps, nil
	}

	surface, err := newSurfaceClient(cfg.Network, logger)
	if err != nil {
		return agent.Dependencies{}, err
	}
	if cfg.Swarm.Enrich {
		deps.Enrichers, err = buildEnrichers(cfg, surface, logger)
		if err != nil {
			return agent.Dependencies{}, err
		}
	}
	if cfg.Swarm.Blockchain || cfg.Swarm.Pastes {
		surfaceRetriever, err := network.NewRetriever(surface, network.RetrieverConfig{
			MaxRetries:   cfg.Network.MaxRetries,
			MaxBodyBytes: cfg.Network.MaxBodyBytes,
		}, logger)
		if err != nil {
			return agent.Dependencies{}, err
		}
		if cfg.Swarm.Blockchain {
			deps.Wallets, err = enrichment.NewWallets(enrichment.WalletConfig{
				EtherscanAPIKey:   cfg.Enrichment.EtherscanAPIKey,
				RequestsPerSecond: cfg.Enrichment.ExplorerRequestsPerSecond,
				MinPatternTx:      cfg.Enrichment.MinPatternTx,
			}, surfaceRetriever, logger)
			if err != nil {
				return agent.Dependencies{}, err
			}
		}
		if cfg.Swarm.Pastes {
			deps.Pastes = enrichment.PasteSites(enrichment.PasteConfig{
				MaxPerSite: cfg.Enrichment.MaxPastesPerSite,
				MinLength:  cfg.Enrichment.MinPasteLength,
			}, surfaceRetriever, logger)
		}
	}
	return deps, nil
}

// newDarkWebClient builds the HTTP client used for onion fetches and checks the proxy when asked to.
func newDarkWebClient(ctx context.Context, nc config.NetworkConfig, logger *zap.Logger) (*http.Client, error) {
	cc := network.NewDefaultClientConfig()
	cc.ProxyURL = nil
	if nc.ProxyURL != "" {
		u, err := url.Parse(nc.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		cc.ProxyURL = u
	}
	cc.IgnoreTLSErrors = nc.IgnoreTLSErrors
	cc.RequestTimeout = nc.Timeout
	cc.DialTimeout = nc.DialTimeout
	cc.Logger = logger

	if nc.CheckProxy && cc.ProxyURL != nil && strings.HasPrefix(cc.ProxyURL.Scheme, "socks5") {
		if err := network.ValidateProxy(ctx, cc.ProxyURL, nc.DialTimeout); err != nil {
			return nil, fmt.Errorf("proxy %s is not reachable (is Tor running?): %w", cc.ProxyURL.Host, err)
		}
		logger.Info("Proxy reachable.", zap.String("proxy", cc.ProxyURL.Host))
	}
	return network.NewHTTPClient(cc)
}

// newSurfaceClient builds a direct client for clearnet APIs.
func newSurfaceClient(nc config.NetworkConfig, logger *zap.Logger) (*http.Client, error) {
	surface := network.NewDefaultClientConfig()
	surface.ProxyURL = nil
	surface.RequestTimeout = nc.Timeout
	surface.Logger = logger
	return network.NewHTTPClient(surface)
}

// buildEnrichers creates the configured surface web sources. Sources lacking
// credentials are skipped with a warning.
func buildEnrichers(cfg *config.Config, client *http.Client, logger *zap.Logger) ([]schemas.Enricher, error) {
	ec := cfg.Enrichment
	var out []schemas.Enricher
	if ec.GitHubEnabled {
		gh, err := enrichment.NewGitHub(enrichment.GitHubConfig{
			Token:             ec.GitHubToken,
			MaxResults:        ec.MaxResults,
			RequestsPerMinute: ec.GitHubRequestsPerMinute,
		}, client, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, gh)
	}
	if ec.BraveEnabled {
		brave, err := enrichment.NewBrave(enrichment.BraveConfig{
			APIKey:            ec.BraveAPIKey,
			MaxResults:        ec.MaxResults,
			RequestsPerSecond: ec.BraveRequestsPerSecond,
		}, client, logger)
		switch {
		case errors.Is(err, enrichment.ErrMissingAPIKey):
			logger.Warn("Brave enrichment enabled without an API key; skipping.")
		case err != nil:
			return nil, err
		default:
			out = append(out, brave)
		}
	}
	return out, nil
}

// enabledEngines deactivates engines named in disabled, case-insensitively.
func enabledEngines(engines []discovery.Engine, disabled []string) []discovery.Engine {
	out := slices.Clone(engines)
	for i := range out {
		if slices.ContainsFunc(disabled, func(name string) bool { return strings.EqualFold(name, out[i].Name) }) {
			out[i].Active = false
		}
	}
	return out
}

// openStore returns nil without error when no backend is configured.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.SnapshotStore, error) {
	st, err := store.Open(ctx, cfg, logger)
	if errors.Is(err, store.ErrDisabled) {
		return nil, nil
	}
	return st, err
}
