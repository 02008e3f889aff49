package agent

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/config"
	"github.com/xkilldash9x/darkswarm/internal/discovery"
	"github.com/xkilldash9x/darkswarm/internal/persona"
)

// engineReplicas is how many crawlers query each engine, so every result
// link can be corroborated by a second crawler.
const engineReplicas = 2

// Dependencies are the collaborators the roster is wired to.
type Dependencies struct {
	Inference schemas.InferenceClient
	Retriever schemas.Retriever
	Extractor schemas.ArtifactExtractor
	Enrichers []schemas.Enricher
	Wallets   schemas.WalletAnalyzer
	Pastes    []schemas.PasteSearcher
	Personas  *persona.Registry
	Engines   []discovery.Engine
	Logger    *zap.Logger
}

// BuildRoster creates the agents of one investigation in registration order:
// refiner, crawlers, the optional paste monitor, filter, scrapers, extractor,
// the optional enricher and blockchain analyst, and the analyst.
func BuildRoster(cfg config.SwarmConfig, deps Dependencies) ([]Agent, error) {
	if deps.Personas == nil {
		return nil, errors.New("roster requires a persona registry")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.SenseThreshold

	refinerPersona, err := deps.Personas.Require(persona.IDRefiner)
	if err != nil {
		return nil, err
	}
	filterPersona, err := deps.Personas.Require(persona.IDFilter)
	if err != nil {
		return nil, err
	}

	var agents []Agent
	add := func(a Agent, err error) error {
		if err != nil {
			return err
		}
		agents = append(agents, a)
		return nil
	}

	if err := add(NewRefiner("refiner-1", deps.Inference, refinerPersona, threshold, logger)); err != nil {
		return nil, err
	}

	engines := discovery.ActiveByReliability(deps.Engines)
	crawlers := max(cfg.Crawlers, 1)
	for i := range crawlers {
		shard := discovery.Shard(engines, i, crawlers, engineReplicas)
		if err := add(NewCrawler(fmt.Sprintf("crawler-%d", i+1), deps.Retriever, shard, threshold, logger)); err != nil {
			return nil, err
		}
	}

	if cfg.Pastes {
		if len(deps.Pastes) == 0 {
			logger.Warn("Paste monitoring requested but no paste site is configured; skipping the paste monitor.")
		} else if err := add(NewPasteMonitor("paste-1", deps.Pastes, threshold, logger)); err != nil {
			return nil, err
		}
	}

	if err := add(NewFilter("filter-1", deps.Inference, filterPersona, threshold, logger)); err != nil {
		return nil, err
	}

	scrapers := max(cfg.Scrapers, 1)
	for i := range scrapers {
		shard := Shard{Index: i, Count: scrapers}
		if err := add(NewScraper(fmt.Sprintf("scraper-%d", i+1), deps.Retriever, shard, threshold, logger)); err != nil {
			return nil, err
		}
	}

	if err := add(NewExtractor("extractor-1", deps.Extractor, threshold, logger)); err != nil {
		return nil, err
	}

	if cfg.Enrich {
		if len(deps.Enrichers) == 0 {
			logger.Warn("Enrichment requested but no enrichment source is configured; skipping the enricher.")
		} else if err := add(NewEnricher("enricher-1", deps.Enrichers, threshold, logger)); err != nil {
			return nil, err
		}
	}

	if cfg.Blockchain {
		if deps.Wallets == nil {
			logger.Warn("Blockchain analysis requested but no wallet analyzer is configured; skipping the blockchain analyst.")
		} else if err := add(NewBlockchainAnalyst("blockchain-1", deps.Wallets, threshold, logger)); err != nil {
			return nil, err
		}
	}

	analystCfg, err := analystConfig(cfg, deps.Personas)
	if err != nil {
		return nil, err
	}
	if err := add(NewAnalyst("analyst-1", deps.Inference, analystCfg, threshold, logger)); err != nil {
		return nil, err
	}
	return agents, nil
}

func analystConfig(cfg config.SwarmConfig, personas *persona.Registry) (AnalystConfig, error) {
	single, err := personas.Require(persona.IDAnalyst)
	if err != nil {
		return AnalystConfig{}, err
	}
	out := AnalystConfig{MinContent: cfg.MinContent, Single: single}
	if !cfg.Specialists {
		return out, nil
	}
	lead, ok := personas.Lead()
	specialists := personas.Specialists()
	if !ok || len(specialists) == 0 {
		return AnalystConfig{}, fmt.Errorf("specialist mode needs a lead and at least one specialist persona: %w", persona.ErrNotFound)
	}
	out.Lead = &lead
	out.Specialists = specialists
	return out, nil
}
