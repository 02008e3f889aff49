package field

import (
	"fmt"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

const (
	// DefaultEpsilon is the intensity below which a signal is removed on decay.
	DefaultEpsilon = 0.01
	// DefaultBoost is the confidence added by one distinct reinforcement.
	DefaultBoost = 0.2
	// DefaultQuorum is the reinforcement count at which a signal is corroborated.
	DefaultQuorum = 2
)

// KindPolicy holds the per-kind constants of the field.
type KindPolicy struct {
	// DecayRate is the per-tick intensity multiplier, in (0,1].
	DecayRate float64 `mapstructure:"decay_rate" yaml:"decay_rate"`
	Boost     float64 `mapstructure:"boost" yaml:"boost"`
	Quorum    int     `mapstructure:"quorum" yaml:"quorum"`
}

func (p KindPolicy) validate() error {
	if !(p.DecayRate > 0 && p.DecayRate <= 1) {
		return fmt.Errorf("decay rate %v must be in (0,1]", p.DecayRate)
	}
	if p.Boost < 0 || p.Boost > 1 {
		return fmt.Errorf("boost %v must be in [0,1]", p.Boost)
	}
	if p.Quorum < 1 {
		return fmt.Errorf("quorum %d must be at least 1", p.Quorum)
	}
	return nil
}

// Config is fixed at field construction.
type Config struct {
	Epsilon  float64
	Default  KindPolicy
	Policies map[schemas.Kind]KindPolicy
}

// DefaultConfig returns the rates tuned for the investigation pipeline.
// Transient results fade fast, the summary barely decays.
func DefaultConfig() Config {
	policy := func(rate float64) KindPolicy {
		return KindPolicy{DecayRate: rate, Boost: DefaultBoost, Quorum: DefaultQuorum}
	}
	return Config{
		Epsilon: DefaultEpsilon,
		Default: policy(0.90),
		Policies: map[schemas.Kind]KindPolicy{
			schemas.KindUserQuery:          policy(0.90),
			schemas.KindRefinedQuery:       policy(0.90),
			schemas.KindRawResult:          policy(0.80),
			schemas.KindFilteredResult:     policy(0.85),
			schemas.KindScrapedContent:     policy(0.92),
			schemas.KindExtractedArtifacts: policy(0.92),
			schemas.KindEnrichedArtifacts:  policy(0.92),
			schemas.KindInsight:            policy(0.95),
			schemas.KindSummary:            policy(0.999),
			schemas.KindBlockchainAnalysis: policy(0.92),
			schemas.KindPasteContent:       policy(0.92),
		},
	}
}

// Validate checks every policy and the removal threshold.
func (c Config) Validate() error {
	if !(c.Epsilon > 0 && c.Epsilon < 1) {
		return fmt.Errorf("epsilon %v must be in (0,1)", c.Epsilon)
	}
	if err := c.Default.validate(); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	for kind, p := range c.Policies {
		if err := p.validate(); err != nil {
			return fmt.Errorf("policy for %s: %w", kind, err)
		}
	}
	return nil
}

// PolicyFor returns the policy of a kind, falling back to the default.
func (c Config) PolicyFor(kind schemas.Kind) KindPolicy {
	if p, ok := c.Policies[kind]; ok {
		return p
	}
	return c.Default
}
