// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

// EnvPrefix namespaces environment overrides, e.g. DARKSWARM_SWARM_MAX_TICKS.
const EnvPrefix = "DARKSWARM"

var (
	validate    = validator.New(validator.WithRequiredStructEnabled())
	envReplacer = strings.NewReplacer(".", "_")
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Field      FieldConfig      `mapstructure:"field" yaml:"field"`
	Swarm      SwarmConfig      `mapstructure:"swarm" yaml:"swarm"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment" yaml:"enrichment"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Format      string      `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=console json"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// FieldConfig tunes signal decay. Policies override the built-in rates per kind.
type FieldConfig struct {
	Epsilon  float64                     `mapstructure:"epsilon" yaml:"epsilon" validate:"gt=0,lt=1"`
	Policies map[string]field.KindPolicy `mapstructure:"policies" yaml:"policies"`
}

// SwarmConfig bounds a run and sizes the roster.
type SwarmConfig struct {
	MaxTicks         int           `mapstructure:"max_ticks" yaml:"max_ticks" validate:"gte=1"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	StagnationWindow int           `mapstructure:"stagnation_window" yaml:"stagnation_window" validate:"gte=1"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1"`
	AgentTimeout     time.Duration `mapstructure:"agent_timeout" yaml:"agent_timeout" validate:"gt=0"`
	TickInterval     time.Duration `mapstructure:"tick_interval" yaml:"tick_interval" validate:"gte=0"`
	SenseThreshold   float64       `mapstructure:"sense_threshold" yaml:"sense_threshold" validate:"gte=0,lte=1"`
	Crawlers         int           `mapstructure:"crawlers" yaml:"crawlers" validate:"gte=1,lte=16"`
	Scrapers         int           `mapstructure:"scrapers" yaml:"scrapers" validate:"gte=1,lte=16"`
	Specialists      bool          `mapstructure:"specialists" yaml:"specialists"`
	Enrich           bool          `mapstructure:"enrich" yaml:"enrich"`
	Blockchain       bool          `mapstructure:"blockchain" yaml:"blockchain"`
	Pastes           bool          `mapstructure:"pastes" yaml:"pastes"`
	// MinContent is how many scraped pages the analyst waits for.
	MinContent int    `mapstructure:"min_content" yaml:"min_content" validate:"gte=1"`
	PersonaDir string `mapstructure:"persona_dir" yaml:"persona_dir"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	// ProviderOpenAI covers any OpenAI compatible endpoint, including local servers.
	ProviderOpenAI LLMProvider = "openai"
)

// LLMConfig configures one model per tier. APIKey is used by tiers that set none.
type LLMConfig struct {
	APIKey   string         `mapstructure:"api_key" yaml:"-"`
	Fast     LLMModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful LLMModelConfig `mapstructure:"powerful" yaml:"powerful"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider" validate:"oneof=gemini openai"`
	Model         string            `mapstructure:"model" yaml:"model" validate:"required"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout" validate:"gt=0"`
	MaxRetryTime  time.Duration     `mapstructure:"max_retry_time" yaml:"max_retry_time" validate:"gte=0"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p" validate:"gte=0,lte=1"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k" validate:"gte=0"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// NetworkConfig tunes outbound fetching.
type NetworkConfig struct {
	// ProxyURL is usually the local Tor SOCKS port. Empty means direct.
	ProxyURL          string        `mapstructure:"proxy_url" yaml:"proxy_url" validate:"omitempty,url"`
	CheckProxy        bool          `mapstructure:"check_proxy" yaml:"check_proxy"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"gt=0"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes" validate:"gte=0"`
	DisabledEngines   []string      `mapstructure:"disabled_engines" yaml:"disabled_engines"`
}

// EnrichmentConfig configures surface web lookups.
type EnrichmentConfig struct {
	GitHubEnabled           bool    `mapstructure:"github_enabled" yaml:"github_enabled"`
	GitHubToken             string  `mapstructure:"github_token" yaml:"-"`
	GitHubRequestsPerMinute int     `mapstructure:"github_requests_per_minute" yaml:"github_requests_per_minute" validate:"gte=0"`
	BraveEnabled            bool    `mapstructure:"brave_enabled" yaml:"brave_enabled"`
	BraveAPIKey             string  `mapstructure:"brave_api_key" yaml:"-"`
	BraveRequestsPerSecond  float64 `mapstructure:"brave_requests_per_second" yaml:"brave_requests_per_second" validate:"gte=0"`
	MaxResults              int     `mapstructure:"max_results" yaml:"max_results" validate:"gte=1,lte=50"`

	EtherscanAPIKey           string  `mapstructure:"etherscan_api_key" yaml:"-"`
	ExplorerRequestsPerSecond float64 `mapstructure:"explorer_requests_per_second" yaml:"explorer_requests_per_second" validate:"gte=0"`
	MinPatternTx              int     `mapstructure:"min_pattern_tx" yaml:"min_pattern_tx" validate:"gte=2"`
	MaxPastesPerSite          int     `mapstructure:"max_pastes_per_site" yaml:"max_pastes_per_site" validate:"gte=1,lte=100"`
	MinPasteLength            int     `mapstructure:"min_paste_length" yaml:"min_paste_length" validate:"gte=0"`
}

// StoreType selects the snapshot backend.
type StoreType string

const (
	StoreNone     StoreType = "none"
	StorePostgres StoreType = "postgres"
	StoreBadger   StoreType = "badger"
)

// StoreConfig selects where field snapshots are persisted.
type StoreConfig struct {
	Type        StoreType `mapstructure:"type" yaml:"type" validate:"oneof=none postgres badger"`
	PostgresURL string    `mapstructure:"postgres_url" yaml:"-"`
	BadgerPath  string    `mapstructure:"badger_path" yaml:"badger_path"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "darkswarm")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Field --
	v.SetDefault("field.epsilon", field.DefaultEpsilon)

	// -- Swarm --
	v.SetDefault("swarm.max_ticks", 60)
	v.SetDefault("swarm.timeout", "15m")
	v.SetDefault("swarm.stagnation_window", 3)
	v.SetDefault("swarm.concurrency", 8)
	v.SetDefault("swarm.agent_timeout", "3m")
	v.SetDefault("swarm.tick_interval", "0s")
	v.SetDefault("swarm.sense_threshold", 0.1)
	v.SetDefault("swarm.crawlers", 2)
	v.SetDefault("swarm.scrapers", 2)
	v.SetDefault("swarm.specialists", false)
	v.SetDefault("swarm.enrich", false)
	v.SetDefault("swarm.blockchain", false)
	v.SetDefault("swarm.pastes", false)
	v.SetDefault("swarm.min_content", 3)
	v.SetDefault("swarm.persona_dir", "")

	// -- LLM --
	v.SetDefault("llm.fast.provider", string(ProviderGemini))
	v.SetDefault("llm.fast.model", "gemini-2.5-flash")
	v.SetDefault("llm.fast.api_timeout", "60s")
	v.SetDefault("llm.fast.max_retry_time", "2m")
	v.SetDefault("llm.fast.temperature", 0.2)
	v.SetDefault("llm.fast.max_tokens", 2048)
	v.SetDefault("llm.powerful.provider", string(ProviderGemini))
	v.SetDefault("llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("llm.powerful.api_timeout", "120s")
	v.SetDefault("llm.powerful.max_retry_time", "3m")
	v.SetDefault("llm.powerful.temperature", 0.3)
	v.SetDefault("llm.powerful.max_tokens", 8192)

	// -- Network --
	v.SetDefault("network.proxy_url", "socks5h://127.0.0.1:9050")
	v.SetDefault("network.check_proxy", true)
	v.SetDefault("network.timeout", "45s")
	v.SetDefault("network.dial_timeout", "30s")
	v.SetDefault("network.ignore_tls_errors", true)
	v.SetDefault("network.requests_per_second", 4.0)
	v.SetDefault("network.burst", 4)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.max_body_bytes", 4<<20)

	// -- Enrichment --
	v.SetDefault("enrichment.github_enabled", true)
	v.SetDefault("enrichment.github_requests_per_minute", 0)
	v.SetDefault("enrichment.brave_enabled", true)
	v.SetDefault("enrichment.brave_requests_per_second", 1.0)
	v.SetDefault("enrichment.max_results", 5)
	v.SetDefault("enrichment.explorer_requests_per_second", 2.0)
	v.SetDefault("enrichment.min_pattern_tx", 3)
	v.SetDefault("enrichment.max_pastes_per_site", 10)
	v.SetDefault("enrichment.min_paste_length", 50)

	// -- Store --
	v.SetDefault("store.type", string(StoreNone))
	v.SetDefault("store.badger_path", "~/.darkswarm/snapshots")

	// -- Metrics --
	v.SetDefault("metrics.addr", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Well-known variable names for secrets, alongside the DARKSWARM_ prefixed ones.
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("enrichment.github_token", EnvPrefix+"_ENRICHMENT_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("enrichment.brave_api_key", EnvPrefix+"_ENRICHMENT_BRAVE_API_KEY", "BRAVE_API_KEY")
	_ = v.BindEnv("enrichment.etherscan_api_key", EnvPrefix+"_ENRICHMENT_ETHERSCAN_API_KEY", "ETHERSCAN_API_KEY")
	_ = v.BindEnv("store.postgres_url", EnvPrefix+"_STORE_POSTGRES_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.Fast.APIKey == "" {
		cfg.LLM.Fast.APIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.Powerful.APIKey == "" {
		cfg.LLM.Powerful.APIKey = cfg.LLM.APIKey
	}
	if cfg.Store.BadgerPath != "" {
		path, err := homedir.Expand(cfg.Store.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand store.badger_path: %w", err)
		}
		cfg.Store.BadgerPath = path
	}
	if cfg.Swarm.PersonaDir != "" {
		path, err := homedir.Expand(cfg.Swarm.PersonaDir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand swarm.persona_dir: %w", err)
		}
		cfg.Swarm.PersonaDir = path
	}
	if cfg.Logger.LogFile != "" {
		path, err := homedir.Expand(cfg.Logger.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand logger.log_file: %w", err)
		}
		cfg.Logger.LogFile = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.FieldConfig(); err != nil {
		return fmt.Errorf("field configuration invalid: %w", err)
	}
	if c.Store.Type == StorePostgres && c.Store.PostgresURL == "" {
		return fmt.Errorf("store.postgres_url is required for the postgres store")
	}
	if c.Store.Type == StoreBadger && c.Store.BadgerPath == "" {
		return fmt.Errorf("store.badger_path is required for the badger store")
	}
	if c.Swarm.AgentTimeout > c.Swarm.Timeout {
		return fmt.Errorf("swarm.agent_timeout (%s) exceeds swarm.timeout (%s)", c.Swarm.AgentTimeout, c.Swarm.Timeout)
	}
	return nil
}

// FieldConfig merges the configured overrides into the built-in decay policies.
func (c *Config) FieldConfig() (field.Config, error) {
	fc := field.DefaultConfig()
	if c.Field.Epsilon > 0 {
		fc.Epsilon = c.Field.Epsilon
	}
	for name, p := range c.Field.Policies {
		kind := schemas.Kind(name)
		if !schemas.IsRegistered(kind) {
			return field.Config{}, fmt.Errorf("policy for unknown kind %q", name)
		}
		base := fc.PolicyFor(kind)
		if p.DecayRate != 0 {
			base.DecayRate = p.DecayRate
		}
		if p.Boost != 0 {
			base.Boost = p.Boost
		}
		if p.Quorum != 0 {
			base.Quorum = p.Quorum
		}
		fc.Policies[kind] = base
	}
	return fc, fc.Validate()
}

// Load reads an optional config file, then environment overrides, into a
// validated Config.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return NewConfigFromViper(v)
}

// NewViper prepares a viper instance with defaults, environment overrides and
// the optional config file. Callers may bind flags before decoding it with
// NewConfigFromViper. An empty path searches ./darkswarm.yaml and
// ~/.darkswarm/darkswarm.yaml.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", expanded, err)
		}
	} else {
		v.SetConfigName("darkswarm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + string(os.PathSeparator) + ".darkswarm")
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}
	return v, nil
}
