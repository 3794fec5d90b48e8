package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Agent      AgentConfig      `yaml:"agent" mapstructure:"agent"`
	Gate       GateConfig       `yaml:"gate" mapstructure:"gate"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Fetcher    FetcherConfig    `yaml:"fetcher" mapstructure:"fetcher"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	ProposerModel  string `yaml:"proposer_model" mapstructure:"proposer_model"`
	ValidatorModel string `yaml:"validator_model" mapstructure:"validator_model"`
}

// PerplexityConfig holds Perplexity API settings for the fallback proposer.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AgentConfig configures inference-agent call behavior.
type AgentConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns the per-call timeout as a duration.
func (c AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// GateConfig configures the quality gate rubric and acceptance threshold.
type GateConfig struct {
	Threshold   int `yaml:"threshold" mapstructure:"threshold"`
	TitleWeight int `yaml:"title_weight" mapstructure:"title_weight"`
	BodyWeight  int `yaml:"body_weight" mapstructure:"body_weight"`
	DateWeight  int `yaml:"date_weight" mapstructure:"date_weight"`
	URLWeight   int `yaml:"url_weight" mapstructure:"url_weight"`
}

// EngineConfig configures the repair/discovery consensus loops.
type EngineConfig struct {
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffInitialSecs int     `yaml:"backoff_initial_secs" mapstructure:"backoff_initial_secs"`
	RepairThreshold    float64 `yaml:"repair_threshold" mapstructure:"repair_threshold"`
	DiscoveryThreshold float64 `yaml:"discovery_threshold" mapstructure:"discovery_threshold"`
	MetadataQualityBar int     `yaml:"metadata_quality_bar" mapstructure:"metadata_quality_bar"`
	ExemplarLimit      int     `yaml:"exemplar_limit" mapstructure:"exemplar_limit"`
	ProposerWeight     float64 `yaml:"proposer_weight" mapstructure:"proposer_weight"`
	ValidatorWeight    float64 `yaml:"validator_weight" mapstructure:"validator_weight"`
	QualityWeight      float64 `yaml:"quality_weight" mapstructure:"quality_weight"`
}

// FetcherConfig configures document fetching.
type FetcherConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RULESMITH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "rulesmith.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.proposer_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.validator_model", "claude-haiku-4-5-20251001")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("agent.timeout_secs", 30)
	v.SetDefault("agent.rate_per_sec", 2)
	v.SetDefault("gate.threshold", 80)
	v.SetDefault("gate.title_weight", 25)
	v.SetDefault("gate.body_weight", 50)
	v.SetDefault("gate.date_weight", 15)
	v.SetDefault("gate.url_weight", 10)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.backoff_initial_secs", 1)
	v.SetDefault("engine.repair_threshold", 0.50)
	v.SetDefault("engine.discovery_threshold", 0.55)
	v.SetDefault("engine.metadata_quality_bar", 70)
	v.SetDefault("engine.exemplar_limit", 5)
	v.SetDefault("engine.proposer_weight", 0.3)
	v.SetDefault("engine.validator_weight", 0.3)
	v.SetDefault("engine.quality_weight", 0.4)
	v.SetDefault("fetcher.user_agent", "rulesmith/1.0")
	v.SetDefault("fetcher.timeout_secs", 30)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.rate_per_host", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
