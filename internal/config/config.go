package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Remote     RemoteConfig     `yaml:"remote" mapstructure:"remote"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Predict    PredictConfig    `yaml:"predict" mapstructure:"predict"`
	Correction CorrectionConfig `yaml:"correction" mapstructure:"correction"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Learn      LearnConfig      `yaml:"learn" mapstructure:"learn"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Fields     []model.FieldDef `yaml:"fields" mapstructure:"fields"`
}

// StoreConfig configures the version store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the model backend.
type AnthropicConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	Model        string  `yaml:"model" mapstructure:"model"`
	MaxTokens    int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CostEstimate float64 `yaml:"cost_estimate" mapstructure:"cost_estimate"`
}

// RemoteConfig holds settings for an optional self-hosted prediction service.
type RemoteConfig struct {
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	Name         string  `yaml:"name" mapstructure:"name"`
	URL          string  `yaml:"url" mapstructure:"url"`
	APIKey       string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst        int     `yaml:"burst" mapstructure:"burst"`
	CostEstimate float64 `yaml:"cost_estimate" mapstructure:"cost_estimate"`
}

// ResilienceConfig tunes the circuit breakers, retry loop, and governor.
type ResilienceConfig struct {
	FailureThreshold    int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeoutSecs int     `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
	SuccessThreshold    int     `yaml:"success_threshold" mapstructure:"success_threshold"`
	RetryMaxAttempts    int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBaseDelayMs    int     `yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs     int     `yaml:"retry_max_delay_ms" mapstructure:"retry_max_delay_ms"`
	RequestsPerMinute   int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxHourlyCost       float64 `yaml:"max_hourly_cost" mapstructure:"max_hourly_cost"`
}

// PredictConfig tunes the fallback chain.
type PredictConfig struct {
	ConfidenceFloor float64 `yaml:"confidence_floor" mapstructure:"confidence_floor"`
}

// CorrectionConfig tunes the correction pipeline.
type CorrectionConfig struct {
	WindowMs       int    `yaml:"window_ms" mapstructure:"window_ms"`
	ConflictPolicy string `yaml:"conflict_policy" mapstructure:"conflict_policy"`
}

// BatchConfig configures the batched-tier commit buffer.
type BatchConfig struct {
	MaxSize     int `yaml:"max_size" mapstructure:"max_size"`
	MaxWaitSecs int `yaml:"max_wait_secs" mapstructure:"max_wait_secs"`
}

// LearnConfig configures the deferred learning queue and analyzer.
type LearnConfig struct {
	RedisAddr    string `yaml:"redis_addr" mapstructure:"redis_addr"`
	Namespace    string `yaml:"namespace" mapstructure:"namespace"`
	IntervalSecs int    `yaml:"interval_secs" mapstructure:"interval_secs"`
	BatchSize    int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Catalog returns the configured field catalog, falling back to the
// built-in legal form field set when the config names no fields.
func (c *Config) Catalog() *model.FieldCatalog {
	if len(c.Fields) == 0 {
		return model.DefaultCatalog()
	}
	return model.NewFieldCatalog(c.Fields)
}

// Validate checks the settings a given mode needs. Mode "serve" covers the
// HTTP server; "engine" covers any command that runs predictions.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func() {
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
		if c.Store.Driver == "sqlite" && c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Remote.Enabled && c.Remote.URL == "" {
			problems = append(problems, "remote.url is required when remote.enabled is set")
		}
		if c.Predict.ConfidenceFloor < 0 || c.Predict.ConfidenceFloor > 1 {
			problems = append(problems, "predict.confidence_floor must be between 0 and 1")
		}
		switch c.Correction.ConflictPolicy {
		case "latest-timestamp", "highest-original-confidence", "manual":
		default:
			problems = append(problems, "correction.conflict_policy must be latest-timestamp, highest-original-confidence, or manual")
		}
		if c.Batch.MaxSize < 1 || c.Batch.MaxSize > 1000 {
			problems = append(problems, "batch.max_size must be between 1 and 1000")
		}
	}

	switch mode {
	case "serve":
		check()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "engine":
		check()
	case "migrate":
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FORMMONKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "formmonkey.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.cost_estimate", 0.01)
	v.SetDefault("remote.name", "remote")
	v.SetDefault("remote.timeout_secs", 30)
	v.SetDefault("remote.rate_limit", 10)
	v.SetDefault("remote.burst", 5)
	v.SetDefault("remote.cost_estimate", 0.002)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.recovery_timeout_secs", 30)
	v.SetDefault("resilience.success_threshold", 1)
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_base_delay_ms", 500)
	v.SetDefault("resilience.retry_max_delay_ms", 30000)
	v.SetDefault("resilience.requests_per_minute", 60)
	v.SetDefault("resilience.max_hourly_cost", 10.0)
	v.SetDefault("predict.confidence_floor", 0.2)
	v.SetDefault("correction.window_ms", 250)
	v.SetDefault("correction.conflict_policy", "latest-timestamp")
	v.SetDefault("batch.max_size", 25)
	v.SetDefault("batch.max_wait_secs", 30)
	v.SetDefault("learn.namespace", "formmonkey")
	v.SetDefault("learn.interval_secs", 300)
	v.SetDefault("learn.batch_size", 500)

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
