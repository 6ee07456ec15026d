package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/camphq/bunkreq/internal/monitoring"
	"github.com/camphq/bunkreq/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Service    ServiceConfig    `yaml:"service" mapstructure:"service"`
	Camp       CampConfig       `yaml:"camp" mapstructure:"camp"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// MonitoringConfig configures the run-health checker.
type MonitoringConfig struct {
	CheckIntervalSecs   int                   `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int                   `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	Thresholds          monitoring.Thresholds `yaml:"thresholds" mapstructure:"thresholds"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RPM         int    `yaml:"rpm" mapstructure:"rpm"`
}

// ProviderConfig selects which AI backend handles parsing.
type ProviderConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MinBatchSize       int     `yaml:"min_batch_size" mapstructure:"min_batch_size"`
	MaxBatchSize       int     `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	TokenBudget        int     `yaml:"token_budget" mapstructure:"token_budget"`
	MaxConcurrent      int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffSecs float64 `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     float64 `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	RequestsPerMinute  int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ServiceConfig configures the single-request parse service.
type ServiceConfig struct {
	CacheEnabled          bool `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	MaxRetries            int  `yaml:"max_retries" mapstructure:"max_retries"`
	MaxConcurrentRequests int  `yaml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`
}

// CampConfig carries enrollment-period defaults applied to ingested
// rows that do not specify them.
type CampConfig struct {
	SessionID string `yaml:"session_id" mapstructure:"session_id"`
	Year      int    `yaml:"year" mapstructure:"year"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// InitialBackoff returns the configured initial backoff as a duration.
func (b BatchConfig) InitialBackoff() time.Duration {
	return time.Duration(b.InitialBackoffSecs * float64(time.Second))
}

// MaxBackoff returns the configured backoff ceiling as a duration.
func (b BatchConfig) MaxBackoff() time.Duration {
	return time.Duration(b.MaxBackoffSecs * float64(time.Second))
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BUNKREQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "bunkreq.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.rpm", 50)
	v.SetDefault("batch.min_batch_size", 2)
	v.SetDefault("batch.max_batch_size", 20)
	v.SetDefault("batch.token_budget", 8000)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.initial_backoff_secs", 1.0)
	v.SetDefault("batch.max_backoff_secs", 30.0)
	v.SetDefault("batch.requests_per_minute", 50)
	v.SetDefault("service.cache_enabled", true)
	v.SetDefault("service.max_retries", 3)
	v.SetDefault("service.max_concurrent_requests", 10)
	v.SetDefault("camp.session_id", "")
	v.SetDefault("camp.year", time.Now().Year())
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.thresholds.failure_rate", 0.25)
	v.SetDefault("monitoring.thresholds.suspicious_share", 0.1)

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
