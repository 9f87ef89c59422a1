package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// maxEIAPageSize mirrors eia.MaxPageSize; the API truncates longer pages.
const maxEIAPageSize = 5000

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	EIA        EIAConfig        `yaml:"eia" mapstructure:"eia"`
	OpenMeteo  OpenMeteoConfig  `yaml:"openmeteo" mapstructure:"openmeteo"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Artifact   ArtifactConfig   `yaml:"artifact" mapstructure:"artifact"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the raw store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// EIAConfig holds EIA Open Data API settings.
type EIAConfig struct {
	APIKey    string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize  int     `yaml:"page_size" mapstructure:"page_size"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// OpenMeteoConfig holds Open-Meteo endpoint settings.
type OpenMeteoConfig struct {
	ArchiveURL   string  `yaml:"archive_url" mapstructure:"archive_url"`
	ForecastURL  string  `yaml:"forecast_url" mapstructure:"forecast_url"`
	ForecastDays int     `yaml:"forecast_days" mapstructure:"forecast_days"`
	ChunkDays    int     `yaml:"chunk_days" mapstructure:"chunk_days"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// FetchConfig controls the ingest worker pool and retry policy.
type FetchConfig struct {
	MaxConcurrentRegions int `yaml:"max_concurrent_regions" mapstructure:"max_concurrent_regions"`
	MaxRetries           int `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs     int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs         int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	TimeoutSecs          int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	StartYear            int `yaml:"start_year" mapstructure:"start_year"`
	BreakerThreshold     int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs     int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// AnalysisConfig controls alignment and correlation.
type AnalysisConfig struct {
	MaxConcurrentRegions int     `yaml:"max_concurrent_regions" mapstructure:"max_concurrent_regions"`
	MinSamples           int     `yaml:"min_samples" mapstructure:"min_samples"`
	OutlierPercentile    float64 `yaml:"outlier_percentile" mapstructure:"outlier_percentile"`
}

// ArtifactConfig selects where region summaries are published.
type ArtifactConfig struct {
	Sink      string   `yaml:"sink" mapstructure:"sink"`
	Dir       string   `yaml:"dir" mapstructure:"dir"`
	StatsName string   `yaml:"stats_name" mapstructure:"stats_name"`
	S3        S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage credentials.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// LockConfig configures cross-process region locking. Empty RedisURL means
// in-process locks only.
type LockConfig struct {
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// NotifyConfig configures artifact-updated notifications.
type NotifyConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers" mapstructure:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic" mapstructure:"kafka_topic"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// MonitoringConfig configures sync-health alerts sent after each fetch.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional), environment
// variables prefixed with GRIDCLIMATE_, and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GRIDCLIMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("eia.api_key", "GRIDCLIMATE_EIA_API_KEY", "EIA_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind eia api key")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/raw/gridclimate.db")
	v.SetDefault("eia.base_url", "https://api.eia.gov/v2")
	v.SetDefault("eia.page_size", 5000)
	v.SetDefault("eia.rate_limit", 2.0)
	v.SetDefault("openmeteo.archive_url", "https://archive-api.open-meteo.com/v1/archive")
	v.SetDefault("openmeteo.forecast_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("openmeteo.forecast_days", 92)
	v.SetDefault("openmeteo.chunk_days", 31)
	v.SetDefault("openmeteo.rate_limit", 5.0)
	v.SetDefault("fetch.max_concurrent_regions", 4)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.initial_backoff_ms", 1000)
	v.SetDefault("fetch.max_backoff_ms", 30000)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.start_year", 2020)
	v.SetDefault("fetch.breaker_threshold", 5)
	v.SetDefault("fetch.breaker_reset_secs", 60)
	v.SetDefault("analysis.max_concurrent_regions", 8)
	v.SetDefault("analysis.min_samples", 2)
	v.SetDefault("analysis.outlier_percentile", 0.0)
	v.SetDefault("artifact.sink", "file")
	v.SetDefault("artifact.dir", "data/clean_data")
	v.SetDefault("artifact.stats_name", "correlation_stats.csv")
	v.SetDefault("artifact.s3.use_ssl", true)
	v.SetDefault("lock.ttl_secs", 900)
	v.SetDefault("notify.kafka_topic", "gridclimate.artifacts")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings a command needs are present and sane.
// Mode is one of "fetch", "analyze" or "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "store":
	case "fetch":
		if c.EIA.APIKey == "" {
			errs = append(errs, "eia.api_key is required (or set EIA_API_KEY)")
		}
		if c.Fetch.MaxConcurrentRegions < 1 || c.Fetch.MaxConcurrentRegions > 66 {
			errs = append(errs, "fetch.max_concurrent_regions must be between 1 and 66")
		}
		if c.Fetch.MaxRetries < 1 {
			errs = append(errs, "fetch.max_retries must be >= 1")
		}
		if c.EIA.PageSize < 1 || c.EIA.PageSize > maxEIAPageSize {
			errs = append(errs, fmt.Sprintf("eia.page_size must be between 1 and %d", maxEIAPageSize))
		}
		if c.OpenMeteo.ChunkDays < 1 {
			errs = append(errs, "openmeteo.chunk_days must be > 0")
		}
	case "analyze":
		if c.Analysis.MaxConcurrentRegions < 1 || c.Analysis.MaxConcurrentRegions > 66 {
			errs = append(errs, "analysis.max_concurrent_regions must be between 1 and 66")
		}
		if c.Analysis.MinSamples < 2 {
			errs = append(errs, "analysis.min_samples must be >= 2")
		}
		if c.Analysis.OutlierPercentile < 0 || c.Analysis.OutlierPercentile >= 50 {
			errs = append(errs, "analysis.outlier_percentile must be in [0, 50)")
		}
		switch c.Artifact.Sink {
		case "file":
			if c.Artifact.Dir == "" {
				errs = append(errs, "artifact.dir is required for the file sink")
			}
		case "s3":
			if c.Artifact.S3.Endpoint == "" || c.Artifact.S3.Bucket == "" {
				errs = append(errs, "artifact.s3.endpoint and artifact.s3.bucket are required for the s3 sink")
			}
		default:
			errs = append(errs, fmt.Sprintf("artifact.sink must be file or s3, got %q", c.Artifact.Sink))
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid settings: %s", strings.Join(errs, "; "))
	}
	return nil
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
