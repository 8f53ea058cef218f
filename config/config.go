// Package config provides configuration management for memopt.
package config

import (
	"fmt"
	"time"

	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/logger"
	"github.com/goclaw/memopt/pkg/metrics"
	"github.com/goclaw/memopt/pkg/outcome"
	"github.com/goclaw/memopt/pkg/relevance"
	"github.com/goclaw/memopt/pkg/telemetry/tracing"
)

// Config is the global configuration for memopt.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP API configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Metrics is the Prometheus configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the OpenTelemetry configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Storage is where conversation outcomes are kept.
	Storage StorageConfig `mapstructure:"storage"`

	// Cache backs the recommendation caches.
	Cache CacheConfig `mapstructure:"cache"`

	// Optimizer holds the analyzer and optimizer tunables.
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"omitempty,host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP holds timeouts and limits.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the cross-origin configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// HTTPConfig holds HTTP server timeouts and limits.
type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"positive_duration"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"positive_duration"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"positive_duration"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"positive_duration"`

	// RequestTimeout bounds a single request inside the handler chain.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"positive_duration"`

	MaxHeaderBytes int   `mapstructure:"max_header_bytes" validate:"min=1024"`
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes" validate:"min=1024"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins" validate:"dive,origin"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" validate:"min=0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
	Output string `mapstructure:"output" validate:"required"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
	Path    string `mapstructure:"path" validate:"required,startswith=/"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	Exporter   string            `mapstructure:"exporter" validate:"oneof=otlpgrpc otlp"`
	Endpoint   string            `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Insecure   bool              `mapstructure:"insecure"`
	Headers    map[string]string `mapstructure:"headers"`
	Timeout    time.Duration     `mapstructure:"timeout" validate:"positive_duration"`
	Sampler    string            `mapstructure:"sampler" validate:"oneof=always_on always_off traceidratio parentbased_traceidratio"`
	SampleRate float64           `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// StorageConfig selects the outcome history store.
type StorageConfig struct {
	// Type is the store type: memory or badger.
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is used when Type is badger.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds Badger settings.
type BadgerConfig struct {
	Path             string        `mapstructure:"path" validate:"required"`
	InMemory         bool          `mapstructure:"in_memory"`
	SyncWrites       bool          `mapstructure:"sync_writes"`
	ValueLogFileSize int64         `mapstructure:"value_log_file_size" validate:"min=0"`
	Retention        time.Duration `mapstructure:"retention" validate:"min=0"`
}

// CacheConfig selects the recommendation cache backend.
type CacheConfig struct {
	// Type is the cache type: memory or redis.
	Type string `mapstructure:"type" validate:"oneof=memory redis"`

	// Redis is used when Type is redis.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address     string        `mapstructure:"address" validate:"required"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"min=0,max=15"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"positive_duration"`
}

// OptimizerConfig holds the analyzer and optimizer tunables.
type OptimizerConfig struct {
	MinSampleSize            int           `mapstructure:"min_sample_size" validate:"min=1"`
	AnalysisWindowDays       int           `mapstructure:"analysis_window_days" validate:"min=1,max=365"`
	RecommendationWindowDays int           `mapstructure:"recommendation_window_days" validate:"min=1,max=365"`
	QualityThreshold         float64       `mapstructure:"quality_threshold" validate:"gt=0,lte=1"`
	BoostThreshold           float64       `mapstructure:"boost_threshold" validate:"gt=0,lte=1"`
	PenaltyThreshold         float64       `mapstructure:"penalty_threshold" validate:"gt=0,ltfield=BoostThreshold"`
	QualityBoostThreshold    float64       `mapstructure:"quality_boost_threshold" validate:"gt=0,lte=1"`
	QualityPenaltyThreshold  float64       `mapstructure:"quality_penalty_threshold" validate:"gt=0,ltfield=QualityBoostThreshold"`
	MaxBoostFactor           float64       `mapstructure:"max_boost_factor" validate:"gt=1,lte=3"`
	MaxPenaltyFactor         float64       `mapstructure:"max_penalty_factor" validate:"gte=0.1,lt=1"`
	TemporalDecayFactor      float64       `mapstructure:"temporal_decay_factor" validate:"gt=0,lte=1"`
	CacheTTL                 time.Duration `mapstructure:"cache_ttl" validate:"positive_duration"`
	ManualBoostTTL           time.Duration `mapstructure:"manual_boost_ttl" validate:"positive_duration"`
	SourceTimeout            time.Duration `mapstructure:"source_timeout" validate:"positive_duration"`
	SourceRateLimit          float64       `mapstructure:"source_rate_limit" validate:"gte=0"`
	SourceBurst              int           `mapstructure:"source_burst" validate:"gte=0"`
	SinkTimeout              time.Duration `mapstructure:"sink_timeout" validate:"positive_duration"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return ValidateWithDetails(c)
}

// String returns a safe string representation (no secrets).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Env: %s, Server: %s:%d, Storage: %s, Cache: %s}",
		c.App.Name, c.App.Environment, c.Server.Host, c.Server.Port, c.Storage.Type, c.Cache.Type)
}

// Address returns the HTTP listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AnalyzerConfig converts the tunables for the effectiveness analyzer.
func (o OptimizerConfig) AnalyzerConfig() effectiveness.Config {
	return effectiveness.Config{
		MinSampleSize:            o.MinSampleSize,
		AnalysisWindowDays:       o.AnalysisWindowDays,
		RecommendationWindowDays: o.RecommendationWindowDays,
		QualityThreshold:         o.QualityThreshold,
		BoostThreshold:           o.BoostThreshold,
		PenaltyThreshold:         o.PenaltyThreshold,
		TemporalDecayFactor:      o.TemporalDecayFactor,
		SinkTimeout:              o.SinkTimeout,
	}
}

// RelevanceConfig converts the tunables for the relevance optimizer.
func (o OptimizerConfig) RelevanceConfig() relevance.Config {
	return relevance.Config{
		QualityBoostThreshold:    o.QualityBoostThreshold,
		QualityPenaltyThreshold:  o.QualityPenaltyThreshold,
		BoostThreshold:           o.BoostThreshold,
		PenaltyThreshold:         o.PenaltyThreshold,
		MaxBoostFactor:           o.MaxBoostFactor,
		MaxPenaltyFactor:         o.MaxPenaltyFactor,
		TemporalDecayFactor:      o.TemporalDecayFactor,
		CacheTTL:                 o.CacheTTL,
		ManualBoostTTL:           o.ManualBoostTTL,
		RecommendationWindowDays: o.RecommendationWindowDays,
		SinkTimeout:              o.SinkTimeout,
	}
}

// GuardConfig converts the source guard settings.
func (o OptimizerConfig) GuardConfig() outcome.GuardConfig {
	return outcome.GuardConfig{
		Timeout:   o.SourceTimeout,
		RateLimit: o.SourceRateLimit,
		Burst:     o.SourceBurst,
	}
}

// StoreConfig converts the Badger settings.
func (b BadgerConfig) StoreConfig() outcome.BadgerConfig {
	return outcome.BadgerConfig{
		Path:             b.Path,
		InMemory:         b.InMemory,
		SyncWrites:       b.SyncWrites,
		ValueLogFileSize: b.ValueLogFileSize,
		Retention:        b.Retention,
	}
}

// LoggerConfig converts the log settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:   logger.ParseLevel(c.Log.Level),
		Format:  c.Log.Format,
		Output:  c.Log.Output,
		Service: c.App.Name,
	}
}

// MetricsManagerConfig converts the metrics settings.
func (m MetricsConfig) MetricsManagerConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = m.Enabled
	cfg.Port = m.Port
	cfg.Path = m.Path
	return cfg
}

// TracingProviderConfig converts the tracing settings.
func (c *Config) TracingProviderConfig() tracing.Config {
	return tracing.Config{
		Enabled:     c.Tracing.Enabled,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		Insecure:    c.Tracing.Insecure,
		Headers:     c.Tracing.Headers,
		Timeout:     c.Tracing.Timeout,
		Sampler:     c.Tracing.Sampler,
		SampleRate:  c.Tracing.SampleRate,
		Environment: c.App.Environment,
	}
}
