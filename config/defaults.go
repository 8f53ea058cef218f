package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "memopt",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     10 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				RequestTimeout:  10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
				MaxBodyBytes:    4 << 20, // 4MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				MaxAge:         300,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Insecure:   true,
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:             "./data/outcomes",
				SyncWrites:       true,
				ValueLogFileSize: 256 << 20, // 256MB
				Retention:        90 * 24 * time.Hour,
			},
		},
		Cache: CacheConfig{
			Type: "memory",
			Redis: RedisConfig{
				Address:     "localhost:6379",
				DB:          0,
				Prefix:      "memopt:cache:",
				DialTimeout: 5 * time.Second,
			},
		},
		Optimizer: OptimizerConfig{
			MinSampleSize:            10,
			AnalysisWindowDays:       14,
			RecommendationWindowDays: 7,
			QualityThreshold:         0.7,
			BoostThreshold:           0.8,
			PenaltyThreshold:         0.3,
			QualityBoostThreshold:    0.8,
			QualityPenaltyThreshold:  0.4,
			MaxBoostFactor:           2.5,
			MaxPenaltyFactor:         0.3,
			TemporalDecayFactor:      0.95,
			CacheTTL:                 30 * time.Minute,
			ManualBoostTTL:           24 * time.Hour,
			SourceTimeout:            2 * time.Second,
			SourceRateLimit:          50,
			SourceBurst:              100,
			SinkTimeout:              500 * time.Millisecond,
		},
	}
}
