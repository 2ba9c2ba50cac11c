package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring policy
	Scoring ScoringConfig `json:"scoring"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringConfig holds the tunable scoring policy. The additive mechanism is
// fixed; the thresholds and weights are deployment configuration, not
// authoritative anti-fraud tuning.
type ScoringConfig struct {
	// FraudThreshold is the score at or above which a click is fraudulent.
	FraudThreshold int `json:"fraudThreshold"`

	// VelocityThreshold is the per-IP-and-campaign click count within the
	// window above which the velocity rule triggers.
	VelocityThreshold int64 `json:"velocityThreshold"`

	// VelocityWindow is the sliding window for click counting.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// ReputationTimeout bounds the reputation store's backing lookup.
	// On expiry the click is scored with list status "none".
	ReputationTimeout time.Duration `json:"reputationTimeout"`

	// EstimatedCPC is the currency-agnostic cost estimate attributed to
	// each click when the caller provides none.
	EstimatedCPC decimal.Decimal `json:"estimatedCpc"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultScoringConfig returns the default scoring policy.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		FraudThreshold:    50,
		VelocityThreshold: 10,
		VelocityWindow:    time.Hour,
		ReputationTimeout: 150 * time.Millisecond,
		EstimatedCPC:      decimal.NewFromFloat(1.50),
	}
}

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: DefaultScoringConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
