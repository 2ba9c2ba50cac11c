// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Scored click log (append-only).
	SaveScoredClick(ctx context.Context, click *ScoredClick) error
	GetScoredClick(ctx context.Context, clickID string) (*ScoredClick, error)

	// ListScoredClicks returns the scored clicks for a campaign within
	// [from, to), ordered by timestamp ascending. This is the point-in-time
	// read the report generator builds on.
	ListScoredClicks(ctx context.Context, campaignID string, from, to time.Time) ([]*ScoredClick, error)

	// CountClicksByIP counts clicks recorded for an IP and campaign since
	// the given time. Used as the velocity fallback when the counter cache
	// is cold.
	CountClicksByIP(ctx context.Context, campaignID, ip string, since time.Time) (int64, error)

	// IP reputation.
	SaveReputation(ctx context.Context, rec *ReputationRecord) error
	GetReputation(ctx context.Context, ip string) (*ReputationRecord, error)
	ListReputations(ctx context.Context, status ListStatus) ([]*ReputationRecord, error)

	// Campaign aggregates.
	SaveAggregate(ctx context.Context, agg *CampaignAggregate) error
	GetAggregate(ctx context.Context, campaignID string) (*CampaignAggregate, error)

	// Custom rule configurations.
	SaveCustomRule(ctx context.Context, rule *CustomRuleConfig) error
	GetCustomRule(ctx context.Context, ruleID string) (*CustomRuleConfig, error)
	ListCustomRules(ctx context.Context) ([]*CustomRuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
