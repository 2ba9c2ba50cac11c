// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clickshield/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveScoredClick appends a scored click to the log.
func (r *SQLRepository) SaveScoredClick(ctx context.Context, click *domain.ScoredClick) error {
	if click.ID == "" {
		return fmt.Errorf("%w: click ID is required", domain.ErrInvalidInput)
	}

	event, err := json.Marshal(click.Event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	signals, err := json.Marshal(click.Signals)
	if err != nil {
		return fmt.Errorf("failed to encode signals: %w", err)
	}
	reasons, _ := json.Marshal(click.ReasonCodes)

	query := `
		INSERT INTO scored_clicks (
			id, campaign_id, source_ip, timestamp, event, signals,
			fraud_score, decision, reason_codes, estimated_cost, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		click.ID, click.CampaignID, click.Event.SourceIP, click.Event.Timestamp,
		string(event), string(signals),
		click.FraudScore, string(click.Decision), string(reasons),
		click.EstimatedCost.String(), click.ScoredAt,
	)
	return err
}

// GetScoredClick retrieves one scored click by ID.
func (r *SQLRepository) GetScoredClick(ctx context.Context, clickID string) (*domain.ScoredClick, error) {
	query := `
		SELECT id, campaign_id, event, signals, fraud_score, decision,
		       reason_codes, estimated_cost, scored_at
		FROM scored_clicks
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), clickID)
	click, err := scanClick(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return click, err
}

// ListScoredClicks returns the scored clicks for a campaign within
// [from, to), ordered by timestamp ascending then ID for determinism.
func (r *SQLRepository) ListScoredClicks(ctx context.Context, campaignID string, from, to time.Time) ([]*domain.ScoredClick, error) {
	query := `
		SELECT id, campaign_id, event, signals, fraud_score, decision,
		       reason_codes, estimated_cost, scored_at
		FROM scored_clicks
		WHERE campaign_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), campaignID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clicks []*domain.ScoredClick
	for rows.Next() {
		click, err := scanClick(rows)
		if err != nil {
			return nil, err
		}
		clicks = append(clicks, click)
	}

	return clicks, rows.Err()
}

// CountClicksByIP counts clicks for an IP and campaign since the given time.
func (r *SQLRepository) CountClicksByIP(ctx context.Context, campaignID, ip string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM scored_clicks
		WHERE campaign_id = ? AND source_ip = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), campaignID, ip, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	return count, nil
}

// SaveReputation upserts a reputation record. Last write wins.
func (r *SQLRepository) SaveReputation(ctx context.Context, rec *domain.ReputationRecord) error {
	if rec.IP == "" {
		return fmt.Errorf("%w: ip is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO ip_reputation (ip, list_status, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			list_status = excluded.list_status,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.IP, string(rec.ListStatus), rec.LastSeenAt, rec.UpdatedAt,
	)
	return err
}

// GetReputation retrieves a reputation record by IP.
func (r *SQLRepository) GetReputation(ctx context.Context, ip string) (*domain.ReputationRecord, error) {
	query := `
		SELECT ip, list_status, last_seen_at, updated_at
		FROM ip_reputation
		WHERE ip = ?
	`

	var rec domain.ReputationRecord
	var status string

	err := r.db.QueryRowContext(ctx, r.rebind(query), ip).Scan(
		&rec.IP, &status, &rec.LastSeenAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.ListStatus = domain.ListStatus(status)
	return &rec, nil
}

// ListReputations retrieves all records with the given list status.
func (r *SQLRepository) ListReputations(ctx context.Context, status domain.ListStatus) ([]*domain.ReputationRecord, error) {
	query := `
		SELECT ip, list_status, last_seen_at, updated_at
		FROM ip_reputation
		WHERE list_status = ?
		ORDER BY ip
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.ReputationRecord
	for rows.Next() {
		var rec domain.ReputationRecord
		var s string
		if err := rows.Scan(&rec.IP, &s, &rec.LastSeenAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.ListStatus = domain.ListStatus(s)
		recs = append(recs, &rec)
	}

	return recs, rows.Err()
}

// SaveAggregate upserts a campaign aggregate snapshot.
func (r *SQLRepository) SaveAggregate(ctx context.Context, agg *domain.CampaignAggregate) error {
	if agg.CampaignID == "" {
		return fmt.Errorf("%w: campaign ID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO campaign_aggregates (
			campaign_id, total_clicks, fraudulent_clicks, blocked_ip_count,
			total_cost_estimate, total_revenue_estimate, last_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET
			total_clicks = excluded.total_clicks,
			fraudulent_clicks = excluded.fraudulent_clicks,
			blocked_ip_count = excluded.blocked_ip_count,
			total_cost_estimate = excluded.total_cost_estimate,
			total_revenue_estimate = excluded.total_revenue_estimate,
			last_updated_at = excluded.last_updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		agg.CampaignID, agg.TotalClicks, agg.FraudulentClicks, agg.BlockedIPCount,
		agg.TotalCostEstimate.String(), agg.TotalRevenueEstimate.String(),
		agg.LastUpdatedAt,
	)
	return err
}

// GetAggregate retrieves a campaign aggregate.
func (r *SQLRepository) GetAggregate(ctx context.Context, campaignID string) (*domain.CampaignAggregate, error) {
	query := `
		SELECT campaign_id, total_clicks, fraudulent_clicks, blocked_ip_count,
		       total_cost_estimate, total_revenue_estimate, last_updated_at
		FROM campaign_aggregates
		WHERE campaign_id = ?
	`

	var agg domain.CampaignAggregate
	var cost, revenue string

	err := r.db.QueryRowContext(ctx, r.rebind(query), campaignID).Scan(
		&agg.CampaignID, &agg.TotalClicks, &agg.FraudulentClicks, &agg.BlockedIPCount,
		&cost, &revenue, &agg.LastUpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if agg.TotalCostEstimate, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("failed to parse cost estimate: %w", err)
	}
	if agg.TotalRevenueEstimate, err = decimal.NewFromString(revenue); err != nil {
		return nil, fmt.Errorf("failed to parse revenue estimate: %w", err)
	}

	return &agg, nil
}

// SaveCustomRule upserts a custom rule configuration.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, rule *domain.CustomRuleConfig) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", domain.ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO custom_rules (
			id, name, description, expression, points, reason_code,
			enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			points = excluded.points,
			reason_code = excluded.reason_code,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		rule.Points, rule.ReasonCode, enabled, now, now,
	)
	return err
}

// GetCustomRule retrieves a custom rule by ID.
func (r *SQLRepository) GetCustomRule(ctx context.Context, ruleID string) (*domain.CustomRuleConfig, error) {
	query := `
		SELECT id, name, description, expression, points, reason_code,
		       enabled, created_at, updated_at
		FROM custom_rules
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListCustomRules retrieves all custom rules, enabled or not, ordered by ID.
func (r *SQLRepository) ListCustomRules(ctx context.Context) ([]*domain.CustomRuleConfig, error) {
	query := `
		SELECT id, name, description, expression, points, reason_code,
		       enabled, created_at, updated_at
		FROM custom_rules
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.CustomRuleConfig
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, rule)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClick(row scanner) (*domain.ScoredClick, error) {
	var click domain.ScoredClick
	var event, signals, reasons, cost, decision string

	err := row.Scan(
		&click.ID, &click.CampaignID, &event, &signals,
		&click.FraudScore, &decision, &reasons, &cost, &click.ScoredAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(event), &click.Event); err != nil {
		return nil, fmt.Errorf("failed to parse event for click %s: %w", click.ID, err)
	}
	if err := json.Unmarshal([]byte(signals), &click.Signals); err != nil {
		return nil, fmt.Errorf("failed to parse signals for click %s: %w", click.ID, err)
	}
	if err := json.Unmarshal([]byte(reasons), &click.ReasonCodes); err != nil {
		return nil, fmt.Errorf("failed to parse reason codes for click %s: %w", click.ID, err)
	}
	if click.EstimatedCost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("failed to parse cost for click %s: %w", click.ID, err)
	}
	click.Decision = domain.Decision(decision)

	return &click, nil
}

func scanRule(row scanner) (*domain.CustomRuleConfig, error) {
	var rule domain.CustomRuleConfig
	var enabled int

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Expression,
		&rule.Points, &rule.ReasonCode, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
