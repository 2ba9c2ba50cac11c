package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaScoredClicks = `
CREATE TABLE IF NOT EXISTS scored_clicks (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL,
    source_ip TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    event TEXT NOT NULL,
    signals TEXT NOT NULL,
    fraud_score INTEGER NOT NULL,
    decision TEXT NOT NULL,
    reason_codes TEXT NOT NULL,
    estimated_cost TEXT NOT NULL,
    scored_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clicks_campaign_ts ON scored_clicks(campaign_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_clicks_campaign_ip ON scored_clicks(campaign_id, source_ip, timestamp);
CREATE INDEX IF NOT EXISTS idx_clicks_decision ON scored_clicks(campaign_id, decision);
`

const schemaIPReputation = `
CREATE TABLE IF NOT EXISTS ip_reputation (
    ip TEXT PRIMARY KEY,
    list_status TEXT NOT NULL DEFAULT 'none',
    last_seen_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reputation_status ON ip_reputation(list_status);
`

const schemaCampaignAggregates = `
CREATE TABLE IF NOT EXISTS campaign_aggregates (
    campaign_id TEXT PRIMARY KEY,
    total_clicks INTEGER NOT NULL DEFAULT 0,
    fraudulent_clicks INTEGER NOT NULL DEFAULT 0,
    blocked_ip_count INTEGER NOT NULL DEFAULT 0,
    total_cost_estimate TEXT NOT NULL DEFAULT '0',
    total_revenue_estimate TEXT NOT NULL DEFAULT '0',
    last_updated_at TIMESTAMP NOT NULL
);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    points INTEGER NOT NULL,
    reason_code TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_enabled ON custom_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaScoredClicks,
		schemaIPReputation,
		schemaCampaignAggregates,
		schemaCustomRules,
	}
}
