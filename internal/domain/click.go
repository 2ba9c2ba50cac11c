package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClickEvent is an incoming click as reported by the collection snippet.
// It is immutable once received; the engine persists it only in scored form.
type ClickEvent struct {
	ID        string `json:"id"`
	SnippetID string `json:"snippetId"`

	// CampaignID is resolved by the ingestion boundary. When empty the
	// snippet ID doubles as the campaign ID.
	CampaignID string `json:"campaignId,omitempty"`

	SourceIP  string    `json:"sourceIp"`
	UserAgent string    `json:"userAgent"`
	Referrer  string    `json:"referrer,omitempty"`
	PageURL   string    `json:"pageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Optional client-side hints. Nil means not reported.
	ScreenResolution *string `json:"screenResolution,omitempty"`
	Language         *string `json:"language,omitempty"`

	// Follow-up behavioral signals, if the snippet reported them.
	TimeOnSiteMs  *int64 `json:"timeOnSiteMs,omitempty"`
	MouseMovement *bool  `json:"mouseMovement,omitempty"`

	// Caller-asserted and not trusted by the engine.
	IsAdClickHint bool `json:"isAdClick,omitempty"`
}

// Campaign returns the effective campaign identifier for the event.
func (e *ClickEvent) Campaign() string {
	if e.CampaignID != "" {
		return e.CampaignID
	}
	return e.SnippetID
}

// IPType classifies the network origin of a click.
type IPType string

const (
	IPTypeResidential IPType = "residential"
	IPTypeDatacenter  IPType = "datacenter"
	IPTypeVPN         IPType = "vpn"
	IPTypeUnknown     IPType = "unknown"
)

// Signals holds the attributes derived from a click event. Every optional
// signal is either a concrete value or nil, never a sentinel zero, so the
// scoring engine can tell "measured zero" from "not measured". Unknown
// signals are excluded from scoring, not defaulted.
type Signals struct {
	// User-agent classification. Nil when no user agent was reported.
	IsKnownBot        *bool `json:"isKnownBot,omitempty"`
	WebdriverDetected *bool `json:"webdriverDetected,omitempty"`

	// Network classification, filled by the reputation store's range tables.
	IPType IPType  `json:"ipType"`
	ASN    *string `json:"asn,omitempty"`
	ISP    *string `json:"isp,omitempty"`

	// Stable hash over (userAgent, screenResolution, language, ip) when all
	// four are present; nil otherwise.
	DeviceFingerprint *string `json:"deviceFingerprint,omitempty"`

	// Behavioral signals carried through from the event.
	TimeOnSiteMs  *int64 `json:"timeOnSiteMs,omitempty"`
	MouseMovement *bool  `json:"mouseMovement,omitempty"`
}

// Decision is the engine's classification of a click.
type Decision string

const (
	DecisionLegitimate Decision = "legitimate"
	DecisionFraudulent Decision = "fraudulent"
)

// Reason codes for built-in rules, in chain priority order. The ordering of
// reason codes in a ScoredClick is reproducible across runs and is relied on
// by the report generator.
const (
	ReasonBlocklistedIP = "blocklisted-ip"
	ReasonAllowlistedIP = "allowlisted-ip"
	ReasonKnownBotUA    = "known-bot-ua"
	ReasonHeadless      = "headless-browser"
	ReasonDatacenterIP  = "datacenter-or-vpn-ip"
	ReasonVelocityAbuse = "click-velocity-abuse"
	ReasonDeadSession   = "dead-session"
)

// ScoredClick is the append-only record of a scored click event.
// Immutable once written; the only mutable downstream effect is the
// campaign aggregate counters.
type ScoredClick struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaignId"`

	Event   ClickEvent `json:"event"`
	Signals Signals    `json:"signals"`

	// FraudScore is the additive point total in [0,100].
	FraudScore  int      `json:"fraudScore"`
	Decision    Decision `json:"decision"`
	ReasonCodes []string `json:"reasonCodes"`

	// EstimatedCost is a currency-agnostic cost estimate for the click.
	EstimatedCost decimal.Decimal `json:"estimatedCost"`

	ScoredAt time.Time `json:"scoredAt"`
}

// Fraudulent reports whether the click was classified as fraudulent.
func (c *ScoredClick) Fraudulent() bool {
	return c.Decision == DecisionFraudulent
}

// ScoreResult is what the scoring engine returns for one click.
type ScoreResult struct {
	Score       int      `json:"score"`
	Decision    Decision `json:"decision"`
	ReasonCodes []string `json:"reasonCodes"`
}

// CollectResponse is the only shape the snippet-facing caller ever sees.
type CollectResponse struct {
	Blocked bool   `json:"blocked"`
	Message string `json:"message"`
}
