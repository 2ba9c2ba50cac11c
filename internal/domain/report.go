package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contractual section headers for the tabular report export. Downstream
// export tooling matches on these exact strings.
const (
	SectionExecutiveSummary       = "EXECUTIVE SUMMARY"
	SectionDetailedClickData      = "DETAILED CLICK DATA"
	SectionNetworkIntelligence    = "NETWORK INTELLIGENCE"
	SectionBehavioralAnalysis     = "BEHAVIORAL ANALYSIS"
	SectionPatternAnalysis        = "PATTERN ANALYSIS"
	SectionSubmissionInstructions = "GOOGLE ADS SUBMISSION INSTRUCTIONS"
)

// Report is the structured fraud evidence document for a campaign and date
// range. It is a deterministic function of the scored-click log filtered to
// the range: the same clicks and range always produce the same report.
type Report struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Generated  time.Time `json:"generatedAt"`

	Summary      ExecutiveSummary    `json:"executiveSummary"`
	Clicks       []ClickDetailRow    `json:"detailedClickData"`
	Network      NetworkIntelligence `json:"networkIntelligence"`
	Behavioral   BehavioralAnalysis  `json:"behavioralAnalysis"`
	Patterns     PatternAnalysis     `json:"patternAnalysis"`
	Instructions []string            `json:"submissionInstructions"`
}

// ExecutiveSummary holds the headline numbers for the range.
//
// Invariant: for a report restricted to fraudulent clicks, NetLoss equals
// EstimatedAmount and FraudConversionRate is zero, since fraudulent clicks
// are defined to generate zero attributed revenue.
type ExecutiveSummary struct {
	TotalClicks      int64 `json:"totalClicks"`
	FraudulentClicks int64 `json:"fraudulentClicks"`
	DistinctFraudIPs int64 `json:"distinctFraudIps"`

	// EstimatedAmount is the total cost attributed to fraudulent clicks.
	EstimatedAmount decimal.Decimal `json:"estimatedAmount"`
	TotalRevenue    decimal.Decimal `json:"totalRevenue"`
	NetLoss         decimal.Decimal `json:"netLoss"`

	FraudRate           float64 `json:"fraudRate"`
	FraudConversionRate float64 `json:"fraudConversionRate"`

	// FraudConfidence is the mean fraud score over fraudulent clicks.
	FraudConfidence float64 `json:"fraudConfidence"`
}

// ClickDetailRow is one evidence row per scored click, with all signal
// fields spelled out for submission.
type ClickDetailRow struct {
	ClickID           string          `json:"clickId"`
	Timestamp         time.Time       `json:"timestamp"`
	SourceIP          string          `json:"sourceIp"`
	UserAgent         string          `json:"userAgent"`
	Referrer          string          `json:"referrer"`
	PageURL           string          `json:"pageUrl"`
	IPType            IPType          `json:"ipType"`
	ASN               string          `json:"asn"`
	ISP               string          `json:"isp"`
	KnownBot          string          `json:"knownBot"`
	Webdriver         string          `json:"webdriver"`
	DeviceFingerprint string          `json:"deviceFingerprint"`
	TimeOnSiteMs      string          `json:"timeOnSiteMs"`
	MouseMovement     string          `json:"mouseMovement"`
	FraudScore        int             `json:"fraudScore"`
	Decision          Decision        `json:"decision"`
	ReasonCodes       []string        `json:"reasonCodes"`
	EstimatedCost     decimal.Decimal `json:"estimatedCost"`
}

// NetworkIntelligence holds distributions over network attributes.
type NetworkIntelligence struct {
	ByIPType map[IPType]int64 `json:"byIpType"`
	ByASN    []FreqEntry      `json:"byAsn"`
	ByISP    []FreqEntry      `json:"byIsp"`
}

// BehavioralAnalysis holds distributions over behavioral signals.
type BehavioralAnalysis struct {
	WebdriverDetected SignalBreakdown `json:"webdriverDetected"`
	MouseMovement     SignalBreakdown `json:"mouseMovement"`
	TimeOnSiteBuckets []FreqEntry     `json:"timeOnSiteBuckets"`
}

// SignalBreakdown counts a tri-state boolean signal.
type SignalBreakdown struct {
	True    int64 `json:"true"`
	False   int64 `json:"false"`
	Unknown int64 `json:"unknown"`
}

// PatternAnalysis surfaces the dominant fraud patterns in the range.
type PatternAnalysis struct {
	TopReasonCodes []FreqEntry `json:"topReasonCodes"`
	TopOffenderIPs []FreqEntry `json:"topOffenderIps"`
}

// FreqEntry is a key with an occurrence count, ordered by count descending
// then key ascending so report output is deterministic.
type FreqEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}
