package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignAggregate is the rolling per-campaign summary derived from the
// scored-click stream. Updates are monotonic increments only and are applied
// as one atomic unit per click: TotalClicks is never incremented without the
// corresponding fraud/cost fields, and vice versa.
//
// Invariant: TotalClicks >= FraudulentClicks at all times. Fraudulent clicks
// contribute zero to TotalRevenueEstimate.
type CampaignAggregate struct {
	CampaignID string `json:"campaignId"`

	TotalClicks      int64 `json:"totalClicks"`
	FraudulentClicks int64 `json:"fraudulentClicks"`

	// BlockedIPCount is the number of distinct IPs that have ever produced
	// a fraudulent decision for this campaign.
	BlockedIPCount int64 `json:"blockedIpCount"`

	TotalCostEstimate    decimal.Decimal `json:"totalCostEstimate"`
	TotalRevenueEstimate decimal.Decimal `json:"totalRevenueEstimate"`

	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// NewCampaignAggregate returns a zeroed aggregate for a campaign.
func NewCampaignAggregate(campaignID string) *CampaignAggregate {
	return &CampaignAggregate{
		CampaignID:           campaignID,
		TotalCostEstimate:    decimal.Zero,
		TotalRevenueEstimate: decimal.Zero,
	}
}

// FraudRate returns the fraction of clicks classified as fraudulent.
func (a *CampaignAggregate) FraudRate() float64 {
	if a.TotalClicks == 0 {
		return 0
	}
	return float64(a.FraudulentClicks) / float64(a.TotalClicks)
}
