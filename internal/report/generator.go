// Package report assembles structured fraud evidence reports from the
// scored-click log.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clickshield/kestrel/internal/domain"
)

// submissionInstructions is static templated guidance; it is not computed
// from report data.
var submissionInstructions = []string{
	"1. Sign in to your Google Ads account and open Help > Contact us.",
	"2. Select 'Report invalid clicks' and reference the campaign ID above.",
	"3. Attach the DETAILED CLICK DATA section as evidence of invalid traffic.",
	"4. Quote the estimated amount from the EXECUTIVE SUMMARY as the disputed spend.",
	"5. Cite the PATTERN ANALYSIS section to describe the observed click patterns.",
	"6. Request invalid click credit for the reported date range.",
}

// Generator builds reports from a point-in-time read of the scored-click
// log. Generation is read-only, holds no exclusive resources, and may run
// fully in parallel with ingestion.
type Generator struct {
	repo domain.Repository
}

// NewGenerator creates a report generator.
func NewGenerator(repo domain.Repository) *Generator {
	return &Generator{repo: repo}
}

// Generate assembles the report for a campaign and date range. Deterministic:
// the same clicks and range always produce the same sections. An empty or
// inverted range yields a well-formed all-zero report rather than an error,
// so export tooling always receives a complete document. The context is
// checked between sections so generation over a large range can be
// abandoned by the caller without corrupting shared state.
func (g *Generator) Generate(ctx context.Context, campaignID string, from, to time.Time) (*domain.Report, error) {
	rep := &domain.Report{
		ID:           uuid.New().String(),
		CampaignID:   campaignID,
		From:         from,
		To:           to,
		Generated:    time.Now().UTC(),
		Instructions: submissionInstructions,
		Summary: domain.ExecutiveSummary{
			EstimatedAmount: decimal.Zero,
			TotalRevenue:    decimal.Zero,
			NetLoss:         decimal.Zero,
		},
		Network: domain.NetworkIntelligence{
			ByIPType: make(map[domain.IPType]int64),
		},
	}

	var clicks []*domain.ScoredClick
	if !from.After(to) {
		var err error
		clicks, err = g.repo.ListScoredClicks(ctx, campaignID, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to read scored clicks: %w", err)
		}
	}

	for _, build := range []func([]*domain.ScoredClick, *domain.Report){
		buildSummary,
		buildClickDetail,
		buildNetwork,
		buildBehavioral,
		buildPatterns,
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		build(clicks, rep)
	}

	return rep, nil
}

func buildSummary(clicks []*domain.ScoredClick, rep *domain.Report) {
	s := &rep.Summary

	fraudIPs := make(map[string]struct{})
	scoreSum := 0

	for _, c := range clicks {
		s.TotalClicks++
		if c.Fraudulent() {
			s.FraudulentClicks++
			s.EstimatedAmount = s.EstimatedAmount.Add(c.EstimatedCost)
			scoreSum += c.FraudScore
			fraudIPs[c.Event.SourceIP] = struct{}{}
		}
	}

	s.DistinctFraudIPs = int64(len(fraudIPs))

	// Fraudulent clicks generate zero attributed revenue, so the full
	// estimated amount is lost spend and the fraud conversion rate is zero.
	s.TotalRevenue = decimal.Zero
	s.NetLoss = s.EstimatedAmount
	s.FraudConversionRate = 0

	if s.TotalClicks > 0 {
		s.FraudRate = float64(s.FraudulentClicks) / float64(s.TotalClicks)
	}
	if s.FraudulentClicks > 0 {
		s.FraudConfidence = float64(scoreSum) / float64(s.FraudulentClicks)
	}
}

func buildClickDetail(clicks []*domain.ScoredClick, rep *domain.Report) {
	rows := make([]domain.ClickDetailRow, 0, len(clicks))
	for _, c := range clicks {
		rows = append(rows, domain.ClickDetailRow{
			ClickID:           c.ID,
			Timestamp:         c.Event.Timestamp,
			SourceIP:          c.Event.SourceIP,
			UserAgent:         c.Event.UserAgent,
			Referrer:          c.Event.Referrer,
			PageURL:           c.Event.PageURL,
			IPType:            c.Signals.IPType,
			ASN:               strOrUnknown(c.Signals.ASN),
			ISP:               strOrUnknown(c.Signals.ISP),
			KnownBot:          boolOrUnknown(c.Signals.IsKnownBot),
			Webdriver:         boolOrUnknown(c.Signals.WebdriverDetected),
			DeviceFingerprint: strOrUnknown(c.Signals.DeviceFingerprint),
			TimeOnSiteMs:      intOrUnknown(c.Signals.TimeOnSiteMs),
			MouseMovement:     boolOrUnknown(c.Signals.MouseMovement),
			FraudScore:        c.FraudScore,
			Decision:          c.Decision,
			ReasonCodes:       c.ReasonCodes,
			EstimatedCost:     c.EstimatedCost,
		})
	}
	rep.Clicks = rows
}

func buildNetwork(clicks []*domain.ScoredClick, rep *domain.Report) {
	asn := make(map[string]int64)
	isp := make(map[string]int64)

	for _, c := range clicks {
		rep.Network.ByIPType[c.Signals.IPType]++
		if c.Signals.ASN != nil {
			asn[*c.Signals.ASN]++
		}
		if c.Signals.ISP != nil {
			isp[*c.Signals.ISP]++
		}
	}

	rep.Network.ByASN = sortedFreq(asn, 0)
	rep.Network.ByISP = sortedFreq(isp, 0)
}

// timeOnSiteBucket labels, in display order.
var timeBuckets = []struct {
	label string
	upTo  int64 // exclusive upper bound in ms, 0 = unbounded
}{
	{"0ms", 1},
	{"1-999ms", 1000},
	{"1s-4s", 5000},
	{"5s-29s", 30000},
	{"30s+", 0},
}

func buildBehavioral(clicks []*domain.ScoredClick, rep *domain.Report) {
	buckets := make(map[string]int64)

	for _, c := range clicks {
		countSignal(&rep.Behavioral.WebdriverDetected, c.Signals.WebdriverDetected)
		countSignal(&rep.Behavioral.MouseMovement, c.Signals.MouseMovement)

		if c.Signals.TimeOnSiteMs == nil {
			buckets["unknown"]++
			continue
		}
		ms := *c.Signals.TimeOnSiteMs
		for _, b := range timeBuckets {
			if b.upTo == 0 || ms < b.upTo {
				buckets[b.label]++
				break
			}
		}
	}

	// Emit buckets in display order, unknown last, skipping empty ones.
	var entries []domain.FreqEntry
	for _, b := range timeBuckets {
		if n := buckets[b.label]; n > 0 {
			entries = append(entries, domain.FreqEntry{Key: b.label, Count: n})
		}
	}
	if n := buckets["unknown"]; n > 0 {
		entries = append(entries, domain.FreqEntry{Key: "unknown", Count: n})
	}
	rep.Behavioral.TimeOnSiteBuckets = entries
}

func buildPatterns(clicks []*domain.ScoredClick, rep *domain.Report) {
	reasons := make(map[string]int64)
	ips := make(map[string]int64)

	for _, c := range clicks {
		for _, code := range c.ReasonCodes {
			reasons[code]++
		}
		ips[c.Event.SourceIP]++
	}

	rep.Patterns.TopReasonCodes = sortedFreq(reasons, 10)
	rep.Patterns.TopOffenderIPs = sortedFreq(ips, 10)
}

// sortedFreq orders by count descending then key ascending; limit 0 keeps
// every entry.
func sortedFreq(m map[string]int64, limit int) []domain.FreqEntry {
	entries := make([]domain.FreqEntry, 0, len(m))
	for k, n := range m {
		entries = append(entries, domain.FreqEntry{Key: k, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func countSignal(b *domain.SignalBreakdown, v *bool) {
	switch {
	case v == nil:
		b.Unknown++
	case *v:
		b.True++
	default:
		b.False++
	}
}

func strOrUnknown(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}

func boolOrUnknown(b *bool) string {
	if b == nil {
		return "unknown"
	}
	return fmt.Sprintf("%t", *b)
}

func intOrUnknown(n *int64) string {
	if n == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *n)
}
