package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/clickshield/kestrel/internal/domain"
)

// WriteCSV serializes a report to the flat tabular export format. Sections
// are introduced by their contractual header names; downstream export
// tooling splits the document on those exact strings.
func WriteCSV(w io.Writer, rep *domain.Report) error {
	cw := csv.NewWriter(w)

	writeRow := func(fields ...string) {
		_ = cw.Write(fields)
	}
	section := func(name string) {
		writeRow(name)
	}

	writeRow("Campaign", rep.CampaignID)
	writeRow("Date Range", rep.From.Format(time.RFC3339), rep.To.Format(time.RFC3339))
	writeRow("Generated", rep.Generated.Format(time.RFC3339))
	writeRow("")

	section(domain.SectionExecutiveSummary)
	s := rep.Summary
	writeRow("Total Clicks", fmt.Sprintf("%d", s.TotalClicks))
	writeRow("Fraudulent Clicks", fmt.Sprintf("%d", s.FraudulentClicks))
	writeRow("Distinct Fraud IPs", fmt.Sprintf("%d", s.DistinctFraudIPs))
	writeRow("Estimated Amount", s.EstimatedAmount.String())
	writeRow("Total Revenue", s.TotalRevenue.String())
	writeRow("Net Loss", s.NetLoss.String())
	writeRow("Fraud Rate", fmt.Sprintf("%.4f", s.FraudRate))
	writeRow("Fraud Conversion Rate", fmt.Sprintf("%.4f", s.FraudConversionRate))
	writeRow("Fraud Confidence", fmt.Sprintf("%.2f", s.FraudConfidence))
	writeRow("")

	section(domain.SectionDetailedClickData)
	writeRow("Click ID", "Timestamp", "Source IP", "User Agent", "Referrer",
		"Page URL", "IP Type", "ASN", "ISP", "Known Bot", "Webdriver",
		"Device Fingerprint", "Time On Site (ms)", "Mouse Movement",
		"Fraud Score", "Decision", "Reason Codes", "Estimated Cost")
	for _, row := range rep.Clicks {
		writeRow(
			row.ClickID,
			row.Timestamp.Format(time.RFC3339),
			row.SourceIP,
			row.UserAgent,
			row.Referrer,
			row.PageURL,
			string(row.IPType),
			row.ASN,
			row.ISP,
			row.KnownBot,
			row.Webdriver,
			row.DeviceFingerprint,
			row.TimeOnSiteMs,
			row.MouseMovement,
			fmt.Sprintf("%d", row.FraudScore),
			string(row.Decision),
			strings.Join(row.ReasonCodes, "|"),
			row.EstimatedCost.String(),
		)
	}
	writeRow("")

	section(domain.SectionNetworkIntelligence)
	writeRow("IP Type", "Clicks")
	for _, t := range []domain.IPType{domain.IPTypeResidential, domain.IPTypeDatacenter, domain.IPTypeVPN, domain.IPTypeUnknown} {
		if n := rep.Network.ByIPType[t]; n > 0 {
			writeRow(string(t), fmt.Sprintf("%d", n))
		}
	}
	writeRow("ASN", "Clicks")
	for _, e := range rep.Network.ByASN {
		writeRow(e.Key, fmt.Sprintf("%d", e.Count))
	}
	writeRow("ISP", "Clicks")
	for _, e := range rep.Network.ByISP {
		writeRow(e.Key, fmt.Sprintf("%d", e.Count))
	}
	writeRow("")

	section(domain.SectionBehavioralAnalysis)
	writeRow("Signal", "True", "False", "Unknown")
	writeRow("Webdriver Detected",
		fmt.Sprintf("%d", rep.Behavioral.WebdriverDetected.True),
		fmt.Sprintf("%d", rep.Behavioral.WebdriverDetected.False),
		fmt.Sprintf("%d", rep.Behavioral.WebdriverDetected.Unknown))
	writeRow("Mouse Movement",
		fmt.Sprintf("%d", rep.Behavioral.MouseMovement.True),
		fmt.Sprintf("%d", rep.Behavioral.MouseMovement.False),
		fmt.Sprintf("%d", rep.Behavioral.MouseMovement.Unknown))
	writeRow("Time On Site", "Clicks")
	for _, e := range rep.Behavioral.TimeOnSiteBuckets {
		writeRow(e.Key, fmt.Sprintf("%d", e.Count))
	}
	writeRow("")

	section(domain.SectionPatternAnalysis)
	writeRow("Reason Code", "Occurrences")
	for _, e := range rep.Patterns.TopReasonCodes {
		writeRow(e.Key, fmt.Sprintf("%d", e.Count))
	}
	writeRow("Offending IP", "Clicks")
	for _, e := range rep.Patterns.TopOffenderIPs {
		writeRow(e.Key, fmt.Sprintf("%d", e.Count))
	}
	writeRow("")

	section(domain.SectionSubmissionInstructions)
	for _, line := range rep.Instructions {
		writeRow(line)
	}

	cw.Flush()
	return cw.Error()
}
