//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel click
// scoring engine.
//
// These tests verify the COMPLETE scoring pipeline against a running server:
//
//	Click → Signals → Reputation → Scoring → Decision → Aggregates → Report
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. CLICK: An ad-click event reported by the collection snippet. Carries
//    the source IP, user agent, and optional behavioral measurements.
//
// 2. SIGNALS: Tri-state observations extracted from the click (known bot,
//    headless browser, IP type, time on site). Unreported signals stay
//    unknown and never contribute to the score.
//
// 3. SCORING: Additive rule chain. Each triggered rule adds points and a
//    reason code; score >= 50 means the click is fraudulent. Blocklisted
//    IPs short-circuit to 100, allowlisted IPs to 0.
//
// 4. REPORT: Deterministic refund-grade evidence document per campaign and
//    date range, exportable as CSV.
//
// The server must be running with a clean database. Point the tests at it
// with KESTREL_TEST_URL (defaults to http://localhost:8080).
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// CollectRequest is the click event sent to POST /collect
type CollectRequest struct {
	SnippetID     string `json:"snippetId"`
	CampaignID    string `json:"campaignId,omitempty"`
	SourceIP      string `json:"sourceIp"`
	UserAgent     string `json:"userAgent"`
	Referrer      string `json:"referrer,omitempty"`
	PageURL       string `json:"pageUrl,omitempty"`
	TimeOnSiteMs  *int64 `json:"timeOnSiteMs,omitempty"`
	MouseMovement *bool  `json:"mouseMovement,omitempty"`
}

// CollectResponse is what POST /collect returns. Scores and reason codes
// are never exposed to the snippet.
type CollectResponse struct {
	Blocked bool   `json:"blocked"`
	Message string `json:"message"`
}

// ReputationRequest is the body for PUT /reputation/{ip}
type ReputationRequest struct {
	Status string `json:"status"`
}

// ReportSummary mirrors the executive summary section of GET /reports.
type ReportSummary struct {
	TotalClicks      int64   `json:"totalClicks"`
	FraudulentClicks int64   `json:"fraudulentClicks"`
	DistinctFraudIPs int64   `json:"distinctFraudIps"`
	EstimatedAmount  string  `json:"estimatedAmount"`
	NetLoss          string  `json:"netLoss"`
	FraudRate        float64 `json:"fraudRate"`
}

type Report struct {
	CampaignID string        `json:"campaignId"`
	Summary    ReportSummary `json:"executiveSummary"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func collect(t *testing.T, config TestConfig, req CollectRequest) CollectResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/collect", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result CollectResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func setReputation(t *testing.T, config TestConfig, ip, status string) {
	t.Helper()

	body, _ := json.Marshal(ReputationRequest{Status: status})
	httpReq, err := http.NewRequest("PUT", config.BaseURL+"/reputation/"+ip, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient().Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}
}

func fetchReport(t *testing.T, config TestConfig, campaignID string) Report {
	t.Helper()

	resp, err := httpClient().Get(config.BaseURL + "/reports/" + campaignID)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var rep Report
	if err := json.Unmarshal(respBody, &rep); err != nil {
		t.Fatalf("Failed to unmarshal report: %v (body: %s)", err, string(respBody))
	}

	return rep
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ============================================================================
// SCENARIO 1: Normal Browser Click (Recorded)
// ============================================================================

func TestNormalClick_Recorded(t *testing.T) {
	/*
	   SCENARIO: A regular browser click with healthy behavioral signals

	   EXPECTED BEHAVIOR:
	   - known bot check: real Chrome UA → no points
	   - headless check: no headless markers → no points
	   - dead session check: 15s on site with mouse movement → no points

	   FINAL DECISION: score 0 → not blocked
	*/
	config := getTestConfig()

	timeOnSite := int64(15000)
	moved := true

	result := collect(t, config, CollectRequest{
		SnippetID:     "it-snippet-1",
		CampaignID:    "it-camp-normal",
		SourceIP:      "203.0.113.60",
		UserAgent:     browserUA,
		TimeOnSiteMs:  &timeOnSite,
		MouseMovement: &moved,
	})

	if result.Blocked {
		t.Error("Expected normal click not to be blocked")
	}
	if result.Message != "recorded" {
		t.Errorf("Expected message 'recorded', got %q", result.Message)
	}
}

// ============================================================================
// SCENARIO 2: Bot Click (Blocked)
// ============================================================================

func TestBotClick_Blocked(t *testing.T) {
	/*
	   SCENARIO: A crawler reports a click through the snippet

	   EXPECTED BEHAVIOR:
	   - known bot check: Googlebot UA → +60 points

	   FINAL DECISION: score 60 >= 50 → blocked
	*/
	config := getTestConfig()

	result := collect(t, config, CollectRequest{
		SnippetID:  "it-snippet-1",
		CampaignID: "it-camp-bot",
		SourceIP:   "203.0.113.61",
		UserAgent:  "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	})

	if !result.Blocked {
		t.Error("Expected bot click to be blocked")
	}
	if result.Message != "blocked" {
		t.Errorf("Expected message 'blocked', got %q", result.Message)
	}
}

// ============================================================================
// SCENARIO 3: Blocklisted IP Short-Circuit
// ============================================================================

func TestBlocklistedIP_AlwaysBlocked(t *testing.T) {
	/*
	   SCENARIO: An admin blocklists an IP, then a pristine-looking click
	   arrives from it

	   EXPECTED BEHAVIOR:
	   - blocklist check short-circuits to score 100 before any other rule

	   FINAL DECISION: blocked regardless of signals
	*/
	config := getTestConfig()
	ip := "203.0.113.62"

	setReputation(t, config, ip, "blocklisted")

	timeOnSite := int64(30000)
	moved := true

	result := collect(t, config, CollectRequest{
		SnippetID:     "it-snippet-1",
		CampaignID:    "it-camp-blocklist",
		SourceIP:      ip,
		UserAgent:     browserUA,
		TimeOnSiteMs:  &timeOnSite,
		MouseMovement: &moved,
	})

	if !result.Blocked {
		t.Error("Expected blocklisted IP to be blocked")
	}
}

// ============================================================================
// SCENARIO 4: Allowlisted IP Short-Circuit
// ============================================================================

func TestAllowlistedIP_NeverBlocked(t *testing.T) {
	/*
	   SCENARIO: An admin allowlists an office IP, then an automated
	   monitoring probe clicks from it

	   EXPECTED BEHAVIOR:
	   - allowlist check short-circuits to score 0 even for a bot UA

	   FINAL DECISION: never blocked
	*/
	config := getTestConfig()
	ip := "203.0.113.63"

	setReputation(t, config, ip, "allowlisted")

	result := collect(t, config, CollectRequest{
		SnippetID:  "it-snippet-1",
		CampaignID: "it-camp-allowlist",
		SourceIP:   ip,
		UserAgent:  "curl/8.4.0",
	})

	if result.Blocked {
		t.Error("Expected allowlisted IP never to be blocked")
	}
}

// ============================================================================
// SCENARIO 5: Velocity Abuse
// ============================================================================

func TestClickVelocity_EventuallyBlocked(t *testing.T) {
	/*
	   SCENARIO: The same IP hammers one campaign

	   EXPECTED BEHAVIOR:
	   - clicks 1-10: under the velocity threshold → not blocked
	   - click 11+: velocity rule fires (+30), still under the fraud
	     threshold on its own, so the run is only visible in the report

	   This test drives 11 clicks and verifies none error out; the scoring
	   outcome is asserted through the campaign report below.
	*/
	config := getTestConfig()
	campaign := fmt.Sprintf("it-camp-velocity-%d", time.Now().UnixNano())

	for i := 0; i < 11; i++ {
		result := collect(t, config, CollectRequest{
			SnippetID:  "it-snippet-1",
			CampaignID: campaign,
			SourceIP:   "203.0.113.64",
			UserAgent:  browserUA,
		})
		if i < 10 && result.Blocked {
			t.Fatalf("Click %d blocked below velocity threshold", i+1)
		}
	}

	rep := fetchReport(t, config, campaign)
	if rep.Summary.TotalClicks != 11 {
		t.Errorf("Expected 11 clicks in report, got %d", rep.Summary.TotalClicks)
	}
}

// ============================================================================
// SCENARIO 6: Campaign Report
// ============================================================================

func TestCampaignReport_ReflectsClicks(t *testing.T) {
	/*
	   SCENARIO: A campaign receives a mix of bot and browser clicks, then
	   the advertiser pulls the refund evidence report

	   EXPECTED BEHAVIOR:
	   - totals match the submitted clicks
	   - fraudulent count covers only the bot clicks
	   - estimated amount = fraudulent clicks x configured CPC
	*/
	config := getTestConfig()
	campaign := fmt.Sprintf("it-camp-report-%d", time.Now().UnixNano())

	for i := 0; i < 3; i++ {
		collect(t, config, CollectRequest{
			SnippetID:  "it-snippet-1",
			CampaignID: campaign,
			SourceIP:   fmt.Sprintf("203.0.113.%d", 70+i),
			UserAgent:  "python-requests/2.31.0",
		})
	}
	collect(t, config, CollectRequest{
		SnippetID:  "it-snippet-1",
		CampaignID: campaign,
		SourceIP:   "203.0.113.80",
		UserAgent:  browserUA,
	})

	rep := fetchReport(t, config, campaign)

	if rep.CampaignID != campaign {
		t.Errorf("Expected campaign %s, got %s", campaign, rep.CampaignID)
	}
	if rep.Summary.TotalClicks != 4 {
		t.Errorf("Expected 4 total clicks, got %d", rep.Summary.TotalClicks)
	}
	if rep.Summary.FraudulentClicks != 3 {
		t.Errorf("Expected 3 fraudulent clicks, got %d", rep.Summary.FraudulentClicks)
	}
	if rep.Summary.DistinctFraudIPs != 3 {
		t.Errorf("Expected 3 distinct fraud IPs, got %d", rep.Summary.DistinctFraudIPs)
	}
	if rep.Summary.NetLoss != rep.Summary.EstimatedAmount {
		t.Errorf("Expected net loss to equal estimated amount, got %s vs %s",
			rep.Summary.NetLoss, rep.Summary.EstimatedAmount)
	}
}
