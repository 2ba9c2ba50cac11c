package signals

import (
	"testing"

	"github.com/clickshield/kestrel/internal/domain"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestExtractKnownBots(t *testing.T) {
	x := NewExtractor()

	tests := []struct {
		name string
		ua   string
		bot  bool
	}{
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true},
		{"bingbot", "Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)", true},
		{"curl", "curl/8.4.0", true},
		{"python requests", "python-requests/2.31.0", true},
		{"scrapy", "Scrapy/2.11.0 (+https://scrapy.org)", true},
		{"real chrome", chromeUA, false},
		{"real firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := x.Extract(&domain.ClickEvent{UserAgent: tt.ua, SourceIP: "203.0.113.10"})
			if sig.IsKnownBot == nil {
				t.Fatal("expected concrete bot signal for non-empty user agent")
			}
			if *sig.IsKnownBot != tt.bot {
				t.Errorf("IsKnownBot = %v, want %v", *sig.IsKnownBot, tt.bot)
			}
		})
	}
}

func TestExtractEmptyUserAgentIsBot(t *testing.T) {
	x := NewExtractor()

	sig := x.Extract(&domain.ClickEvent{UserAgent: "", SourceIP: "203.0.113.10"})

	// A missing user agent is a concrete observation: real browsers always
	// send one.
	if sig.IsKnownBot == nil || !*sig.IsKnownBot {
		t.Error("expected empty user agent to classify as a known bot")
	}
	// Webdriver cannot be judged without a user agent.
	if sig.WebdriverDetected != nil {
		t.Error("expected webdriver signal to be unknown without a user agent")
	}
}

func TestExtractMalformedUserAgent(t *testing.T) {
	x := NewExtractor()

	for _, ua := range []string{"x", "1234567890123", "-- --- --"} {
		sig := x.Extract(&domain.ClickEvent{UserAgent: ua, SourceIP: "203.0.113.10"})
		if sig.IsKnownBot == nil || !*sig.IsKnownBot {
			t.Errorf("expected malformed user agent %q to classify as bot", ua)
		}
	}
}

func TestExtractHeadless(t *testing.T) {
	x := NewExtractor()

	headless := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36"
	sig := x.Extract(&domain.ClickEvent{UserAgent: headless, SourceIP: "203.0.113.10"})

	if sig.WebdriverDetected == nil || !*sig.WebdriverDetected {
		t.Error("expected headless chrome to be flagged")
	}

	sig = x.Extract(&domain.ClickEvent{UserAgent: chromeUA, SourceIP: "203.0.113.10"})
	if sig.WebdriverDetected == nil || *sig.WebdriverDetected {
		t.Error("expected regular chrome to not be flagged as webdriver")
	}
}

func TestExtractFingerprint(t *testing.T) {
	x := NewExtractor()

	screen := "1920x1080"
	lang := "en-US"

	full := &domain.ClickEvent{
		UserAgent:        chromeUA,
		SourceIP:         "203.0.113.10",
		ScreenResolution: &screen,
		Language:         &lang,
	}

	sig := x.Extract(full)
	if sig.DeviceFingerprint == nil {
		t.Fatal("expected fingerprint when all components present")
	}
	if len(*sig.DeviceFingerprint) != 32 {
		t.Errorf("fingerprint length = %d, want 32 hex chars", len(*sig.DeviceFingerprint))
	}

	// Same inputs, same fingerprint.
	again := x.Extract(full)
	if *again.DeviceFingerprint != *sig.DeviceFingerprint {
		t.Error("fingerprint is not stable across extractions")
	}

	// Different IP, different fingerprint.
	other := *full
	other.SourceIP = "203.0.113.11"
	if fp := x.Extract(&other); *fp.DeviceFingerprint == *sig.DeviceFingerprint {
		t.Error("expected different fingerprint for different IP")
	}

	// Missing any component means no fingerprint.
	partial := *full
	partial.Language = nil
	if fp := x.Extract(&partial); fp.DeviceFingerprint != nil {
		t.Error("expected no fingerprint when language is missing")
	}
}

func TestExtractBehavioralPassthrough(t *testing.T) {
	x := NewExtractor()

	ms := int64(0)
	moved := false

	sig := x.Extract(&domain.ClickEvent{
		UserAgent:     chromeUA,
		SourceIP:      "203.0.113.10",
		TimeOnSiteMs:  &ms,
		MouseMovement: &moved,
	})

	if sig.TimeOnSiteMs == nil || *sig.TimeOnSiteMs != 0 {
		t.Error("expected measured zero time-on-site to survive extraction")
	}
	if sig.MouseMovement == nil || *sig.MouseMovement {
		t.Error("expected measured false mouse movement to survive extraction")
	}

	// Unreported behavioral signals stay unknown.
	sig = x.Extract(&domain.ClickEvent{UserAgent: chromeUA, SourceIP: "203.0.113.10"})
	if sig.TimeOnSiteMs != nil || sig.MouseMovement != nil {
		t.Error("expected unreported behavioral signals to stay unknown")
	}
}

func TestExtractIPTypeLeftUnknown(t *testing.T) {
	x := NewExtractor()

	// Network classification belongs to the reputation store.
	sig := x.Extract(&domain.ClickEvent{UserAgent: chromeUA, SourceIP: "3.1.2.3"})
	if sig.IPType != domain.IPTypeUnknown {
		t.Errorf("IPType = %s, want unknown from extractor", sig.IPType)
	}
}
