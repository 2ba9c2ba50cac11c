// Package signals derives normalized scoring signals from raw click events.
package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/clickshield/kestrel/internal/domain"
)

// Extractor derives signals from click events. Extraction is pure and total:
// it never fails, and any signal it cannot derive is left unknown rather
// than defaulted. Network classification (IP type, ASN, ISP) is owned by the
// reputation store's range tables and merged in by the pipeline, not here.
type Extractor struct{}

// NewExtractor creates a signal extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract derives signals from a click event.
func (x *Extractor) Extract(event *domain.ClickEvent) domain.Signals {
	sig := domain.Signals{
		IPType:        domain.IPTypeUnknown,
		TimeOnSiteMs:  event.TimeOnSiteMs,
		MouseMovement: event.MouseMovement,
	}

	ua := strings.TrimSpace(event.UserAgent)
	if ua == "" {
		// No user agent at all is a concrete observation, not a missing
		// signal: real browsers always send one.
		sig.IsKnownBot = boolPtr(true)
	} else {
		lower := strings.ToLower(ua)
		sig.IsKnownBot = boolPtr(malformedUA(ua) || matchAny(lower, botPatterns))
		sig.WebdriverDetected = boolPtr(matchAny(lower, headlessPatterns))
	}

	sig.DeviceFingerprint = fingerprint(event)

	return sig
}

// fingerprint returns a stable hash over (userAgent, screenResolution,
// language, ip) when all four are present, nil otherwise.
func fingerprint(event *domain.ClickEvent) *string {
	if event.UserAgent == "" || event.SourceIP == "" ||
		event.ScreenResolution == nil || event.Language == nil {
		return nil
	}

	h := sha256.New()
	for _, part := range []string{
		event.UserAgent,
		*event.ScreenResolution,
		*event.Language,
		event.SourceIP,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	fp := hex.EncodeToString(h.Sum(nil)[:16])
	return &fp
}

// malformedUA reports whether a non-empty user agent is too degenerate to
// have come from a real browser.
func malformedUA(ua string) bool {
	if len(ua) < 10 {
		return true
	}
	for _, r := range ua {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func matchAny(lower string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
