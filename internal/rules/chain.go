// Package rules implements the deterministic click scoring engine: an
// ordered chain of built-in point rules plus an optional CEL-based layer of
// operator-defined rules.
package rules

import (
	"context"

	"github.com/clickshield/kestrel/internal/domain"
)

// Rule is one link in the ordered scoring chain. A rule either abstains
// (insufficient signal) or contributes a fixed point delta under its reason
// code. Rules must be pure: same inputs, same verdict.
type Rule interface {
	// Code returns the rule's reason code.
	Code() string

	// Evaluate returns the point contribution and whether the rule
	// triggered. Abstaining rules return (0, false).
	Evaluate(sig *domain.Signals, rep *domain.Reputation) (points int, triggered bool)
}

// Scorer combines signals and reputation into a fraud score and decision via
// the rule chain. Rules evaluate in a fixed priority order so the reason
// code list is reproducible across runs given identical input; the report
// generator and tests depend on that ordering.
type Scorer struct {
	threshold int
	chain     []Rule
	custom    *CustomEngine
}

// NewScorer builds a scorer with the built-in chain from the scoring config.
// The custom engine is optional.
func NewScorer(cfg domain.ScoringConfig, custom *CustomEngine) *Scorer {
	threshold := cfg.FraudThreshold
	if threshold <= 0 {
		threshold = 50
	}

	return &Scorer{
		threshold: threshold,
		chain: []Rule{
			knownBotRule{},
			headlessRule{},
			ipTypeRule{},
			velocityRule{threshold: cfg.VelocityThreshold},
			deadSessionRule{},
		},
		custom: custom,
	}
}

// Score evaluates the chain for one click. Deterministic: scoring the same
// (signals, reputation) pair twice yields identical score and reason code
// ordering. The list short-circuits evaluate first:
// a blocklisted IP is fraudulent at score 100 and an allowlisted IP is
// legitimate at score 0, regardless of every other signal.
func (s *Scorer) Score(ctx context.Context, sig *domain.Signals, rep *domain.Reputation) domain.ScoreResult {
	switch rep.ListStatus {
	case domain.ListStatusBlocklisted:
		return domain.ScoreResult{
			Score:       100,
			Decision:    domain.DecisionFraudulent,
			ReasonCodes: []string{domain.ReasonBlocklistedIP},
		}
	case domain.ListStatusAllowlisted:
		return domain.ScoreResult{
			Score:       0,
			Decision:    domain.DecisionLegitimate,
			ReasonCodes: []string{domain.ReasonAllowlistedIP},
		}
	}

	score := 0
	var reasons []string

	for _, rule := range s.chain {
		if points, ok := rule.Evaluate(sig, rep); ok {
			score += points
			reasons = append(reasons, rule.Code())
		}
	}

	if s.custom != nil {
		for _, v := range s.custom.Evaluate(ctx, sig, rep) {
			score += v.Points
			reasons = append(reasons, v.ReasonCode)
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	decision := domain.DecisionLegitimate
	if score >= s.threshold {
		decision = domain.DecisionFraudulent
	}

	return domain.ScoreResult{
		Score:       score,
		Decision:    decision,
		ReasonCodes: reasons,
	}
}

// Threshold returns the configured fraud threshold.
func (s *Scorer) Threshold() int {
	return s.threshold
}

// knownBotRule triggers on known bot/crawler user agents. Abstains when the
// user-agent signal is unknown.
type knownBotRule struct{}

func (knownBotRule) Code() string { return domain.ReasonKnownBotUA }

func (knownBotRule) Evaluate(sig *domain.Signals, _ *domain.Reputation) (int, bool) {
	if sig.IsKnownBot == nil {
		return 0, false
	}
	if *sig.IsKnownBot {
		return 60, true
	}
	return 0, false
}

// headlessRule triggers on webdriver/headless automation markers.
type headlessRule struct{}

func (headlessRule) Code() string { return domain.ReasonHeadless }

func (headlessRule) Evaluate(sig *domain.Signals, _ *domain.Reputation) (int, bool) {
	if sig.WebdriverDetected == nil {
		return 0, false
	}
	if *sig.WebdriverDetected {
		return 50, true
	}
	return 0, false
}

// ipTypeRule triggers on datacenter or VPN origin. Abstains when the IP type
// is unknown: unknown is never treated as either good or bad.
type ipTypeRule struct{}

func (ipTypeRule) Code() string { return domain.ReasonDatacenterIP }

func (ipTypeRule) Evaluate(sig *domain.Signals, _ *domain.Reputation) (int, bool) {
	if sig.IPType == domain.IPTypeDatacenter || sig.IPType == domain.IPTypeVPN {
		return 25, true
	}
	return 0, false
}

// velocityRule triggers when the sliding click count for the same IP and
// campaign exceeds the configured threshold.
type velocityRule struct {
	threshold int64
}

func (velocityRule) Code() string { return domain.ReasonVelocityAbuse }

func (r velocityRule) Evaluate(_ *domain.Signals, rep *domain.Reputation) (int, bool) {
	threshold := r.threshold
	if threshold <= 0 {
		threshold = 10
	}
	if rep.ClickCountWindow > threshold {
		return 30, true
	}
	return 0, false
}

// deadSessionRule triggers on zero time-on-site with zero mouse movement.
// Both signals must be present: measured zero is evidence, unmeasured is not.
type deadSessionRule struct{}

func (deadSessionRule) Code() string { return domain.ReasonDeadSession }

func (deadSessionRule) Evaluate(sig *domain.Signals, _ *domain.Reputation) (int, bool) {
	if sig.TimeOnSiteMs == nil || sig.MouseMovement == nil {
		return 0, false
	}
	if *sig.TimeOnSiteMs == 0 && !*sig.MouseMovement {
		return 20, true
	}
	return 0, false
}
