package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/clickshield/kestrel/internal/domain"
)

// CustomEngine evaluates operator-defined CEL rules against a click's
// signals and reputation. Custom rules extend the built-in chain; they run
// after it and never before the allow/deny short-circuits.
type CustomEngine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.CustomRuleConfig
	Program cel.Program
}

// Verdict is one triggered custom rule's contribution.
type Verdict struct {
	RuleID     string
	Points     int
	ReasonCode string
}

// NewCustomEngine creates a CEL engine with the click signal environment.
func NewCustomEngine() (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("known_bot", cel.BoolType),
		cel.Variable("has_known_bot", cel.BoolType),
		cel.Variable("webdriver", cel.BoolType),
		cel.Variable("has_webdriver", cel.BoolType),
		cel.Variable("ip_type", cel.StringType),
		cel.Variable("asn", cel.StringType),
		cel.Variable("isp", cel.StringType),
		cel.Variable("has_fingerprint", cel.BoolType),
		cel.Variable("time_on_site_ms", cel.IntType),
		cel.Variable("has_time_on_site", cel.BoolType),
		cel.Variable("mouse_movement", cel.BoolType),
		cel.Variable("has_mouse_movement", cel.BoolType),
		cel.Variable("list_status", cel.StringType),
		cel.Variable("velocity_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEngine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *CustomEngine) ValidateRule(cfg *domain.CustomRuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", domain.ErrInvalidInput)
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *CustomEngine) LoadRule(cfg *domain.CustomRuleConfig) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiledRules[cfg.ID] = compiled
	e.mu.Unlock()
	return nil
}

// LoadRules compiles and loads all enabled rules.
func (e *CustomEngine) LoadRules(configs []*domain.CustomRuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules with the given set. Enables
// hot-reloading of rules from the repository.
func (e *CustomEngine) ReloadRules(configs []*domain.CustomRuleConfig) error {
	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiledRules = newRules
	e.mu.Unlock()
	return nil
}

// Evaluate runs all loaded rules in rule-ID order and returns the verdicts
// of those that triggered. Rule-ID ordering keeps reason code output
// deterministic. Expression errors skip the rule; a broken custom rule must
// not fail scoring.
func (e *CustomEngine) Evaluate(ctx context.Context, sig *domain.Signals, rep *domain.Reputation) []Verdict {
	e.mu.RLock()
	ids := make([]string, 0, len(e.compiledRules))
	for id := range e.compiledRules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rules := make([]*CompiledRule, 0, len(ids))
	for _, id := range ids {
		rules = append(rules, e.compiledRules[id])
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := buildActivation(sig, rep)

	var verdicts []Verdict
	for _, rule := range rules {
		out, _, err := rule.Program.ContextEval(ctx, activation)
		if err != nil {
			slog.Warn("custom rule evaluation failed",
				"rule_id", rule.Config.ID,
				"error", err,
			)
			continue
		}
		if triggered, ok := out.(types.Bool); ok && bool(triggered) {
			verdicts = append(verdicts, Verdict{
				RuleID:     rule.Config.ID,
				Points:     rule.Config.Points,
				ReasonCode: rule.Config.ReasonCode,
			})
		}
	}

	return verdicts
}

// RulesCount returns the number of loaded rules.
func (e *CustomEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the currently loaded rule configurations.
func (e *CustomEngine) LoadedRules() []*domain.CustomRuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.CustomRuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close clears the engine.
func (e *CustomEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

// buildActivation maps signals and reputation onto the CEL environment.
// Unknown signals activate as zero values with their has_* companion false,
// so expressions can guard on presence explicitly.
func buildActivation(sig *domain.Signals, rep *domain.Reputation) map[string]any {
	activation := map[string]any{
		"known_bot":          false,
		"has_known_bot":      sig.IsKnownBot != nil,
		"webdriver":          false,
		"has_webdriver":      sig.WebdriverDetected != nil,
		"ip_type":            string(sig.IPType),
		"asn":                "",
		"isp":                "",
		"has_fingerprint":    sig.DeviceFingerprint != nil,
		"time_on_site_ms":    int64(0),
		"has_time_on_site":   sig.TimeOnSiteMs != nil,
		"mouse_movement":     false,
		"has_mouse_movement": sig.MouseMovement != nil,
		"list_status":        string(rep.ListStatus),
		"velocity_count":     rep.ClickCountWindow,
	}

	if sig.IsKnownBot != nil {
		activation["known_bot"] = *sig.IsKnownBot
	}
	if sig.WebdriverDetected != nil {
		activation["webdriver"] = *sig.WebdriverDetected
	}
	if sig.ASN != nil {
		activation["asn"] = *sig.ASN
	}
	if sig.ISP != nil {
		activation["isp"] = *sig.ISP
	}
	if sig.TimeOnSiteMs != nil {
		activation["time_on_site_ms"] = *sig.TimeOnSiteMs
	}
	if sig.MouseMovement != nil {
		activation["mouse_movement"] = *sig.MouseMovement
	}

	return activation
}

func (e *CustomEngine) compileRule(cfg *domain.CustomRuleConfig) (*CompiledRule, error) {
	if cfg.ReasonCode == "" {
		return nil, fmt.Errorf("%w: rule %s has no reason code", domain.ErrInvalidInput, cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
