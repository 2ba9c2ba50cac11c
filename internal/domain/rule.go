package domain

import "time"

// CustomRuleConfig is an operator-defined scoring rule. Custom rules are CEL
// expressions over the click's signals and reputation; when the expression is
// true the rule contributes Points to the fraud score and appends its reason
// code. They evaluate after the built-in chain and never before the
// allow/deny short-circuits.
type CustomRuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is a CEL expression that must return bool.
	Expression string `json:"expression"`

	// Points is the score delta contributed when the expression is true.
	Points int `json:"points"`

	// ReasonCode is appended to the scored click when the rule triggers.
	ReasonCode string `json:"reasonCode"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
