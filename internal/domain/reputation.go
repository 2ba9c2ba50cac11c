package domain

import (
	"time"
)

// ListStatus is the allow/deny list state of an IP.
type ListStatus string

const (
	ListStatusNone        ListStatus = "none"
	ListStatusAllowlisted ListStatus = "allowlisted"
	ListStatusBlocklisted ListStatus = "blocklisted"
)

// ValidListStatus reports whether s is one of the known list states.
func ValidListStatus(s ListStatus) bool {
	switch s {
	case ListStatusNone, ListStatusAllowlisted, ListStatusBlocklisted:
		return true
	}
	return false
}

// ReputationRecord is the per-IP reputation state. An IP is never both
// allowlisted and blocklisted: a later explicit list action overwrites the
// prior status. Click-count updates never change ListStatus.
type ReputationRecord struct {
	IP         string     `json:"ip"`
	ListStatus ListStatus `json:"listStatus"`

	// ClickCountWindow is the sliding click count over the configured
	// window at the time the record was read.
	ClickCountWindow int64 `json:"clickCountWindow"`

	LastSeenAt time.Time `json:"lastSeenAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Reputation is the view of an IP handed to the scoring engine.
type Reputation struct {
	IP         string     `json:"ip"`
	ListStatus ListStatus `json:"listStatus"`

	// ClickCountWindow counts clicks for the same IP and campaign within
	// the velocity window, including the click being scored.
	ClickCountWindow int64 `json:"clickCountWindow"`
}
