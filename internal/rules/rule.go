package rules

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a live rule.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusPaused
}

// Flip returns the opposite status.
func (s Status) Flip() Status {
	if s == StatusActive {
		return StatusPaused
	}
	return StatusActive
}

// AlertRule is a user-declared watch condition over (series, issue, minimum deal score).
type AlertRule struct {
	ID           string          `json:"id"`
	SeriesID     string          `json:"seriesId"`
	IssueNumber  string          `json:"issueNumber"`
	MinDealScore decimal.Decimal `json:"minDealScore"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Key returns the identity key of the rule.
func (r AlertRule) Key() IdentityKey {
	return Key(r.SeriesID, r.IssueNumber)
}

// Active reports whether the rule currently participates in matching.
func (r AlertRule) Active() bool {
	return r.Status == StatusActive
}

// IdentityKey is unique among live rules.
type IdentityKey struct {
	SeriesID string
	Issue    string
}

// Key builds the identity key for a series and issue number.
func Key(seriesID, issueNumber string) IdentityKey {
	return IdentityKey{SeriesID: seriesID, Issue: NormalizeIssue(issueNumber)}
}

// NormalizeIssue trims and lowercases an issue number for equality checks.
func NormalizeIssue(issue string) string {
	return strings.ToLower(strings.TrimSpace(issue))
}

// Counts summarises rules by status.
type Counts struct {
	Active int `json:"active"`
	Paused int `json:"paused"`
}
