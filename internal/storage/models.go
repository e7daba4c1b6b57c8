package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchRecord is a persisted match event, kept for history and export.
type MatchRecord struct {
	ID          int64
	RuleID      string
	ListingID   string
	SeriesID    string
	IssueNumber string
	DealScore   decimal.Decimal
	Title       string
	URL         string
	MatchedAt   time.Time
	Notified    bool
	CreatedAt   time.Time
}

// RuleMatchCount is the number of recorded matches for one rule.
type RuleMatchCount struct {
	RuleID      string
	Count       int64
	LastMatched time.Time
}
