package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by lifecycle operations on an unknown rule id.
	ErrNotFound = errors.New("rule not found")
	// ErrDuplicateRule is returned when a live rule already owns the identity key.
	ErrDuplicateRule = errors.New("duplicate rule")
)

// ErrorKind classifies a field validation failure.
type ErrorKind string

const (
	MissingSeries            ErrorKind = "MissingSeries"
	MissingIssueNumber       ErrorKind = "MissingIssueNumber"
	InvalidIssueNumberFormat ErrorKind = "InvalidIssueNumberFormat"
	DealScoreOutOfRange      ErrorKind = "DealScoreOutOfRange"
)

// Field names used as ValidationErrors keys.
const (
	FieldSeriesID     = "seriesId"
	FieldIssueNumber  = "issueNumber"
	FieldMinDealScore = "minDealScore"
)

// ValidationErrors maps an input field to the problem found with it.
type ValidationErrors map[string]ErrorKind

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, v[field]))
	}
	return "invalid rule: " + strings.Join(parts, ", ")
}

// Has reports whether kind was recorded for any field.
func (v ValidationErrors) Has(kind ErrorKind) bool {
	for _, k := range v {
		if k == kind {
			return true
		}
	}
	return false
}

// DuplicateRuleError identifies the live rule that blocked an insert.
type DuplicateRuleError struct {
	Key        IdentityKey
	ExistingID string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("duplicate rule: series %q issue %q already watched by rule %s", e.Key.SeriesID, e.Key.Issue, e.ExistingID)
}

func (e *DuplicateRuleError) Unwrap() error {
	return ErrDuplicateRule
}
