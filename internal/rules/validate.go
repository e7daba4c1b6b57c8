package rules

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	issueNumberPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?[A-Za-z]*$`)

	minScore = decimal.NewFromInt(1)
	maxScore = decimal.NewFromInt(100)
)

// Input is the raw, possibly incomplete rule form.
type Input struct {
	SeriesID     string
	IssueNumber  string
	MinDealScore *decimal.Decimal
}

// Candidate is a validated rule payload ready for Store.Insert.
type Candidate struct {
	SeriesID     string
	IssueNumber  string
	MinDealScore decimal.Decimal
}

// Validate checks every field of in and reports all problems at once.
func Validate(in Input) (Candidate, error) {
	errs := ValidationErrors{}

	series := strings.TrimSpace(in.SeriesID)
	if series == "" {
		errs[FieldSeriesID] = MissingSeries
	}

	issue := strings.TrimSpace(in.IssueNumber)
	switch {
	case issue == "":
		errs[FieldIssueNumber] = MissingIssueNumber
	case !ValidIssueNumber(issue):
		errs[FieldIssueNumber] = InvalidIssueNumberFormat
	}

	if in.MinDealScore == nil || !ScoreInRange(*in.MinDealScore) {
		errs[FieldMinDealScore] = DealScoreOutOfRange
	}

	if len(errs) > 0 {
		return Candidate{}, errs
	}

	return Candidate{
		SeriesID:     series,
		IssueNumber:  issue,
		MinDealScore: *in.MinDealScore,
	}, nil
}

// ValidIssueNumber reports whether issue follows comic numbering (300, 300.1, 300a).
func ValidIssueNumber(issue string) bool {
	return issueNumberPattern.MatchString(issue)
}

// ScoreInRange reports whether score lies within [1, 100].
func ScoreInRange(score decimal.Decimal) bool {
	return score.GreaterThanOrEqual(minScore) && score.LessThanOrEqual(maxScore)
}
