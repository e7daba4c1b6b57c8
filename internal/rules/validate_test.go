package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestValidateAcceptsWellFormedInput(t *testing.T) {
	c, err := Validate(Input{SeriesID: "amazing-spider-man-1963", IssueNumber: " 300 ", MinDealScore: score(20)})
	require.NoError(t, err)
	assert.Equal(t, "amazing-spider-man-1963", c.SeriesID)
	assert.Equal(t, "300", c.IssueNumber)
	assert.True(t, c.MinDealScore.Equal(decimal.NewFromInt(20)))
}

func TestValidateCollectsEveryError(t *testing.T) {
	_, err := Validate(Input{})
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, ValidationErrors{
		FieldSeriesID:     MissingSeries,
		FieldIssueNumber:  MissingIssueNumber,
		FieldMinDealScore: DealScoreOutOfRange,
	}, verrs)
}

func TestValidateIssueNumberGrammar(t *testing.T) {
	for _, issue := range []string{"300", "300.1", "300a", "1AB", "0.5"} {
		_, err := Validate(Input{SeriesID: "s", IssueNumber: issue, MinDealScore: score(10)})
		assert.NoError(t, err, "issue %q", issue)
	}

	for _, issue := range []string{"invalid-issue", "#300", "300.", ".1", "a300", "300 a", "300.1.2"} {
		_, err := Validate(Input{SeriesID: "s", IssueNumber: issue, MinDealScore: score(10)})
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs, "issue %q", issue)
		assert.Equal(t, InvalidIssueNumberFormat, verrs[FieldIssueNumber], "issue %q", issue)
	}
}

func TestValidateBlankIssueIsMissingNotMalformed(t *testing.T) {
	_, err := Validate(Input{SeriesID: "s", IssueNumber: "   ", MinDealScore: score(10)})
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, MissingIssueNumber, verrs[FieldIssueNumber])
	assert.Len(t, verrs, 1)
}

func TestValidateDealScoreBounds(t *testing.T) {
	for _, v := range []int64{0, 101, -5} {
		_, err := Validate(Input{SeriesID: "s", IssueNumber: "1", MinDealScore: score(v)})
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs, "score %d", v)
		assert.Equal(t, DealScoreOutOfRange, verrs[FieldMinDealScore])
	}

	for _, v := range []int64{1, 100} {
		_, err := Validate(Input{SeriesID: "s", IssueNumber: "1", MinDealScore: score(v)})
		assert.NoError(t, err, "score %d", v)
	}

	fractional := decimal.RequireFromString("12.5")
	_, err := Validate(Input{SeriesID: "s", IssueNumber: "1", MinDealScore: &fractional})
	assert.NoError(t, err)
}

func TestValidationErrorsMessageIsStable(t *testing.T) {
	verrs := ValidationErrors{FieldMinDealScore: DealScoreOutOfRange, FieldSeriesID: MissingSeries}
	assert.Equal(t, "invalid rule: minDealScore: DealScoreOutOfRange, seriesId: MissingSeries", verrs.Error())
	assert.True(t, verrs.Has(MissingSeries))
	assert.False(t, verrs.Has(MissingIssueNumber))
}
