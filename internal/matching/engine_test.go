package matching

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-deal-alerts/internal/rules"
)

var fixedNow = time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return NewEngine(WithClock(func() time.Time { return fixedNow }))
}

func rule(id, series, issue string, min int64, status rules.Status) rules.AlertRule {
	return rules.AlertRule{
		ID:           id,
		SeriesID:     series,
		IssueNumber:  issue,
		MinDealScore: decimal.NewFromInt(min),
		Status:       status,
	}
}

func deal(series, issue string, score int64) DealRecord {
	return DealRecord{SeriesID: series, IssueNumber: issue, DealScore: decimal.NewFromInt(score)}
}

func TestMatchOnePredicate(t *testing.T) {
	e := testEngine()
	r := rule("r1", "amazing-spider-man-1963", "300", 20, rules.StatusActive)
	d := deal("amazing-spider-man-1963", "300", 23)

	events := e.MatchOne(d, []rules.AlertRule{r})
	require.Len(t, events, 1)
	assert.Equal(t, MatchEvent{RuleID: "r1", Deal: d, MatchedAt: fixedNow}, events[0])

	r.Status = rules.StatusPaused
	assert.Empty(t, e.MatchOne(d, []rules.AlertRule{r}))

	r.Status = rules.StatusActive
	assert.Empty(t, e.MatchOne(deal("amazing-spider-man-1963", "300", 15), []rules.AlertRule{r}))
}

func TestMatchOneThresholdIsInclusive(t *testing.T) {
	e := testEngine()
	r := rule("r1", "x-men-1963", "1", 20, rules.StatusActive)
	assert.Len(t, e.MatchOne(deal("x-men-1963", "1", 20), []rules.AlertRule{r}), 1)

	frac := DealRecord{SeriesID: "x-men-1963", IssueNumber: "1", DealScore: decimal.RequireFromString("19.99")}
	assert.Empty(t, e.MatchOne(frac, []rules.AlertRule{r}))
}

func TestMatchOneNormalisesIssueNumber(t *testing.T) {
	e := testEngine()
	r := rule("r1", "batman-1940", "181A", 10, rules.StatusActive)
	assert.Len(t, e.MatchOne(deal("batman-1940", " 181a ", 50), []rules.AlertRule{r}), 1)
	assert.Empty(t, e.MatchOne(deal("batman-1940", "181", 50), []rules.AlertRule{r}))
	assert.Empty(t, e.MatchOne(deal("batman-1989", "181a", 50), []rules.AlertRule{r}))
}

func TestMatchOnePreservesRuleOrder(t *testing.T) {
	e := testEngine()
	set := []rules.AlertRule{
		rule("c", "hulk-1962", "1", 5, rules.StatusActive),
		rule("a", "hulk-1962", "2", 5, rules.StatusActive),
		rule("b", "hulk-1962", "1", 50, rules.StatusActive),
	}
	// Key uniqueness is a store concern; the engine just projects its input.
	set = append(set, rule("d", "hulk-1962", "1", 1, rules.StatusActive))

	events := e.MatchOne(deal("hulk-1962", "1", 60), set)
	ids := []string{}
	for _, ev := range events {
		ids = append(ids, ev.RuleID)
	}
	assert.Equal(t, []string{"c", "b", "d"}, ids)
}

func TestMatchBatchConcatenatesWithoutDedup(t *testing.T) {
	e := testEngine()
	set := []rules.AlertRule{rule("r1", "spawn-1992", "1", 10, rules.StatusActive)}
	deals := []DealRecord{
		{ListingID: "l1", SeriesID: "spawn-1992", IssueNumber: "1", DealScore: decimal.NewFromInt(40)},
		{ListingID: "l2", SeriesID: "spawn-1992", IssueNumber: "2", DealScore: decimal.NewFromInt(40)},
		{ListingID: "l3", SeriesID: "spawn-1992", IssueNumber: "1", DealScore: decimal.NewFromInt(11)},
	}

	events := e.MatchBatch(deals, set)
	require.Len(t, events, 2)
	assert.Equal(t, "l1", events[0].Deal.ListingID)
	assert.Equal(t, "l3", events[1].Deal.ListingID)
}

func TestMatchDoesNotMutateInputs(t *testing.T) {
	e := testEngine()
	set := []rules.AlertRule{rule("r1", "saga-2012", "1", 10, rules.StatusActive)}
	deals := []DealRecord{deal("saga-2012", "1", 90)}
	setCopy := append([]rules.AlertRule(nil), set...)
	dealsCopy := append([]DealRecord(nil), deals...)

	_ = e.MatchBatch(deals, set)
	assert.Equal(t, setCopy, set)
	assert.Equal(t, dealsCopy, deals)
}

func TestMatchBatchParallelMatchesSerialOrder(t *testing.T) {
	e := testEngine()
	var set []rules.AlertRule
	for i := 0; i < 20; i++ {
		status := rules.StatusActive
		if i%5 == 0 {
			status = rules.StatusPaused
		}
		set = append(set, rule(fmt.Sprintf("r%d", i), "series", fmt.Sprintf("%d", i%7), int64(i%30+1), status))
	}
	var deals []DealRecord
	for i := 0; i < 200; i++ {
		d := deal("series", fmt.Sprintf("%d", i%7), int64(i%40))
		d.ListingID = fmt.Sprintf("l%d", i)
		deals = append(deals, d)
	}

	serial := e.MatchBatch(deals, set)
	parallel, err := e.MatchBatchParallel(context.Background(), deals, set, 8)
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)
	assert.NotEmpty(t, parallel)
}

func TestMatchBatchParallelHonoursCancellation(t *testing.T) {
	e := testEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.MatchBatchParallel(ctx, []DealRecord{deal("a", "1", 1), deal("a", "2", 1)}, nil, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndToEndPausedRuleYieldsNoEvents(t *testing.T) {
	store := rules.NewStore()
	a, err := store.Insert(rules.Candidate{SeriesID: "batman-1940", IssueNumber: "181", MinDealScore: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = store.Insert(rules.Candidate{SeriesID: "batman-1940", IssueNumber: "181", MinDealScore: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, rules.ErrDuplicateRule)

	_, err = store.Toggle(a.ID)
	require.NoError(t, err)

	events := testEngine().MatchOne(deal("batman-1940", "181", 50), store.List())
	assert.Empty(t, events)
}
