package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-deal-alerts/internal/rules"
	"comic-deal-alerts/internal/storage"
)

type fakeRuleRepo struct {
	rules     map[string]rules.AlertRule
	failWrite error
}

var _ storage.RuleRepository = (*fakeRuleRepo)(nil)

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{rules: make(map[string]rules.AlertRule)}
}

func (f *fakeRuleRepo) ListRules(ctx context.Context) ([]rules.AlertRule, error) {
	out := make([]rules.AlertRule, 0, len(f.rules))
	for _, r := range f.rules {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuleRepo) InsertRule(ctx context.Context, rule rules.AlertRule) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleRepo) UpdateRuleStatus(ctx context.Context, id string, status rules.Status) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	rule, ok := f.rules[id]
	if !ok {
		return rules.ErrNotFound
	}
	rule.Status = status
	f.rules[id] = rule
	return nil
}

func (f *fakeRuleRepo) DeleteRule(ctx context.Context, id string) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	if _, ok := f.rules[id]; !ok {
		return rules.ErrNotFound
	}
	delete(f.rules, id)
	return nil
}

func score(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// ruleSeq is shared so books over one repository never reuse an id.
var ruleSeq atomic.Int64

func newTestBook(repo storage.RuleRepository) *RuleBook {
	store := rules.NewStore(rules.WithIDGenerator(func() string {
		return fmt.Sprintf("rule-%d", ruleSeq.Add(1))
	}))
	return NewRuleBook(store, repo, nil, zerolog.Nop())
}

func TestRuleBookAddPersists(t *testing.T) {
	repo := newFakeRuleRepo()
	book := newTestBook(repo)

	rule, err := book.Add(context.Background(), rules.Input{SeriesID: "asm", IssueNumber: "300", MinDealScore: score(20)})
	require.NoError(t, err)

	assert.Equal(t, rules.StatusActive, rule.Status)
	assert.Contains(t, repo.rules, rule.ID)
	assert.Len(t, book.Rules(), 1)
}

func TestRuleBookAddRejectsInvalidWithoutSaving(t *testing.T) {
	repo := newFakeRuleRepo()
	book := newTestBook(repo)

	_, err := book.Add(context.Background(), rules.Input{IssueNumber: "abc"})
	var verrs rules.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 3)
	assert.Empty(t, repo.rules)
	assert.Empty(t, book.Rules())
}

func TestRuleBookAddUndoesOnSaveFailure(t *testing.T) {
	repo := newFakeRuleRepo()
	repo.failWrite = errors.New("db down")
	book := newTestBook(repo)

	_, err := book.Add(context.Background(), rules.Input{SeriesID: "asm", IssueNumber: "300", MinDealScore: score(20)})
	require.Error(t, err)
	assert.Empty(t, book.Rules())

	// identity key must be free again
	repo.failWrite = nil
	_, err = book.Add(context.Background(), rules.Input{SeriesID: "asm", IssueNumber: "300", MinDealScore: score(20)})
	require.NoError(t, err)
}

func TestRuleBookToggleUndoesOnSaveFailure(t *testing.T) {
	repo := newFakeRuleRepo()
	book := newTestBook(repo)

	rule, err := book.Add(context.Background(), rules.Input{SeriesID: "asm", IssueNumber: "300", MinDealScore: score(20)})
	require.NoError(t, err)

	repo.failWrite = errors.New("db down")
	_, err = book.Toggle(context.Background(), rule.ID)
	require.Error(t, err)

	got, ok := book.Get(rule.ID)
	require.True(t, ok)
	assert.Equal(t, rules.StatusActive, got.Status)
}

func TestRuleBookRemoveUndoesOnSaveFailure(t *testing.T) {
	repo := newFakeRuleRepo()
	book := newTestBook(repo)

	rule, err := book.Add(context.Background(), rules.Input{SeriesID: "asm", IssueNumber: "300", MinDealScore: score(20)})
	require.NoError(t, err)

	repo.failWrite = errors.New("db down")
	_, err = book.Remove(context.Background(), rule.ID)
	require.Error(t, err)

	_, ok := book.Get(rule.ID)
	assert.True(t, ok)
}

func TestRuleBookRemoveUnknown(t *testing.T) {
	book := newTestBook(newFakeRuleRepo())

	_, err := book.Remove(context.Background(), "missing")
	assert.ErrorIs(t, err, rules.ErrNotFound)
}

func TestRuleBookLoadRestoresNewestFirst(t *testing.T) {
	repo := newFakeRuleRepo()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	repo.rules["old"] = rules.AlertRule{ID: "old", SeriesID: "asm", IssueNumber: "300", MinDealScore: decimal.NewFromInt(20), Status: rules.StatusActive, CreatedAt: base}
	repo.rules["new"] = rules.AlertRule{ID: "new", SeriesID: "xmen", IssueNumber: "1", MinDealScore: decimal.NewFromInt(30), Status: rules.StatusPaused, CreatedAt: base.Add(time.Hour)}

	book := newTestBook(repo)
	loaded, err := book.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	list := book.Rules()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, rules.Counts{Active: 1, Paused: 1}, book.Counts())
}

func TestRuleBookReloadPicksUpRepositoryChanges(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRuleRepo()
	book := newTestBook(repo)

	first, err := book.Add(ctx, rules.Input{SeriesID: "asm", IssueNumber: "300", MinDealScore: score(20)})
	require.NoError(t, err)

	// another process pauses the rule and adds one
	paused := repo.rules[first.ID]
	paused.Status = rules.StatusPaused
	repo.rules[first.ID] = paused
	repo.rules["external"] = rules.AlertRule{ID: "external", SeriesID: "xmen", IssueNumber: "1", MinDealScore: decimal.NewFromInt(30), Status: rules.StatusActive, CreatedAt: time.Now().UTC()}

	require.NoError(t, book.Reload(ctx))

	got, ok := book.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, rules.StatusPaused, got.Status)
	assert.Equal(t, rules.Counts{Active: 1, Paused: 1}, book.Counts())

	delete(repo.rules, first.ID)
	require.NoError(t, book.Reload(ctx))
	_, ok = book.Get(first.ID)
	assert.False(t, ok)
}

func TestRuleBookReloadWithoutRepositoryKeepsRules(t *testing.T) {
	book := newTestBook(nil)
	_, err := book.Add(context.Background(), rules.Input{SeriesID: "asm", IssueNumber: "300", MinDealScore: score(20)})
	require.NoError(t, err)

	require.NoError(t, book.Reload(context.Background()))
	assert.Len(t, book.Rules(), 1)
}
