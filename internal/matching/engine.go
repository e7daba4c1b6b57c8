// Package matching evaluates deal records against the current rule set.
//
// The engine is a pure projection over its inputs: it never mutates rules or
// deals and holds no shared mutable state, so it can be called from any
// goroutine or fanned out across a worker pool.
package matching

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"comic-deal-alerts/internal/rules"
)

// DealRecord is one listing from the deal feed.
type DealRecord struct {
	ListingID   string          `json:"listingId"`
	SeriesID    string          `json:"seriesId"`
	IssueNumber string          `json:"issueNumber"`
	DealScore   decimal.Decimal `json:"dealScore"`

	// Display metadata, ignored by matching.
	Title       string          `json:"title,omitempty"`
	Grade       string          `json:"grade,omitempty"`
	URL         string          `json:"url,omitempty"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"marketValue"`
}

// MatchEvent is emitted once per (rule, deal) pair that satisfies the predicate.
type MatchEvent struct {
	RuleID    string     `json:"ruleId"`
	Deal      DealRecord `json:"deal"`
	MatchedAt time.Time  `json:"matchedAt"`
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the MatchedAt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine matches deals against rules.
type Engine struct {
	now func() time.Time
}

// NewEngine constructs a match engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Matches reports whether an active rule fires for deal.
func Matches(rule rules.AlertRule, deal DealRecord) bool {
	if !rule.Active() {
		return false
	}
	if rule.SeriesID != deal.SeriesID {
		return false
	}
	if rules.NormalizeIssue(rule.IssueNumber) != rules.NormalizeIssue(deal.IssueNumber) {
		return false
	}
	return deal.DealScore.GreaterThanOrEqual(rule.MinDealScore)
}

// MatchOne returns one event per active rule satisfied by deal, in rule order.
func (e *Engine) MatchOne(deal DealRecord, ruleSet []rules.AlertRule) []MatchEvent {
	return e.matchAt(deal, ruleSet, e.now())
}

// MatchBatch concatenates MatchOne over deals in deal-then-rule order.
func (e *Engine) MatchBatch(deals []DealRecord, ruleSet []rules.AlertRule) []MatchEvent {
	at := e.now()
	var events []MatchEvent
	for _, deal := range deals {
		events = append(events, e.matchAt(deal, ruleSet, at)...)
	}
	return events
}

// MatchBatchParallel produces the same events as MatchBatch, spreading deals
// across up to workers goroutines.
func (e *Engine) MatchBatchParallel(ctx context.Context, deals []DealRecord, ruleSet []rules.AlertRule, workers int) ([]MatchEvent, error) {
	if workers <= 1 || len(deals) <= 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return e.MatchBatch(deals, ruleSet), nil
	}

	at := e.now()
	perDeal := make([][]MatchEvent, len(deals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range deals {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perDeal[i] = e.matchAt(deals[i], ruleSet, at)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var events []MatchEvent
	for _, evs := range perDeal {
		events = append(events, evs...)
	}
	return events, nil
}

func (e *Engine) matchAt(deal DealRecord, ruleSet []rules.AlertRule, at time.Time) []MatchEvent {
	var events []MatchEvent
	for _, rule := range ruleSet {
		if !Matches(rule, deal) {
			continue
		}
		events = append(events, MatchEvent{
			RuleID:    rule.ID,
			Deal:      deal,
			MatchedAt: at,
		})
	}
	return events
}
