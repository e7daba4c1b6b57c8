package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"comic-deal-alerts/internal/metrics"
	"comic-deal-alerts/internal/rules"
	"comic-deal-alerts/internal/storage"
)

// RuleBook wraps the in-memory rule store with load-at-startup and
// save-on-mutation persistence. Memory and repository never diverge: a
// failed save undoes the in-memory change before the error is returned.
type RuleBook struct {
	store   *rules.Store
	repo    storage.RuleRepository
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// serialises mutate-then-save so compensation cannot interleave
	mu sync.Mutex
}

// NewRuleBook constructs a rule book. repo and m may be nil.
func NewRuleBook(store *rules.Store, repo storage.RuleRepository, m *metrics.Metrics, logger zerolog.Logger) *RuleBook {
	return &RuleBook{
		store:   store,
		repo:    repo,
		metrics: m,
		logger:  logger.With().Str("component", "rulebook").Logger(),
	}
}

// Load restores persisted rules into the store and returns how many were loaded.
func (b *RuleBook) Load(ctx context.Context) (int, error) {
	if b.repo == nil {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	persisted, err := b.repo.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load rules: %w", err)
	}

	loaded := 0
	for _, rule := range persisted {
		if err := b.store.Restore(rule); err != nil {
			b.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("skipping persisted rule")
			continue
		}
		loaded++
	}

	b.metrics.ObserveRuleCounts(b.store.CountsByStatus())
	b.logger.Info().Int("loaded", loaded).Int("persisted", len(persisted)).Msg("rules loaded")
	return loaded, nil
}

// Reload replaces the in-memory rules with the repository's current rows,
// picking up changes made by other processes.
func (b *RuleBook) Reload(ctx context.Context) error {
	if b.repo == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	persisted, err := b.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}

	// Restore into a scratch store to drop rows the store would reject.
	fresh := rules.NewStore()
	for _, rule := range persisted {
		if err := fresh.Restore(rule); err != nil {
			b.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("skipping persisted rule")
		}
	}
	if err := b.store.Replace(fresh.List()); err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}

	b.metrics.ObserveRuleCounts(b.store.CountsByStatus())
	return nil
}

// Persistent reports whether the book is backed by a repository.
func (b *RuleBook) Persistent() bool {
	return b.repo != nil
}

// Add validates input and inserts a new rule.
func (b *RuleBook) Add(ctx context.Context, in rules.Input) (rules.AlertRule, error) {
	rule, err := b.add(ctx, in)
	b.metrics.ObserveInsert(err)
	return rule, err
}

func (b *RuleBook) add(ctx context.Context, in rules.Input) (rules.AlertRule, error) {
	candidate, err := rules.Validate(in)
	if err != nil {
		return rules.AlertRule{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rule, err := b.store.Insert(candidate)
	if err != nil {
		return rules.AlertRule{}, err
	}

	if b.repo != nil {
		if err := b.repo.InsertRule(ctx, rule); err != nil {
			if _, undoErr := b.store.Delete(rule.ID); undoErr != nil {
				b.logger.Error().Err(undoErr).Str("rule_id", rule.ID).Msg("failed to undo insert")
			}
			return rules.AlertRule{}, fmt.Errorf("save rule: %w", err)
		}
	}

	b.metrics.ObserveRuleCounts(b.store.CountsByStatus())
	b.logger.Info().Str("rule_id", rule.ID).
		Str("series_id", rule.SeriesID).
		Str("issue", rule.IssueNumber).
		Str("min_deal_score", rule.MinDealScore.String()).
		Msg("rule created")
	return rule, nil
}

// Toggle flips a rule between active and paused.
func (b *RuleBook) Toggle(ctx context.Context, id string) (rules.AlertRule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rule, err := b.store.Toggle(id)
	if err != nil {
		return rules.AlertRule{}, err
	}

	if b.repo != nil {
		if err := b.repo.UpdateRuleStatus(ctx, id, rule.Status); err != nil {
			if _, undoErr := b.store.Toggle(id); undoErr != nil {
				b.logger.Error().Err(undoErr).Str("rule_id", id).Msg("failed to undo toggle")
			}
			return rules.AlertRule{}, fmt.Errorf("save rule status: %w", err)
		}
	}

	b.metrics.ObserveRuleCounts(b.store.CountsByStatus())
	b.logger.Info().Str("rule_id", id).Str("status", string(rule.Status)).Msg("rule toggled")
	return rule, nil
}

// Remove deletes a rule, freeing its identity key.
func (b *RuleBook) Remove(ctx context.Context, id string) (rules.AlertRule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed, err := b.store.Delete(id)
	if err != nil {
		return rules.AlertRule{}, err
	}

	if b.repo != nil {
		if err := b.repo.DeleteRule(ctx, id); err != nil && !errors.Is(err, rules.ErrNotFound) {
			if undoErr := b.store.Restore(removed); undoErr != nil {
				b.logger.Error().Err(undoErr).Str("rule_id", id).Msg("failed to undo delete")
			}
			return rules.AlertRule{}, fmt.Errorf("delete saved rule: %w", err)
		}
	}

	b.metrics.ObserveRuleCounts(b.store.CountsByStatus())
	b.logger.Info().Str("rule_id", id).Msg("rule deleted")
	return removed, nil
}

// Rules returns the current snapshot, most-recent-first.
func (b *RuleBook) Rules() []rules.AlertRule {
	return b.store.List()
}

// Get looks up one rule.
func (b *RuleBook) Get(id string) (rules.AlertRule, bool) {
	return b.store.Get(id)
}

// Counts tallies rules by status.
func (b *RuleBook) Counts() rules.Counts {
	return b.store.CountsByStatus()
}
