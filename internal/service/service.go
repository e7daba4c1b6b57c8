package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"comic-deal-alerts/internal/alerting"
	"comic-deal-alerts/internal/config"
	"comic-deal-alerts/internal/feed"
	"comic-deal-alerts/internal/matching"
	"comic-deal-alerts/internal/metrics"
	"comic-deal-alerts/internal/rules"
	"comic-deal-alerts/internal/scheduler"
	"comic-deal-alerts/internal/storage"
)

// Notification outcomes, used as metric labels.
const (
	notifySent       = "sent"
	notifyFailed     = "failed"
	notifySuppressed = "suppressed"
)

// Deps are the collaborators of a Service. Only Book and Engine are required.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Feed      feed.Source
	Book      *RuleBook
	Engine    *matching.Engine
	Matches   storage.MatchStore
	Notifier  alerting.Notifier
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Result summarises one evaluation pass.
type Result struct {
	Deals      int
	Events     []matching.MatchEvent
	Notified   int
	Suppressed int
	Failed     int
	Dropped    int
}

// Service polls the deal feed, matches deals against the rule book, records
// match events and hands them to the notifier.
type Service struct {
	scheduler *scheduler.Scheduler
	feed      feed.Source
	book      *RuleBook
	engine    *matching.Engine
	matches   storage.MatchStore
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	workers  int
	cooldown time.Duration
	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64

	mu       sync.Mutex
	lastSent map[cooldownKey]time.Time
}

type cooldownKey struct {
	ruleID    string
	listingID string
}

// New constructs the polling service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Matches.(storage.AdvisoryLocker); ok {
		locker = l
	}

	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		scheduler: deps.Scheduler,
		feed:      deps.Feed,
		book:      deps.Book,
		engine:    deps.Engine,
		matches:   deps.Matches,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       now,
		workers:   cfg.Matching.Workers,
		cooldown:  cfg.Alerting.Cooldown,
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		lastSent:  make(map[cooldownKey]time.Time),
	}
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if s.feed == nil {
		return fmt.Errorf("deal feed not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs one poll-match-deliver cycle.
func (s *Service) ProcessTick(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if s.book.Persistent() {
		if err := s.book.Reload(ctx); err != nil {
			return err
		}
	}

	started := time.Now()
	deals, err := s.feed.FetchDeals(ctx)
	if err != nil {
		return fmt.Errorf("fetch deals: %w", err)
	}

	res, err := s.Process(ctx, deals, true)
	if err != nil {
		return err
	}
	s.metrics.ObserveTick(started, res.Deals, len(res.Events))

	s.logger.Info().Time("slot", slot).
		Int("deals", res.Deals).
		Int("matches", len(res.Events)).
		Int("notified", res.Notified).
		Int("suppressed", res.Suppressed).
		Int("failed", res.Failed).
		Msg("cycle complete")
	return nil
}

// Evaluate matches deals against the current rule snapshot without side effects.
func (s *Service) Evaluate(ctx context.Context, deals []matching.DealRecord) ([]matching.MatchEvent, error) {
	return s.evaluate(ctx, deals, s.book.Rules())
}

func (s *Service) evaluate(ctx context.Context, deals []matching.DealRecord, snapshot []rules.AlertRule) ([]matching.MatchEvent, error) {
	events, err := s.engine.MatchBatchParallel(ctx, deals, snapshot, s.workers)
	if err != nil {
		return nil, fmt.Errorf("match deals: %w", err)
	}
	return events, nil
}

// Process evaluates deals and, when deliver is set, records and notifies
// every resulting event. Matching and delivery share one rule snapshot.
func (s *Service) Process(ctx context.Context, deals []matching.DealRecord, deliver bool) (Result, error) {
	snapshot := s.book.Rules()
	events, err := s.evaluate(ctx, deals, snapshot)
	if err != nil {
		return Result{}, err
	}

	res := Result{Deals: len(deals), Events: events}
	if !deliver {
		return res, nil
	}

	byID := make(map[string]rules.AlertRule, len(snapshot))
	for _, rule := range snapshot {
		byID[rule.ID] = rule
	}
	s.deliver(ctx, events, byID, &res)
	return res, nil
}

// deliver notifies and records each event. Events whose rule is not in
// byID are dropped.
func (s *Service) deliver(ctx context.Context, events []matching.MatchEvent, byID map[string]rules.AlertRule, res *Result) {
	for _, ev := range events {
		rule, ok := byID[ev.RuleID]
		if !ok {
			s.logger.Warn().Str("rule_id", ev.RuleID).Str("listing_id", ev.Deal.ListingID).Msg("dropping match for unknown rule")
			res.Dropped++
			continue
		}

		notified := false
		switch outcome := s.notify(ctx, ev, rule); outcome {
		case notifySent:
			res.Notified++
			notified = true
		case notifySuppressed:
			res.Suppressed++
		case notifyFailed:
			res.Failed++
		}

		s.record(ctx, ev, notified)
	}
}

func (s *Service) notify(ctx context.Context, ev matching.MatchEvent, rule rules.AlertRule) string {
	if !s.alertsOn || s.notifier == nil {
		return ""
	}
	if s.suppressed(ev) {
		s.metrics.ObserveNotification(notifySuppressed)
		return notifySuppressed
	}

	note := alerting.FromMatch(ev, rule, s.channels)
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("rule_id", ev.RuleID).Str("listing_id", ev.Deal.ListingID).Msg("failed to dispatch alert")
		s.metrics.ObserveNotification(notifyFailed)
		return notifyFailed
	}
	s.markSent(ev)
	s.metrics.ObserveNotification(notifySent)
	return notifySent
}

func (s *Service) record(ctx context.Context, ev matching.MatchEvent, notified bool) {
	if s.matches == nil {
		return
	}
	rec := storage.MatchRecord{
		RuleID:      ev.RuleID,
		ListingID:   ev.Deal.ListingID,
		SeriesID:    ev.Deal.SeriesID,
		IssueNumber: ev.Deal.IssueNumber,
		DealScore:   ev.Deal.DealScore,
		Title:       ev.Deal.Title,
		URL:         ev.Deal.URL,
		MatchedAt:   ev.MatchedAt,
		Notified:    notified,
	}
	if _, err := s.matches.InsertMatch(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("rule_id", ev.RuleID).Msg("failed to persist match event")
	}
}

// suppressed reports whether this rule already alerted on the same listing
// within the cooldown window.
func (s *Service) suppressed(ev matching.MatchEvent) bool {
	if s.cooldown <= 0 || ev.Deal.ListingID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastSent[cooldownKey{ruleID: ev.RuleID, listingID: ev.Deal.ListingID}]
	return ok && s.now().Sub(last) < s.cooldown
}

func (s *Service) markSent(ev matching.MatchEvent) {
	if s.cooldown <= 0 || ev.Deal.ListingID == "" {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, at := range s.lastSent {
		if now.Sub(at) >= s.cooldown {
			delete(s.lastSent, key)
		}
	}
	s.lastSent[cooldownKey{ruleID: ev.RuleID, listingID: ev.Deal.ListingID}] = now
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
