package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"comic-deal-alerts/internal/rules"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const uniqueViolation = "23505"

const (
	listRulesSQL = `SELECT
        id,
        series_id,
        issue_number,
        min_deal_score::text,
        status,
        created_at
    FROM alert_rules
    ORDER BY created_at DESC;`

	insertRuleSQL = `INSERT INTO alert_rules (
        id,
        series_id,
        issue_number,
        issue_key,
        min_deal_score,
        status,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	updateRuleStatusSQL = `UPDATE alert_rules SET status = $2 WHERE id = $1;`

	deleteRuleSQL = `DELETE FROM alert_rules WHERE id = $1;`

	insertMatchSQL = `INSERT INTO match_events (
        rule_id,
        listing_id,
        series_id,
        issue_number,
        deal_score,
        title,
        url,
        matched_at,
        notified
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id, created_at;`

	matchColumns = `id,
        rule_id,
        listing_id,
        series_id,
        issue_number,
        deal_score::text,
        title,
        url,
        matched_at,
        notified,
        created_at`

	listRecentMatchesSQL = `SELECT ` + matchColumns + `
    FROM match_events
    ORDER BY matched_at DESC, id DESC
    LIMIT $1;`

	listMatchesBetweenSQL = `SELECT ` + matchColumns + `
    FROM match_events
    WHERE matched_at >= $1
      AND matched_at < $2
    ORDER BY matched_at, id;`

	countMatchesByRuleSQL = `SELECT rule_id, COUNT(*), MAX(matched_at)
    FROM match_events
    GROUP BY rule_id;`

	deleteMatchesBeforeSQL = `DELETE FROM match_events WHERE matched_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RuleRepository persists the rule set behind the in-memory store.
type RuleRepository interface {
	ListRules(ctx context.Context) ([]rules.AlertRule, error)
	InsertRule(ctx context.Context, rule rules.AlertRule) error
	UpdateRuleStatus(ctx context.Context, id string, status rules.Status) error
	DeleteRule(ctx context.Context, id string) error
}

// MatchStore records match events.
type MatchStore interface {
	InsertMatch(ctx context.Context, match MatchRecord) (MatchRecord, error)
	ListRecentMatches(ctx context.Context, limit int) ([]MatchRecord, error)
	ListMatchesBetween(ctx context.Context, from, to time.Time) ([]MatchRecord, error)
	CountMatchesByRule(ctx context.Context) ([]RuleMatchCount, error)
	DeleteMatchesBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to rules and match history.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock also dies with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListRules loads every live rule, most-recent-first.
func (s *Store) ListRules(ctx context.Context) ([]rules.AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRulesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list rules: %w", queryErr)
	}
	defer rows.Close()

	out := make([]rules.AlertRule, 0)
	for rows.Next() {
		var (
			rule     rules.AlertRule
			scoreStr string
			status   string
		)
		if err := rows.Scan(&rule.ID, &rule.SeriesID, &rule.IssueNumber, &scoreStr, &status, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.MinDealScore, err = decimal.NewFromString(scoreStr)
		if err != nil {
			return nil, fmt.Errorf("parse min deal score of rule %s: %w", rule.ID, err)
		}
		rule.Status = rules.Status(status)
		out = append(out, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// InsertRule persists a new rule. A key collision maps to rules.ErrDuplicateRule.
func (s *Store) InsertRule(ctx context.Context, rule rules.AlertRule) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertRuleSQL,
		rule.ID,
		rule.SeriesID,
		rule.IssueNumber,
		rules.NormalizeIssue(rule.IssueNumber),
		rule.MinDealScore.String(),
		string(rule.Status),
		rule.CreatedAt,
	)
	if execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert rule: %w", rules.ErrDuplicateRule)
		}
		return fmt.Errorf("insert rule: %w", execErr)
	}
	return nil
}

// UpdateRuleStatus stores a toggled status.
func (s *Store) UpdateRuleStatus(ctx context.Context, id string, status rules.Status) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, updateRuleStatusSQL, id, string(status))
	if execErr != nil {
		return fmt.Errorf("update rule status: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return rules.ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule row.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deleteRuleSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete rule: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return rules.ErrNotFound
	}
	return nil
}

// InsertMatch records a match event.
func (s *Store) InsertMatch(ctx context.Context, match MatchRecord) (MatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return MatchRecord{}, err
	}

	row := pool.QueryRow(ctx, insertMatchSQL,
		match.RuleID,
		match.ListingID,
		match.SeriesID,
		match.IssueNumber,
		match.DealScore.String(),
		match.Title,
		match.URL,
		match.MatchedAt,
		match.Notified,
	)
	if scanErr := row.Scan(&match.ID, &match.CreatedAt); scanErr != nil {
		return MatchRecord{}, fmt.Errorf("insert match: %w", scanErr)
	}
	return match, nil
}

// ListRecentMatches lists the newest match events.
func (s *Store) ListRecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentMatchesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent matches: %w", queryErr)
	}
	defer rows.Close()

	return collectMatches(rows, limit)
}

// ListMatchesBetween lists match events within [from, to).
func (s *Store) ListMatchesBetween(ctx context.Context, from, to time.Time) ([]MatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listMatchesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list matches between: %w", queryErr)
	}
	defer rows.Close()

	return collectMatches(rows, 0)
}

// CountMatchesByRule aggregates match history per rule.
func (s *Store) CountMatchesByRule(ctx context.Context) ([]RuleMatchCount, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, countMatchesByRuleSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("count matches by rule: %w", queryErr)
	}
	defer rows.Close()

	out := make([]RuleMatchCount, 0)
	for rows.Next() {
		var c RuleMatchCount
		if err := rows.Scan(&c.RuleID, &c.Count, &c.LastMatched); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// DeleteMatchesBefore prunes old match history.
func (s *Store) DeleteMatchesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteMatchesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete matches before: %w", execErr)
	}
	return nil
}

func collectMatches(rows pgx.Rows, capacity int) ([]MatchRecord, error) {
	matches := make([]MatchRecord, 0, capacity)
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return matches, nil
}

func scanMatch(rows pgx.Rows) (MatchRecord, error) {
	var (
		rec      MatchRecord
		scoreStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.RuleID,
		&rec.ListingID,
		&rec.SeriesID,
		&rec.IssueNumber,
		&scoreStr,
		&rec.Title,
		&rec.URL,
		&rec.MatchedAt,
		&rec.Notified,
		&rec.CreatedAt,
	); err != nil {
		return MatchRecord{}, err
	}

	score, err := decimal.NewFromString(scoreStr)
	if err != nil {
		return MatchRecord{}, fmt.Errorf("parse deal score: %w", err)
	}
	rec.DealScore = score
	return rec, nil
}

var (
	_ RuleRepository = (*Store)(nil)
	_ MatchStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
