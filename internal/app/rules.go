package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"comic-deal-alerts/internal/rules"
	"comic-deal-alerts/internal/service"
	"comic-deal-alerts/internal/storage"
)

// ErrRuleRejected is returned after validation problems have been printed.
var ErrRuleRejected = errors.New("rule rejected")

// AddRule validates and persists a new rule.
func (a *App) AddRule(ctx context.Context, opts RuleOptions) error {
	return a.withBook(ctx, "add rules", func(book *service.RuleBook, _ *storage.Store) error {
		rule, err := book.Add(ctx, ruleInput(opts))
		return a.reportAdd(rule, err)
	})
}

func (a *App) reportAdd(rule rules.AlertRule, err error) error {
	var verrs rules.ValidationErrors
	var dup *rules.DuplicateRuleError
	switch {
	case err == nil:
		fmt.Fprintf(a.Out, "created rule %s (%s #%s, min score %s)\n", rule.ID, rule.SeriesID, rule.IssueNumber, rule.MinDealScore.String())
		return nil
	case errors.As(err, &verrs):
		for _, line := range describeValidation(verrs) {
			fmt.Fprintln(a.Out, line)
		}
		return ErrRuleRejected
	case errors.As(err, &dup):
		fmt.Fprintf(a.Out, "an alert for this issue already exists (rule %s)\n", dup.ExistingID)
		return nil
	case errors.Is(err, rules.ErrDuplicateRule):
		fmt.Fprintln(a.Out, "an alert for this issue already exists")
		return nil
	default:
		return err
	}
}

// ListRules prints the rule set, most recent first, with match history.
func (a *App) ListRules(ctx context.Context) error {
	return a.withBook(ctx, "list rules", func(book *service.RuleBook, store *storage.Store) error {
		list := book.Rules()
		if len(list) == 0 {
			fmt.Fprintln(a.Out, "no rules found")
			return nil
		}

		history := make(map[string]storage.RuleMatchCount)
		counts, err := store.CountMatchesByRule(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("failed to load match counts")
		}
		for _, c := range counts {
			history[c.RuleID] = c
		}

		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tSeries\tIssue\tMin Score\tStatus\tCreated (UTC)\tMatches\tLast Match")
		for _, rule := range list {
			h := history[rule.ID]
			last := "-"
			if !h.LastMatched.IsZero() {
				last = h.LastMatched.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				rule.ID,
				rule.SeriesID,
				rule.IssueNumber,
				rule.MinDealScore.String(),
				rule.Status,
				rule.CreatedAt.UTC().Format(time.RFC3339),
				h.Count,
				last,
			)
		}
		writer.Flush()

		c := book.Counts()
		fmt.Fprintf(a.Out, "\n%d active, %d paused\n", c.Active, c.Paused)
		return nil
	})
}

// ToggleRule flips a rule between active and paused.
func (a *App) ToggleRule(ctx context.Context, id string) error {
	return a.withBook(ctx, "toggle rules", func(book *service.RuleBook, _ *storage.Store) error {
		rule, err := book.Toggle(ctx, id)
		if errors.Is(err, rules.ErrNotFound) {
			fmt.Fprintf(a.Out, "rule %s no longer exists\n", id)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "rule %s is now %s\n", rule.ID, rule.Status)
		return nil
	})
}

// DeleteRule removes a rule.
func (a *App) DeleteRule(ctx context.Context, id string) error {
	return a.withBook(ctx, "delete rules", func(book *service.RuleBook, _ *storage.Store) error {
		rule, err := book.Remove(ctx, id)
		if errors.Is(err, rules.ErrNotFound) {
			fmt.Fprintf(a.Out, "rule %s no longer exists\n", id)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "deleted rule %s (%s #%s)\n", rule.ID, rule.SeriesID, rule.IssueNumber)
		return nil
	})
}

func (a *App) withBook(ctx context.Context, action string, fn func(*service.RuleBook, *storage.Store) error) error {
	store, closeStore, err := a.requireStore(ctx, action)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	book, err := a.openBook(ctx, store, nil)
	if err != nil {
		return err
	}
	return fn(book, store)
}

func ruleInput(opts RuleOptions) rules.Input {
	return rules.Input{
		SeriesID:     opts.SeriesID,
		IssueNumber:  opts.IssueNumber,
		MinDealScore: parseScore(opts.MinDealScore),
	}
}

// parseScore returns nil for blank or unparseable input so validation
// reports it as out of range.
func parseScore(raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

var validationMessages = map[rules.ErrorKind]string{
	rules.MissingSeries:            "series is required",
	rules.MissingIssueNumber:       "issue number is required",
	rules.InvalidIssueNumberFormat: "issue number must look like 300, 300.1 or 300a",
	rules.DealScoreOutOfRange:      "minimum deal score must be between 1 and 100",
}

func describeValidation(verrs rules.ValidationErrors) []string {
	fields := make([]string, 0, len(verrs))
	for field := range verrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		msg, ok := validationMessages[verrs[field]]
		if !ok {
			msg = string(verrs[field])
		}
		lines = append(lines, fmt.Sprintf("%s: %s", field, msg))
	}
	return lines
}
