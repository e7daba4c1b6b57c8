package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"comic-deal-alerts/internal/feed"
	"comic-deal-alerts/internal/matching"
	"comic-deal-alerts/internal/rules"
	"comic-deal-alerts/internal/service"
	"comic-deal-alerts/internal/storage"
)

// SimulateDeal runs one synthetic deal through matching and notification.
func (a *App) SimulateDeal(ctx context.Context, opts SimulateOptions) error {
	score, err := decimal.NewFromString(strings.TrimSpace(opts.DealScore))
	if err != nil {
		return fmt.Errorf("invalid deal score %q: %w", opts.DealScore, err)
	}

	listingID := opts.ListingID
	if listingID == "" {
		listingID = fmt.Sprintf("simulated-%d", time.Now().UTC().Unix())
	}
	deal := matching.DealRecord{
		ListingID:   listingID,
		SeriesID:    strings.TrimSpace(opts.SeriesID),
		IssueNumber: strings.TrimSpace(opts.IssueNumber),
		DealScore:   score,
		Title:       "Simulated deal",
	}

	var book *service.RuleBook
	if opts.MinDealScore != "" {
		book = service.NewRuleBook(rules.NewStore(), nil, nil, a.Logger)
		rule, err := book.Add(ctx, rules.Input{
			SeriesID:     opts.SeriesID,
			IssueNumber:  opts.IssueNumber,
			MinDealScore: parseScore(opts.MinDealScore),
		})
		if err != nil {
			return a.reportAdd(rule, err)
		}
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database not configured; pass --min-score to simulate against a one-off rule")
		}
		if closeStore != nil {
			defer closeStore()
		}
		if book, err = a.openBook(ctx, store, nil); err != nil {
			return err
		}
	}

	if !a.Config.Alerting.Enabled {
		a.Logger.Warn().Msg("alerting disabled; matches will be printed only")
	}

	source := &feed.Static{Deals: []matching.DealRecord{deal}}
	deals, err := source.FetchDeals(ctx)
	if err != nil {
		return err
	}

	svc := a.newService(nil, source, book, nil, nil)
	res, err := svc.Process(ctx, deals, a.Config.Alerting.Enabled)
	if err != nil {
		return err
	}

	a.printResult(res)
	return nil
}

// Replay evaluates a recorded feed document against the persisted rule set.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.File == "" {
		return errors.New("--file is required")
	}

	store, closeStore, err := a.requireStore(ctx, "replay")
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

	source := feed.NewFile(opts.File, a.Logger)
	deals, err := source.FetchDeals(ctx)
	if err != nil {
		return err
	}

	var matches *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("replay dry-run: matches will not be recorded or notified")
	} else {
		matches = store
	}

	svc := a.newService(nil, source, book, matches, nil)
	res, err := svc.Process(ctx, deals, !opts.DryRun && a.Config.Alerting.Enabled)
	if err != nil {
		return err
	}

	a.Logger.Info().Str("file", opts.File).
		Int("deals", res.Deals).
		Int("matches", len(res.Events)).
		Bool("dry_run", opts.DryRun).
		Msg("replay complete")
	a.printResult(res)
	return nil
}

func (a *App) printResult(res service.Result) {
	fmt.Fprintf(a.Out, "%d deal(s) evaluated, %d match(es)\n", res.Deals, len(res.Events))
	if len(res.Events) == 0 {
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rule\tListing\tSeries\tIssue\tScore")
	for _, ev := range res.Events {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", ev.RuleID, ev.Deal.ListingID, ev.Deal.SeriesID, ev.Deal.IssueNumber, ev.Deal.DealScore.StringFixed(2))
	}
	writer.Flush()

	if res.Notified+res.Suppressed+res.Failed > 0 {
		fmt.Fprintf(a.Out, "notified %d, suppressed %d, failed %d\n", res.Notified, res.Suppressed, res.Failed)
	}
}
