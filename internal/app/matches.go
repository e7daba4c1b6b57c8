package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// ShowMatches prints recent match events.
func (a *App) ShowMatches(ctx context.Context, opts MatchesOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show matches")
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.PruneOlderThan > 0 {
		cutoff := time.Now().UTC().Add(-opts.PruneOlderThan)
		if err := store.DeleteMatchesBefore(ctx, cutoff); err != nil {
			return err
		}
		a.Logger.Info().Time("cutoff", cutoff).Msg("pruned match history")
	}

	matches, err := store.ListRecentMatches(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(a.Out, "no matches found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRule\tSeries\tIssue\tScore\tListing\tNotified\tTitle")

	for _, m := range matches {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			m.MatchedAt.UTC().Format(time.RFC3339),
			m.RuleID,
			m.SeriesID,
			m.IssueNumber,
			m.DealScore.StringFixed(2),
			m.ListingID,
			m.Notified,
			sanitizeInline(m.Title),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
