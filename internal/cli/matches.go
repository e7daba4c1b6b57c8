package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"comic-deal-alerts/internal/app"
)

var (
	matchesLimit int
	matchesPrune time.Duration
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "Display recent match events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if matchesLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.MatchesOptions{
			Limit:          matchesLimit,
			PruneOlderThan: matchesPrune,
		}

		return getApp().ShowMatches(cmd.Context(), opts)
	},
}

func init() {
	matchesCmd.Flags().IntVar(&matchesLimit, "limit", 20, "Number of match events to display")
	matchesCmd.Flags().DurationVar(&matchesPrune, "prune-older-than", 0, "Delete match history older than this age first (e.g. 720h)")
}
