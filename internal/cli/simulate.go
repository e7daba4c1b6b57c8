package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"comic-deal-alerts/internal/app"
)

var (
	simulateSeries   string
	simulateIssue    string
	simulateScore    string
	simulateListing  string
	simulateMinScore string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-deal",
	Short: "Run one synthetic deal through matching and alerting",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSeries == "" || simulateIssue == "" || simulateScore == "" {
			return errors.New("--series, --issue and --score are required")
		}

		return getApp().SimulateDeal(cmd.Context(), app.SimulateOptions{
			SeriesID:     simulateSeries,
			IssueNumber:  simulateIssue,
			DealScore:    simulateScore,
			ListingID:    simulateListing,
			MinDealScore: simulateMinScore,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSeries, "series", "", "Series identifier of the deal")
	simulateCmd.Flags().StringVar(&simulateIssue, "issue", "", "Issue number of the deal")
	simulateCmd.Flags().StringVar(&simulateScore, "score", "", "Deal score (0-100)")
	simulateCmd.Flags().StringVar(&simulateListing, "listing", "", "Listing id (defaults to a generated one)")
	simulateCmd.Flags().StringVar(&simulateMinScore, "min-score", "", "Match against a one-off rule with this minimum score instead of stored rules")
}
