package cli

import (
	"github.com/spf13/cobra"

	"comic-deal-alerts/internal/app"
)

var (
	ruleSeries   string
	ruleIssue    string
	ruleMinScore string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage alert rules",
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an alert rule for a series issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddRule(cmd.Context(), app.RuleOptions{
			SeriesID:     ruleSeries,
			IssueNumber:  ruleIssue,
			MinDealScore: ruleMinScore,
		})
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert rules, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListRules(cmd.Context())
	},
}

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Pause an active rule or resume a paused one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ToggleRule(cmd.Context(), args[0])
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an alert rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeleteRule(cmd.Context(), args[0])
	},
}

func init() {
	rulesAddCmd.Flags().StringVar(&ruleSeries, "series", "", "Series identifier, e.g. amazing-spider-man-1963")
	rulesAddCmd.Flags().StringVar(&ruleIssue, "issue", "", "Issue number, e.g. 300, 300.1 or 300a")
	rulesAddCmd.Flags().StringVar(&ruleMinScore, "min-score", "", "Minimum deal score between 1 and 100")

	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesToggleCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)
}
