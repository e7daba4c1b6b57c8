package cli

import (
	"github.com/spf13/cobra"

	"comic-deal-alerts/internal/app"
)

var (
	replayFile   string
	replayDryRun bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Evaluate a recorded deal feed file against stored rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Replay(cmd.Context(), app.ReplayOptions{
			File:   replayFile,
			DryRun: replayDryRun,
		})
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "Path to a feed document ({\"deals\": [...]})")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Print matches without recording or notifying")
	_ = replayCmd.MarkFlagRequired("file")
}
