package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"comic-deal-alerts/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportLast      time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export match history as CSV and/or a per-day PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportLast > 0 && exportFrom != "" {
			return errors.New("--last and --from are mutually exclusive")
		}

		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		var err error
		if opts.From, err = parseTimeFlag("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseTimeFlag("to", exportTo); err != nil {
			return err
		}
		if exportLast > 0 {
			end := time.Now().UTC()
			if opts.To != nil {
				end = *opts.To
			}
			start := end.Add(-exportLast)
			opts.From = &start
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

// parseTimeFlag accepts RFC3339 or a bare date; empty means unset.
func parseTimeFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", name, raw)
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start of the window (RFC3339 or YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End of the window (RFC3339 or YYYY-MM-DD, exclusive)")
	exportCmd.Flags().DurationVar(&exportLast, "last", 0, "Window length ending at --to or now (e.g. 168h)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the per-day PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write match events as CSV")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum match events to export, newest kept (defaults to config)")
}
