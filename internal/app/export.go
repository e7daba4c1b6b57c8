package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"comic-deal-alerts/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders match history as CSV and/or a per-day PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	matches, err := store.ListMatchesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		a.Logger.Info().Msg("no matches found for export window")
		return nil
	}

	kept := latestMatches(matches, opts.MaxPoints)
	a.Logger.Info().Int("total", len(matches)).Int("exported", len(kept)).Msg("exporting matches")

	if opts.CSVPath != "" {
		if err := writeMatchesCSV(opts.CSVPath, kept); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeMatchesPNG(opts.PNGPath, dailyBuckets(kept)); err != nil {
			return err
		}
	}

	return nil
}

// latestMatches keeps the newest max records of a chronologically ordered slice.
func latestMatches(matches []storage.MatchRecord, max int) []storage.MatchRecord {
	if max <= 0 || len(matches) <= max {
		return matches
	}
	return matches[len(matches)-max:]
}

// dayBucket aggregates matches that fall on one UTC day.
type dayBucket struct {
	Day      time.Time
	Matches  int
	Notified int
	AvgScore decimal.Decimal
}

func dailyBuckets(matches []storage.MatchRecord) []dayBucket {
	type acc struct {
		count    int
		notified int
		sum      decimal.Decimal
	}
	byDay := make(map[time.Time]*acc)
	for _, m := range matches {
		day := m.MatchedAt.UTC().Truncate(24 * time.Hour)
		a, ok := byDay[day]
		if !ok {
			a = &acc{sum: decimal.Zero}
			byDay[day] = a
		}
		a.count++
		a.sum = a.sum.Add(m.DealScore)
		if m.Notified {
			a.notified++
		}
	}

	out := make([]dayBucket, 0, len(byDay))
	for day, a := range byDay {
		out = append(out, dayBucket{
			Day:      day,
			Matches:  a.count,
			Notified: a.notified,
			AvgScore: a.sum.Div(decimal.NewFromInt(int64(a.count))).Round(2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

func writeMatchesCSV(path string, matches []storage.MatchRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"matched_at", "rule_id", "listing_id", "series_id", "issue_number", "deal_score", "notified", "title", "url"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, m := range matches {
		record := []string{
			m.MatchedAt.UTC().Format(time.RFC3339),
			m.RuleID,
			m.ListingID,
			m.SeriesID,
			m.IssueNumber,
			m.DealScore.String(),
			strconv.FormatBool(m.Notified),
			m.Title,
			m.URL,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeMatchesPNG(path string, days []dayBucket) error {
	if len(days) == 0 {
		return errors.New("no data to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	// a single point has no x range; anchor it with an empty previous day
	if len(days) == 1 {
		days = append([]dayBucket{{Day: days[0].Day.Add(-24 * time.Hour), AvgScore: decimal.Zero}}, days...)
	}

	maxCount := 1.0
	x := make([]time.Time, len(days))
	matched := make([]float64, len(days))
	notified := make([]float64, len(days))
	avgScore := make([]float64, len(days))

	for i, d := range days {
		x[i] = d.Day
		matched[i] = float64(d.Matches)
		notified[i] = float64(d.Notified)
		avgScore[i] = d.AvgScore.InexactFloat64()
		if matched[i] > maxCount {
			maxCount = matched[i]
		}
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	scoreFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Matches per day",
			ValueFormatter: countFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: maxCount + 1},
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Average deal score",
			ValueFormatter: scoreFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Matches",
				XValues: x,
				YValues: matched,
			},
			chart.TimeSeries{
				Name:    "Notified",
				XValues: x,
				YValues: notified,
			},
			chart.TimeSeries{
				Name:    "Avg score",
				XValues: x,
				YValues: avgScore,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
