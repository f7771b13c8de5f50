package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/dustin/sitepulse/internal/analytics"
)

func newStatsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the visit statistics of the configured store",
		Long: `Compute the same snapshot GET /api/analytics serves, directly from the
configured store. No admin token is needed.`,
		Example: `  sitepulse stats
  sitepulse stats --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("unknown format %q (want table or json)", format)
			}
			cfg := loadConfig()
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := analytics.NewAggregator(store, "").Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("compute stats: %w", err)
			}
			return renderStats(cmd.OutOrStdout(), snap, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table or json")
	return cmd
}

func renderStats(w io.Writer, snap analytics.Snapshot, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	t := newTable(w, "Visits")
	t.AppendHeader(table.Row{"Window", "Visits"})
	t.AppendRows([]table.Row{
		{"All time", snap.TotalVisits},
		{"Last 7 days", snap.VisitsLast7Days},
		{"Last 30 days", snap.VisitsLast30Days},
	})
	t.Render()

	t = newTable(w, "Top Pages")
	t.AppendHeader(table.Row{"#", "Path", "Visits"})
	for i, p := range snap.TopPages {
		t.AppendRow(table.Row{i + 1, p.Path, p.Count})
	}
	t.Render()

	t = newTable(w, "Top Referrers")
	t.AppendHeader(table.Row{"#", "Referrer", "Visits"})
	for i, r := range snap.TopReferrers {
		t.AppendRow(table.Row{i + 1, r.Referrer, r.Count})
	}
	t.Render()

	if len(snap.DailyVisits) > 0 {
		t = newTable(w, "Daily Visits")
		t.AppendHeader(table.Row{"Date", "Visits"})
		for _, d := range snap.DailyVisits {
			t.AppendRow(table.Row{d.Date, d.Count})
		}
		t.Render()
	}
	return nil
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)

	t.Style().Title.Align = text.AlignCenter
	t.Style().Format.Header = text.FormatDefault

	return t
}
