package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/volsurface/internal/report"
	"github.com/dgnsrekt/volsurface/internal/store"
)

func reportCmd() *cobra.Command {
	var (
		worst  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the quality report of the persisted surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.NewManager(cfg.Output.Directory, cfg.Output.SurfaceFile)
			s, err := st.Load()
			if err != nil {
				return err
			}
			q := report.Assess(s, cfg.Percentile.Windows)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeIndented(out, q)
			}
			printQuality(out, q, worst)
			if q.Status() == report.StatusCritical {
				return errors.New("surface quality is CRITICAL")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&worst, "worst", 10, "number of lowest-coverage buckets to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")

	return cmd
}

func catalogCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List every bucket of the persisted surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.NewManager(cfg.Output.Directory, cfg.Output.SurfaceFile)
			s, err := st.Load()
			if err != nil {
				return err
			}
			entries := report.Catalog(s, cfg.Percentile.Windows)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeIndented(out, entries)
			}
			printCatalog(out, entries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")

	return cmd
}

func printQuality(w io.Writer, q *report.Quality, worst int) {
	s := q.Summary
	fmt.Fprintf(w, "Status:   %s\n", q.Status())
	fmt.Fprintf(w, "Range:    %s to %s (%d trading days)\n", s.Start, s.End, s.TradingDays)
	fmt.Fprintf(w, "Buckets:  %d\n", s.Buckets)
	fmt.Fprintf(w, "Rows:     %d (real %.1f%%, filled %.1f%%)\n\n", s.TotalRows, s.RealPct, s.FilledPct)

	if worst > 0 && len(q.Buckets) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "BUCKET\tROWS\tREAL%\tSTALE%\tMAX GAP")
		for _, b := range q.Worst(worst) {
			fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%d\n", b.Bucket, b.TotalRows, b.RealPct, b.StalePct, b.MaxGapDays)
		}
		_ = tw.Flush()
		fmt.Fprintln(w)
	}

	for _, e := range q.Errors {
		fmt.Fprintf(w, "ERROR: %s\n", e)
	}
	for _, warn := range q.Warnings {
		fmt.Fprintf(w, "WARN:  %s\n", warn)
	}
}

func printCatalog(w io.Writer, entries []report.CatalogEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tROWS\tSTART\tEND\tREAL%\tMAX GAP")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%.1f\t%d\n", e.File, e.Rows, e.Start, e.End, e.RealPct, e.MaxGapDays)
	}
	_ = tw.Flush()
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

