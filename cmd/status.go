package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/monitoring"
	"github.com/sells-group/gridclimate/internal/store"
)

var (
	statusLimit  int
	statusRegion string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync log, stored coverage and fetch health",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.ListSyncs(ctx, store.SyncFilter{Region: normalizeCode(statusRegion), Limit: statusLimit})
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(entries) == 0 {
			zap.L().Info("no sync entries found, run 'gridclimate fetch' to start")
		} else {
			formatSyncEntries(os.Stdout, entries)
		}

		cov, err := collectCoverage(ctx, st, entries)
		if err != nil {
			return err
		}
		if len(cov) > 0 {
			_, _ = fmt.Fprintln(os.Stdout)
			formatCoverage(os.Stdout, cov)
		}

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, cfg.Monitoring.LookbackHours)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(os.Stdout)
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "number of sync entries to show")
	statusCmd.Flags().StringVar(&statusRegion, "region", "", "only show one region")
	rootCmd.AddCommand(statusCmd)
}

func normalizeCode(code string) string {
	codes := normalizeCodes([]string{code})
	if len(codes) == 0 {
		return ""
	}
	return codes[0]
}

// coverageRow is the stored range of one region and source, with the time
// its last successful sync finished.
type coverageRow struct {
	Region      string
	Source      model.Source
	LastSuccess *time.Time
	store.Coverage
}

// collectCoverage reports coverage for every region that appears in entries.
func collectCoverage(ctx context.Context, st store.Store, entries []store.SyncEntry) ([]coverageRow, error) {
	regions := map[string]bool{}
	for _, e := range entries {
		regions[e.Region] = true
	}
	var rows []coverageRow
	for _, code := range sortedKeys(regions) {
		for _, src := range model.Sources {
			c, err := st.Coverage(ctx, code, src)
			if err != nil {
				return nil, eris.Wrapf(err, "status: coverage %s/%s", code, src)
			}
			row := coverageRow{Region: code, Source: src, Coverage: c}
			last, err := st.LastSuccess(ctx, code, src)
			if err != nil {
				return nil, eris.Wrapf(err, "status: last success %s/%s", code, src)
			}
			if last != nil {
				row.LastSuccess = last.CompletedAt
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// formatSyncEntries writes a tabular representation of sync entries to w.
func formatSyncEntries(out io.Writer, entries []store.SyncEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tSOURCE\tRANGE\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "------\t------\t-----\t------\t-------\t--------\t----\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		errMsg := ""
		if e.Error != "" {
			errMsg = e.ErrorKind + ": " + truncate(e.Error, 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s..%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Region,
			e.Source,
			e.RangeStart.Format(time.DateOnly),
			e.RangeEnd.Format(time.DateOnly),
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.RowsMerged,
			errMsg,
		)
	}
	_ = w.Flush()
}

func formatCoverage(out io.Writer, rows []coverageRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tSOURCE\tFIRST\tLAST\tHOURS\tLAST_SUCCESS")
	_, _ = fmt.Fprintln(w, "------\t------\t-----\t----\t-----\t------------")
	for _, r := range rows {
		first, last, synced := "-", "-", "never"
		if !r.Empty() {
			first = r.First.Format("2006-01-02 15:04")
			last = r.Last.Format("2006-01-02 15:04")
		}
		if r.LastSuccess != nil {
			synced = r.LastSuccess.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.Region, r.Source, first, last, r.Count, synced)
	}
	_ = w.Flush()
}

func formatSnapshot(out io.Writer, s *monitoring.SyncSnapshot) {
	_, _ = fmt.Fprintf(out, "Last %dh: %d syncs, %d complete, %d failed, %d running (failure rate %.1f%%), %d rows merged\n",
		s.LookbackHours, s.Total, s.Complete, s.Failed, s.Running, s.FailRate*100, s.RowsMerged)
	for _, kind := range sortedKeys(s.FailedByKind) {
		_, _ = fmt.Fprintf(out, "  %s: %d\n", kind, s.FailedByKind[kind])
	}
	if len(s.FailingKeys) > 0 {
		_, _ = fmt.Fprintf(out, "Latest sync failed for: %v\n", s.FailingKeys)
	}
}
