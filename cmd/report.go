package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/gridclimate/internal/analysis"
	"github.com/sells-group/gridclimate/internal/ingest"
	"github.com/sells-group/gridclimate/internal/model"
)

var title = cases.Title(language.English)

// formatFetchReport writes one row per region and a status tally.
func formatFetchReport(out io.Writer, r *ingest.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tSTATUS\tDEMAND\tCLIMATE\tREASON")
	_, _ = fmt.Fprintln(w, "------\t------\t------\t-------\t------")

	for _, reg := range r.Regions {
		cells := map[model.Source]string{model.SourceDemand: "-", model.SourceClimate: "-"}
		for _, s := range reg.Sources {
			if s.Source == "" {
				continue
			}
			if s.Status == model.StatusOK {
				cells[s.Source] = fmt.Sprintf("%d rows", s.Rows)
			} else {
				cells[s.Source] = string(s.Status)
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			reg.Region,
			reg.Status,
			cells[model.SourceDemand],
			cells[model.SourceClimate],
			truncate(reg.Reason(), 60),
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%s in %s\n", tally(r.Counts()), r.Finished.Sub(r.Started).Round(time.Second))
}

// formatAnalysisReport writes one row per region, the insufficient
// variables, and where the stats table went.
func formatAnalysisReport(out io.Writer, r *analysis.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tSTATUS\tINSUFFICIENT\tDETAIL")
	_, _ = fmt.Fprintln(w, "------\t------\t------------\t------")

	counts := map[model.Status]int{}
	for _, reg := range r.Regions {
		counts[reg.Status]++
		insufficient := "-"
		if len(reg.Insufficient) > 0 {
			insufficient = strings.Join(reg.Insufficient, ",")
		}
		detail := reg.Location
		if reg.Status != model.StatusOK {
			detail = truncate(reg.Reason, 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", reg.Region, reg.Status, insufficient, detail)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nPeriod %s: %s\n", r.Period, tally(counts))
	switch {
	case r.StatsErr != nil:
		_, _ = fmt.Fprintf(out, "Stats table failed: %v\n", r.StatsErr)
	case r.StatsLocation != "":
		_, _ = fmt.Fprintf(out, "Stats table: %s\n", r.StatsLocation)
	}
}

// tally renders counts as "Ok 3, Failed 1" in a fixed status order.
func tally(counts map[model.Status]int) string {
	order := []model.Status{model.StatusOK, model.StatusSkipped, model.StatusFailed, model.StatusCancelled}
	var parts []string
	for _, s := range order {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", title.String(string(s)), n))
		}
	}
	if len(parts) == 0 {
		return "no regions"
	}
	return strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
