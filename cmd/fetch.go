package main

import (
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/gridclimate/internal/config"
	"github.com/sells-group/gridclimate/internal/ingest"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/region"
)

// fetchFlags selects regions, sources and the day range to fetch.
type fetchFlags struct {
	month       string
	start       string
	end         string
	all         bool
	startYear   int
	incremental bool
	regions     []string
	sources     []string
}

func (f *fetchFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.month, "month", "", "fetch one month (YYYY-MM)")
	fs.StringVar(&f.start, "start", "", "first day to fetch (YYYY-MM-DD)")
	fs.StringVar(&f.end, "end", "", "last day to fetch (YYYY-MM-DD, default today)")
	fs.BoolVar(&f.all, "all", false, "fetch everything since --start-year")
	fs.IntVar(&f.startYear, "start-year", 0, "first year for --all and empty --incremental regions (default fetch.start_year)")
	fs.BoolVar(&f.incremental, "incremental", false, "fetch from each region's last stored day to today")
	fs.StringSliceVar(&f.regions, "regions", nil, "region codes (default all)")
	fs.StringSliceVar(&f.sources, "sources", nil, "sources to fetch: demand, climate (default both)")
}

// planner turns the range flags into an ingest planner. At most one range
// mode may be set; none means the current month.
func (f *fetchFlags) planner(c *config.Config, cov ingest.CoverageReader, clock clockwork.Clock) (ingest.Planner, error) {
	modes := 0
	for _, set := range []bool{f.month != "", f.start != "", f.all, f.incremental} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return nil, eris.New("choose one of --month, --start/--end, --all, --incremental")
	}
	if f.end != "" && f.start == "" {
		return nil, eris.New("--end requires --start")
	}

	startYear := c.Fetch.StartYear
	if f.startYear > 0 {
		startYear = f.startYear
	}

	switch {
	case f.month != "":
		r, err := ingest.ParseMonth(f.month)
		if err != nil {
			return nil, err
		}
		return ingest.Fixed(r), nil
	case f.start != "":
		start, err := ingest.ParseDay(f.start)
		if err != nil {
			return nil, err
		}
		end := clock.Now()
		if f.end != "" {
			if end, err = ingest.ParseDay(f.end); err != nil {
				return nil, err
			}
		}
		r, err := ingest.NewRange(start, end)
		if err != nil {
			return nil, err
		}
		return ingest.Fixed(r), nil
	case f.all:
		r, err := ingest.Since(startYear, clock)
		if err != nil {
			return nil, err
		}
		return ingest.Fixed(r), nil
	case f.incremental:
		return ingest.Incremental{Coverage: cov, Clock: clock, StartYear: startYear}, nil
	default:
		return ingest.Fixed(ingest.CurrentMonth(clock)), nil
	}
}

// request validates region and source names against the registry.
func (f *fetchFlags) request(regions *region.Registry, planner ingest.Planner) (ingest.Request, error) {
	selected, err := regions.Select(normalizeCodes(f.regions))
	if err != nil {
		return ingest.Request{}, err
	}
	req := ingest.Request{Planner: planner}
	for _, r := range selected {
		req.Regions = append(req.Regions, r.Code)
	}
	for _, s := range f.sources {
		src, err := model.ParseSource(strings.ToLower(strings.TrimSpace(s)))
		if err != nil {
			return ingest.Request{}, err
		}
		req.Sources = append(req.Sources, src)
	}
	return req, nil
}

func normalizeCodes(codes []string) []string {
	var out []string
	for _, c := range codes {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}

var fetchOpts fetchFlags

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch demand and climate history into the raw store",
	Long: "Fetches hourly EIA demand and Open-Meteo climate for the selected regions and merges them into the raw store. " +
		"Without a range flag the current month is fetched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := openEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		planner, err := fetchOpts.planner(cfg, e.store, clockwork.NewRealClock())
		if err != nil {
			return err
		}
		req, err := fetchOpts.request(e.regions, planner)
		if err != nil {
			return err
		}

		report, err := e.collector().Run(ctx, req)
		if err != nil {
			return eris.Wrap(err, "fetch")
		}
		formatFetchReport(os.Stdout, report)

		e.checkHealth(ctx)
		e.finish("fetch")

		if report.Failed() {
			return eris.Errorf("fetch: %d region(s) failed", failedCount(report.Counts()))
		}
		return nil
	},
}

func failedCount(counts map[model.Status]int) int {
	return counts[model.StatusFailed] + counts[model.StatusCancelled]
}

func init() {
	fetchOpts.register(fetchCmd.Flags())
	rootCmd.AddCommand(fetchCmd)
}
