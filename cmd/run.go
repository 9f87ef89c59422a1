package main

import (
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/gridclimate/internal/analysis"
	"github.com/sells-group/gridclimate/internal/pipeline"
)

var (
	runOpts   fetchFlags
	runPeriod string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, then analyze the regions that fetched cleanly",
	Long: "Runs fetch and analyze back to back. Regions whose fetch failed are not re-analyzed, " +
		"so their previous artifact stays in place.",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, mode := range []string{"fetch", "analyze"} {
			if err := cfg.Validate(mode); err != nil {
				return err
			}
		}
		period, err := analysis.ParsePeriod(runPeriod)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		e, err := openEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		planner, err := runOpts.planner(cfg, e.store, clockwork.NewRealClock())
		if err != nil {
			return err
		}
		req, err := runOpts.request(e.regions, planner)
		if err != nil {
			return err
		}
		engine, err := e.engine()
		if err != nil {
			return err
		}

		res, err := pipeline.New(e.collector(), engine).Run(ctx, req, period)
		if err != nil {
			return err
		}
		formatFetchReport(os.Stdout, res.Fetch)
		if res.Analysis != nil {
			formatAnalysisReport(os.Stdout, res.Analysis)
		}

		e.checkHealth(ctx)
		e.finish("run")

		if res.Failed() {
			return eris.New("run: one or more regions failed")
		}
		return nil
	},
}

func init() {
	runOpts.register(runCmd.Flags())
	runCmd.Flags().StringVar(&runPeriod, "period", "all", "analysis period: all, YYYY-MM, or MM")
	rootCmd.AddCommand(runCmd)
}
