package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/gridclimate/internal/analysis"
)

var (
	analyzePeriod  string
	analyzeRegions []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Correlate stored demand with climate and write region artifacts",
	Long: "Loads stored history, aligns demand with each climate variable, computes Spearman correlations and " +
		"replaces each region's summary artifact. --period is all, YYYY-MM, or MM for one month across years.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}
		period, err := analysis.ParsePeriod(analyzePeriod)
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

		engine, err := e.engine()
		if err != nil {
			return err
		}
		report, err := engine.Run(ctx, normalizeCodes(analyzeRegions), period)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}
		formatAnalysisReport(os.Stdout, report)
		e.finish("analyze")

		if report.Failed() {
			return eris.New("analyze: one or more regions failed")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzePeriod, "period", "all", "all, YYYY-MM, or MM")
	analyzeCmd.Flags().StringSliceVar(&analyzeRegions, "regions", nil, "region codes (default all)")
	rootCmd.AddCommand(analyzeCmd)
}
