package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gridclimate/internal/artifact"
	"github.com/sells-group/gridclimate/internal/region"
)

var (
	regionsGeoJSON         string
	regionsBoundaries      string
	regionsCodeField       string
	regionsInterconnection string
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List tracked balancing authorities",
	Long: "Prints the region registry, or writes it as a GeoJSON FeatureCollection of centroids with --geojson. " +
		"--boundaries compares the registry centroids with those of a control-area shapefile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := region.Default()
		if regionsBoundaries != "" {
			boundaries, err := reg.LoadBoundaries(regionsBoundaries, regionsCodeField)
			if err != nil {
				return err
			}
			formatDrift(os.Stdout, reg.Drift(boundaries))
			return nil
		}
		if regionsGeoJSON == "" {
			regions, err := selectRegions(reg, regionsInterconnection)
			if err != nil {
				return err
			}
			formatRegions(os.Stdout, regions)
			return nil
		}

		data, err := reg.GeoJSON()
		if err != nil {
			return err
		}
		sink := &artifact.FileSink{Dir: filepath.Dir(regionsGeoJSON)}
		loc, err := sink.Put(cmd.Context(), filepath.Base(regionsGeoJSON), data)
		if err != nil {
			return eris.Wrap(err, "regions: write geojson")
		}
		zap.L().Info("region index written", zap.String("path", loc), zap.Int("regions", reg.Len()))
		return nil
	},
}

func init() {
	regionsCmd.Flags().StringVar(&regionsGeoJSON, "geojson", "", "write a GeoJSON index to this path")
	regionsCmd.Flags().StringVar(&regionsBoundaries, "boundaries", "", "control-area shapefile to check centroids against")
	regionsCmd.Flags().StringVar(&regionsCodeField, "code-field", region.DefaultCodeField, "shapefile attribute holding the region code")
	regionsCmd.Flags().StringVar(&regionsInterconnection, "interconnection", "", "only list one grid (eastern, western or ercot)")
	rootCmd.AddCommand(regionsCmd)
}

// selectRegions returns every region, or those on one interconnection.
func selectRegions(reg *region.Registry, ic string) ([]region.Region, error) {
	if ic == "" {
		return reg.All(), nil
	}
	grid := region.Interconnection(strings.ToLower(strings.TrimSpace(ic)))
	switch grid {
	case region.Eastern, region.Western, region.ERCOT:
		return reg.ByInterconnection(grid), nil
	}
	return nil, eris.Errorf("regions: unknown interconnection %q (want eastern, western or ercot)", ic)
}

func formatRegions(out io.Writer, regions []region.Region) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tNAME\tLAT\tLNG\tINTERCONNECTION")
	_, _ = fmt.Fprintln(w, "----\t----\t---\t---\t---------------")
	for _, r := range regions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%s\n", r.Code, r.Name, r.Lat, r.Lng, r.Interconnection)
	}
	_ = w.Flush()
}

// formatDrift writes the table and boundary centroids side by side.
func formatDrift(out io.Writer, drift []region.Drift) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tTABLE\tBOUNDARY\tDRIFT_KM")
	_, _ = fmt.Fprintln(w, "----\t-----\t--------\t--------")
	for _, d := range drift {
		_, _ = fmt.Fprintf(w, "%s\t%.2f,%.2f\t%.2f,%.2f\t%.1f\n",
			d.Code, d.Table[1], d.Table[0], d.Boundary[1], d.Boundary[0], d.KM)
	}
	_ = w.Flush()
}
