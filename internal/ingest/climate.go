package ingest

import (
	"context"
	"time"

	"github.com/sells-group/gridclimate/internal/fetcher"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/region"
	"github.com/sells-group/gridclimate/pkg/openmeteo"
)

// ClimateFetcher adapts the Open-Meteo client to a SeriesFetcher. Every
// variable in the registry is requested in one call per window.
type ClimateFetcher struct {
	client    openmeteo.Client
	regions   *region.Registry
	variables []model.Variable
}

// NewClimateFetcher creates a ClimateFetcher for the full variable registry.
func NewClimateFetcher(client openmeteo.Client, regions *region.Registry) *ClimateFetcher {
	return &ClimateFetcher{client: client, regions: regions, variables: model.ClimateVariables()}
}

func (c *ClimateFetcher) Source() model.Source { return model.SourceClimate }

func (c *ClimateFetcher) Fetch(ctx context.Context, code string, start, end time.Time) (*model.Series, error) {
	reg, err := checkRequest(c.regions, openmeteo.Provider, code, start, end)
	if err != nil {
		return nil, err
	}

	params := make([]string, len(c.variables))
	for i, v := range c.variables {
		params[i] = v.Param
	}

	hourly, err := c.client.Hourly(ctx, reg.Lat, reg.Lng, start, end, params)
	if err != nil {
		return nil, fetcher.WithRegion(err, code)
	}

	obs := make([]model.Observation, hourly.Len())
	for i, ts := range hourly.Times {
		vals := make(map[string]*float64, len(c.variables))
		for _, v := range c.variables {
			col := hourly.Values[v.Param]
			if i < len(col) {
				vals[v.Name] = col[i]
			} else {
				vals[v.Name] = nil
			}
		}
		obs[i] = model.Observation{Time: ts, Values: vals}
	}
	return model.NewSeries(code, model.SourceClimate, obs), nil
}
