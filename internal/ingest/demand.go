// Package ingest fetches demand and climate history for regions and merges
// it into the raw store.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/fetcher"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/region"
	"github.com/sells-group/gridclimate/pkg/eia"
)

// SeriesFetcher produces one source's hourly series for a region over the
// days [start, end]. Failures are *fetcher.FetchError. Fetchers have no
// side effects.
type SeriesFetcher interface {
	Source() model.Source
	Fetch(ctx context.Context, code string, start, end time.Time) (*model.Series, error)
}

// DemandFetcher adapts the EIA client to a SeriesFetcher.
type DemandFetcher struct {
	client  eia.Client
	regions *region.Registry
}

// NewDemandFetcher creates a DemandFetcher.
func NewDemandFetcher(client eia.Client, regions *region.Registry) *DemandFetcher {
	return &DemandFetcher{client: client, regions: regions}
}

func (d *DemandFetcher) Source() model.Source { return model.SourceDemand }

func (d *DemandFetcher) Fetch(ctx context.Context, code string, start, end time.Time) (*model.Series, error) {
	if _, err := checkRequest(d.regions, eia.Provider, code, start, end); err != nil {
		return nil, err
	}

	readings, err := d.client.HourlyDemand(ctx, code, start, end)
	if err != nil {
		return nil, fetcher.WithRegion(err, code)
	}

	obs := make([]model.Observation, 0, len(readings))
	for _, r := range readings {
		obs = append(obs, model.Observation{
			Time:   r.Period,
			Values: map[string]*float64{model.DemandVariable: r.Value},
		})
	}
	return model.NewSeries(code, model.SourceDemand, obs), nil
}

// checkRequest validates a fetch before any network call.
func checkRequest(regions *region.Registry, provider, code string, start, end time.Time) (region.Region, error) {
	reg, err := regions.Get(code)
	if err != nil {
		fe := fetcher.NotFound(provider, err)
		fe.Region = code
		return region.Region{}, fe
	}
	if end.Before(start) {
		return region.Region{}, eris.Errorf("ingest: start %s after end %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return reg, nil
}
