package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gridclimate/internal/analysis"
	"github.com/sells-group/gridclimate/internal/artifact"
	"github.com/sells-group/gridclimate/internal/fetcher"
	"github.com/sells-group/gridclimate/internal/ingest"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/region"
	"github.com/sells-group/gridclimate/internal/store"
)

var day0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type stubFetcher struct {
	source model.Source
	name   string
	fail   map[string]error
}

func (s stubFetcher) Source() model.Source { return s.source }

func (s stubFetcher) Fetch(_ context.Context, code string, start, end time.Time) (*model.Series, error) {
	if err := s.fail[code]; err != nil {
		return nil, err
	}
	var obs []model.Observation
	for ts := start; !ts.After(end.Add(23 * time.Hour)); ts = ts.Add(time.Hour) {
		v := float64(ts.Sub(start) / time.Hour)
		if s.source == model.SourceDemand {
			v = 20000 + 10*v
		}
		obs = append(obs, model.Observation{Time: ts, Values: map[string]*float64{s.name: &v}})
	}
	return model.NewSeries(code, s.source, obs), nil
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestPipeline_RateLimitedRegionKeepsPriorArtifact(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	dir := t.TempDir()

	prior := []byte(`{"region":"PACW","last_updated":"2024-04-01T00:00:00Z"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PACW.json"), prior, 0o644))

	rateLimited := &fetcher.FetchError{Kind: fetcher.KindRateLimited, Provider: "open-meteo", StatusCode: 429}
	collector := ingest.NewCollector(st, []ingest.SeriesFetcher{
		stubFetcher{source: model.SourceDemand, name: model.DemandVariable},
		stubFetcher{source: model.SourceClimate, name: "temperature", fail: map[string]error{"PACW": rateLimited}},
	})
	engine := analysis.NewEngine(st, region.Default(), artifact.NewWriter(&artifact.FileSink{Dir: dir}),
		nil, nil, clockwork.NewFakeClockAt(day0.AddDate(0, 0, 2)), analysis.Options{})

	res, err := New(collector, engine).Run(ctx, ingest.Request{
		Regions: []string{"ERCO", "PACW", "PJM"},
		Planner: ingest.Fixed(ingest.Range{Start: day0, End: day0.AddDate(0, 0, 1)}),
	}, analysis.AllTime)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, model.StatusFailed, res.Fetch.Status("PACW"))

	require.NotNil(t, res.Analysis)
	assert.Equal(t, model.Status(""), res.Analysis.Status("PACW"), "PACW is not analyzed")
	assert.Equal(t, model.StatusOK, res.Analysis.Status("ERCO"))
	assert.Equal(t, model.StatusOK, res.Analysis.Status("PJM"))

	got, err := os.ReadFile(filepath.Join(dir, "PACW.json"))
	require.NoError(t, err)
	assert.Equal(t, prior, got)

	for _, code := range []string{"ERCO", "PJM"} {
		b, err := os.ReadFile(filepath.Join(dir, code+".json"))
		require.NoError(t, err)
		var doc artifact.Document
		require.NoError(t, json.Unmarshal(b, &doc))
		assert.Equal(t, "2024-05-03T00:00:00Z", doc.LastUpdated)
		temp := doc.Correlations["temperature"].Correlation
		require.NotNil(t, temp)
		assert.Equal(t, 48, temp.N)
		assert.Equal(t, 1.0, temp.R)
	}
}

func TestPipeline_NothingEligible(t *testing.T) {
	st := newStore(t)
	transient := &fetcher.FetchError{Kind: fetcher.KindTransient, Provider: "eia"}
	collector := ingest.NewCollector(st, []ingest.SeriesFetcher{
		stubFetcher{source: model.SourceDemand, name: model.DemandVariable, fail: map[string]error{"ERCO": transient}},
	})
	engine := analysis.NewEngine(st, region.Default(), artifact.NewWriter(&artifact.FileSink{Dir: t.TempDir()}),
		nil, nil, nil, analysis.Options{})

	res, err := New(collector, engine).Run(context.Background(), ingest.Request{
		Regions: []string{"ERCO"},
		Sources: []model.Source{model.SourceDemand},
		Planner: ingest.Fixed(ingest.Range{Start: day0, End: day0}),
	}, analysis.AllTime)
	require.NoError(t, err)
	assert.Nil(t, res.Analysis)
	assert.True(t, res.Failed())
}

func TestPipeline_FetchRequestError(t *testing.T) {
	st := newStore(t)
	collector := ingest.NewCollector(st, nil)
	engine := analysis.NewEngine(st, region.Default(), artifact.NewWriter(&artifact.FileSink{Dir: t.TempDir()}),
		nil, nil, nil, analysis.Options{})

	_, err := New(collector, engine).Run(context.Background(), ingest.Request{Regions: []string{"ERCO"}}, analysis.AllTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: fetch")
}
