package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gridclimate/internal/artifact"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/monitoring"
	"github.com/sells-group/gridclimate/internal/notify"
	"github.com/sells-group/gridclimate/internal/region"
	"github.com/sells-group/gridclimate/internal/store"
)

var (
	y2023 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	now   = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seed stores n hours from start. climate returns the readings for hour i.
func seed(t *testing.T, st store.Store, code string, start time.Time, n int,
	demand func(i int) float64, climate func(i int) map[string]*float64) {
	t.Helper()
	d := make([]model.Observation, n)
	c := make([]model.Observation, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		v := demand(i)
		d[i] = model.Observation{Time: ts, Values: map[string]*float64{model.DemandVariable: &v}}
		c[i] = model.Observation{Time: ts, Values: climate(i)}
	}
	ctx := context.Background()
	_, err := st.Merge(ctx, model.NewSeries(code, model.SourceDemand, d))
	require.NoError(t, err)
	_, err = st.Merge(ctx, model.NewSeries(code, model.SourceClimate, c))
	require.NoError(t, err)
}

func linear(i int) float64 { return 30000 + float64(i) }

func warming(i int) map[string]*float64 {
	temp := -5 + 0.01*float64(i)
	hum := 50.0
	return map[string]*float64{"temperature": &temp, "humidity": &hum}
}

type harness struct {
	store   *store.SQLiteStore
	dir     string
	metrics *monitoring.Metrics
	pub     *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	return &harness{
		store:   newTestStore(t),
		dir:     t.TempDir(),
		metrics: monitoring.NewMetrics(),
		pub:     &recordingPublisher{},
	}
}

func (h *harness) engine(sink artifact.Sink) *Engine {
	if sink == nil {
		sink = &artifact.FileSink{Dir: h.dir}
	}
	return NewEngine(h.store, region.Default(), artifact.NewWriter(sink), h.pub, h.metrics,
		clockwork.NewFakeClockAt(now), Options{Concurrency: 2})
}

func (h *harness) read(t *testing.T, code string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(h.dir, code+".json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.ArtifactEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...notify.ArtifactEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestEngine_LinearYearIsPerfectlyCorrelated(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, "ERCO", y2023, 8760, linear, warming)

	report, err := h.engine(nil).Run(context.Background(), []string{"ERCO"}, AllTime)
	require.NoError(t, err)
	require.Len(t, report.Regions, 1)
	assert.Equal(t, model.StatusOK, report.Status("ERCO"))
	assert.False(t, report.Failed())

	doc := h.read(t, "ERCO")
	assert.Equal(t, "ERCO", doc["region"])
	assert.Equal(t, "all", doc["period"])
	assert.Equal(t, "2024-03-01T06:00:00Z", doc["last_updated"])
	assert.Equal(t, 8760.0, doc["energy_stats"].(map[string]any)["count"])

	temp := doc["correlations"].(map[string]any)["temperature"].(map[string]any)
	assert.Equal(t, 1.0, temp["r"])
	assert.Equal(t, 1.0, temp["r2"])
	assert.Equal(t, "strong", temp["strength"])
	assert.Equal(t, "positive", temp["direction"])
	assert.Equal(t, 8760.0, temp["n"])

	assert.Equal(t, 1.0, doc["r"])
	assert.Equal(t, 8760.0, doc["n_observations"])

	hum := doc["correlations"].(map[string]any)["humidity"].(map[string]any)
	assert.Equal(t, true, hum["insufficient_data"])
	assert.Equal(t, "no variation in demand or humidity", hum["reason"])

	wind := doc["correlations"].(map[string]any)["wind_speed"].(map[string]any)
	assert.Equal(t, true, wind["insufficient_data"])
	assert.Equal(t, 0.0, wind["n"])
}

func TestEngine_SingleHourIsInsufficient(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, "PJM", y2023, 1, linear, warming)

	report, err := h.engine(nil).Run(context.Background(), []string{"PJM"}, AllTime)
	require.NoError(t, err)
	res := report.Regions[0]
	assert.Equal(t, model.StatusOK, res.Status)
	assert.Len(t, res.Insufficient, len(model.ClimateVariables()))

	doc := h.read(t, "PJM")
	temp := doc["correlations"].(map[string]any)["temperature"].(map[string]any)
	assert.Equal(t, true, temp["insufficient_data"])
	assert.Equal(t, 1.0, temp["n"])
	assert.Equal(t, "1 aligned hours, need 2", temp["reason"])
	assert.NotContains(t, doc, "r")
}

func TestEngine_NoHistorySkipsAndKeepsArtifact(t *testing.T) {
	h := newHarness(t)
	prev := filepath.Join(h.dir, "MISO.json")
	require.NoError(t, os.WriteFile(prev, []byte(`{"region":"MISO"}`), 0o644))

	report, err := h.engine(nil).Run(context.Background(), []string{"MISO"}, AllTime)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, report.Status("MISO"))
	assert.Contains(t, report.Regions[0].Reason, "no stored history")
	assert.False(t, report.Failed())
	assert.Empty(t, report.StatsLocation, "nothing written, no stats table")

	b, err := os.ReadFile(prev)
	require.NoError(t, err)
	assert.Equal(t, `{"region":"MISO"}`, string(b))
}

func TestEngine_CalendarMonthAcrossYears(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, "CISO", y2023, 24*40, linear, warming)                    // Jan + part of Feb 2023
	seed(t, h.store, "CISO", y2023.AddDate(1, 0, 0), 24*31, linear, warming) // Jan 2024

	period, err := ParsePeriod("01")
	require.NoError(t, err)
	_, err = h.engine(nil).Run(context.Background(), []string{"CISO"}, period)
	require.NoError(t, err)

	doc := h.read(t, "CISO")
	assert.Equal(t, "01", doc["period"])
	temp := doc["correlations"].(map[string]any)["temperature"].(map[string]any)
	assert.Equal(t, float64(2*24*31), temp["n"])
}

func TestEngine_SingleMonthBounds(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, "NYIS", y2023, 24*59, linear, warming)

	period, err := ParsePeriod("2023-02")
	require.NoError(t, err)
	_, err = h.engine(nil).Run(context.Background(), []string{"NYIS"}, period)
	require.NoError(t, err)

	temp := h.read(t, "NYIS")["correlations"].(map[string]any)["temperature"].(map[string]any)
	assert.Equal(t, float64(24*28), temp["n"])
}

// flakySink fails writes for one region and delegates the rest.
type flakySink struct {
	next artifact.Sink
	bad  string
}

func (s flakySink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if strings.HasPrefix(name, s.bad) {
		return "", errors.New("bucket unavailable")
	}
	return s.next.Put(ctx, name, data)
}

func TestEngine_WriteFailureIsRegionLocal(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, "ERCO", y2023, 48, linear, warming)
	seed(t, h.store, "PJM", y2023, 48, linear, warming)

	e := h.engine(flakySink{next: &artifact.FileSink{Dir: h.dir}, bad: "PJM"})
	report, err := e.Run(context.Background(), []string{"ERCO", "PJM"}, AllTime)
	require.NoError(t, err)

	assert.Equal(t, model.StatusOK, report.Status("ERCO"))
	assert.Equal(t, model.StatusFailed, report.Status("PJM"))
	assert.True(t, report.Failed())

	var we *artifact.WriteError
	require.ErrorAs(t, report.Regions[1].Err, &we)
	assert.Equal(t, artifact.IOFailure, we.Kind)

	_, err = os.Stat(filepath.Join(h.dir, "PJM.json"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, filepath.Join(h.dir, artifact.DefaultStatsName), report.StatsLocation)
	csv, err := os.ReadFile(report.StatsLocation)
	require.NoError(t, err)
	assert.Contains(t, string(csv), "temperature,0,1,0,0")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RegionResults.WithLabelValues("analyze", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RegionResults.WithLabelValues("analyze", "ok")))
}

func TestEngine_NonFiniteDemandStatsFailRegion(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, "ERCO", y2023, 48, linear, warming)
	extreme := func(i int) float64 {
		if i%2 == 0 {
			return math.MaxFloat64
		}
		return -math.MaxFloat64
	}
	seed(t, h.store, "PJM", y2023, 2, extreme, warming)

	report, err := h.engine(nil).Run(context.Background(), []string{"ERCO", "PJM"}, AllTime)
	require.NoError(t, err)

	assert.Equal(t, model.StatusOK, report.Status("ERCO"))
	assert.Equal(t, model.StatusFailed, report.Status("PJM"))
	assert.Contains(t, report.Regions[1].Reason, "not finite")

	_, err = os.Stat(filepath.Join(h.dir, "PJM.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_PublishesEventsAndMetrics(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("broker down")
	seed(t, h.store, "ERCO", y2023, 48, linear, warming)
	seed(t, h.store, "CISO", y2023, 48, linear, warming)

	report, err := h.engine(nil).Run(context.Background(), []string{"ERCO", "CISO"}, AllTime)
	require.NoError(t, err)
	assert.False(t, report.Failed(), "publish errors are not fatal")

	require.Len(t, h.pub.events, 2)
	for _, ev := range h.pub.events {
		assert.Equal(t, "all", ev.Period)
		assert.Equal(t, now, ev.WrittenAt)
		assert.Equal(t, filepath.Join(h.dir, ev.Region+".json"), ev.Location)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Correlations.WithLabelValues("temperature", "strong")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Correlations.WithLabelValues("humidity", "insufficient")))
}

func TestEngine_UnknownRegion(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine(nil).Run(context.Background(), []string{"ZZZZ"}, AllTime)
	assert.ErrorIs(t, err, region.ErrUnknownRegion)
}

func TestEngine_Cancelled(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, "ERCO", y2023, 48, linear, warming)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.engine(nil).Run(ctx, []string{"ERCO"}, AllTime)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, report.Status("ERCO"))
	assert.True(t, report.Failed())
}

func TestEngine_OutlierTrimming(t *testing.T) {
	h := newHarness(t)
	seed(t, h.store, "ERCO", y2023, 200, linear, warming)

	e := NewEngine(h.store, region.Default(), artifact.NewWriter(&artifact.FileSink{Dir: h.dir}), nil, nil,
		clockwork.NewFakeClockAt(now), Options{OutlierPercentile: 5})
	_, err := e.Run(context.Background(), []string{"ERCO"}, AllTime)
	require.NoError(t, err)

	temp := h.read(t, "ERCO")["correlations"].(map[string]any)["temperature"].(map[string]any)
	n := temp["n"].(float64)
	assert.Less(t, n, 200.0)
	assert.Equal(t, 1.0, temp["r"])
}
