package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/gridclimate/internal/analysis"
	"github.com/sells-group/gridclimate/internal/fetcher"
	"github.com/sells-group/gridclimate/internal/ingest"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/monitoring"
	"github.com/sells-group/gridclimate/internal/region"
	"github.com/sells-group/gridclimate/internal/store"
)

func TestFormatFetchReport(t *testing.T) {
	started := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	report := &ingest.Report{
		Started:  started,
		Finished: started.Add(95 * time.Second),
		Regions: []ingest.RegionResult{
			{Region: "ERCO", Status: model.StatusOK, Sources: []ingest.SourceResult{
				{Source: model.SourceDemand, Status: model.StatusOK, Rows: 720},
				{Source: model.SourceClimate, Status: model.StatusOK, Rows: 720},
			}},
			{Region: "PACW", Status: model.StatusFailed, Sources: []ingest.SourceResult{
				{Source: model.SourceDemand, Status: model.StatusOK, Rows: 720},
				{Source: model.SourceClimate, Status: model.StatusFailed, Kind: "rate_limited",
					Err: &fetcher.FetchError{Kind: fetcher.KindRateLimited, Provider: "open-meteo", StatusCode: 429}},
			}},
			{Region: "PJM", Status: model.StatusCancelled},
		},
	}

	var buf bytes.Buffer
	formatFetchReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "REGION")
	assert.Contains(t, out, "720 rows")
	assert.Contains(t, out, "climate: open-meteo: rate_limited (http 429)")
	assert.Contains(t, out, "Ok 1, Failed 1, Cancelled 1 in 1m35s")
}

func TestFormatAnalysisReport(t *testing.T) {
	report := &analysis.Report{
		Period: "07",
		Regions: []analysis.RegionResult{
			{Region: "ERCO", Status: model.StatusOK, Location: "data/clean_data/ERCO.json",
				Insufficient: []string{"precipitation", "wind_direction"}},
			{Region: "MISO", Status: model.StatusSkipped, Reason: "no stored history (demand 0 hours, climate 0 hours)"},
		},
		StatsLocation: "data/clean_data/correlation_stats.csv",
	}

	var buf bytes.Buffer
	formatAnalysisReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "data/clean_data/ERCO.json")
	assert.Contains(t, out, "precipitation,wind_direction")
	assert.Contains(t, out, "no stored history")
	assert.Contains(t, out, "Period 07: Ok 1, Skipped 1")
	assert.Contains(t, out, "Stats table: data/clean_data/correlation_stats.csv")

	report.StatsErr = errors.New("bucket gone")
	buf.Reset()
	formatAnalysisReport(&buf, report)
	assert.Contains(t, buf.String(), "Stats table failed: bucket gone")
}

func TestTally(t *testing.T) {
	assert.Equal(t, "no regions", tally(nil))
	assert.Equal(t, "Ok 2, Skipped 1", tally(map[model.Status]int{model.StatusOK: 2, model.StatusSkipped: 1}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestFormatSyncEntries(t *testing.T) {
	started := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)
	entries := []store.SyncEntry{
		{ID: "a", Region: "ERCO", Source: model.SourceDemand, RangeStart: started, RangeEnd: started,
			Status: store.SyncComplete, StartedAt: started, CompletedAt: &completed, RowsMerged: 744},
		{ID: "b", Region: "PACW", Source: model.SourceClimate, RangeStart: started, RangeEnd: started,
			Status: store.SyncFailed, StartedAt: started, ErrorKind: "rate_limited", Error: "http 429"},
	}

	var buf bytes.Buffer
	formatSyncEntries(&buf, entries)
	out := buf.String()
	assert.Contains(t, out, "2025-01-15..2025-01-15")
	assert.Contains(t, out, "2025-01-15 10:30")
	assert.Contains(t, out, "5m0s")
	assert.Contains(t, out, "744")
	assert.Contains(t, out, "rate_limited: http 429")
}

func TestFormatCoverage(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []coverageRow{
		{Region: "ERCO", Source: model.SourceDemand, Coverage: store.Coverage{First: first, Last: first.Add(47 * time.Hour), Count: 48}},
		{Region: "ERCO", Source: model.SourceClimate},
	}
	var buf bytes.Buffer
	formatCoverage(&buf, rows)
	out := buf.String()
	assert.Contains(t, out, "2024-01-02 23:00")
	assert.Contains(t, out, "48")
}

func TestFormatSnapshot(t *testing.T) {
	var buf bytes.Buffer
	formatSnapshot(&buf, &monitoring.SyncSnapshot{
		Total: 10, Complete: 8, Failed: 2, FailRate: 0.2, RowsMerged: 5000, LookbackHours: 24,
		FailedByKind: map[string]int{"transient": 1, "rate_limited": 1},
		FailingKeys:  []string{"PACW/climate"},
	})
	out := buf.String()
	assert.Contains(t, out, "Last 24h: 10 syncs, 8 complete, 2 failed")
	assert.Contains(t, out, "failure rate 20.0%")
	assert.Contains(t, out, "  rate_limited: 1\n  transient: 1")
	assert.Contains(t, out, "PACW/climate")
}

func TestFormatRegions(t *testing.T) {
	var buf bytes.Buffer
	formatRegions(&buf, region.Default().All())
	out := buf.String()
	assert.Contains(t, out, "INTERCONNECTION")
	assert.Contains(t, out, "PACW")
	assert.Contains(t, out, "ercot")
}

func TestSelectRegions(t *testing.T) {
	reg := region.Default()

	all, err := selectRegions(reg, "")
	require.NoError(t, err)
	assert.Len(t, all, reg.Len())

	ercot, err := selectRegions(reg, " ERCOT ")
	require.NoError(t, err)
	require.NotEmpty(t, ercot)
	for _, r := range ercot {
		assert.Equal(t, region.ERCOT, r.Interconnection)
	}

	west, err := selectRegions(reg, "western")
	require.NoError(t, err)
	assert.Equal(t, reg.ByInterconnection(region.Western), west)

	_, err = selectRegions(reg, "quebec")
	assert.ErrorContains(t, err, `unknown interconnection "quebec"`)
}

func TestNormalizeCodes(t *testing.T) {
	assert.Equal(t, []string{"ERCO", "PJM"}, normalizeCodes([]string{" erco ", "", "pjm"}))
	assert.Equal(t, "", normalizeCode("  "))
	assert.Equal(t, "CISO", normalizeCode("ciso"))
}

func TestFormatDrift(t *testing.T) {
	var buf bytes.Buffer
	formatDrift(&buf, []region.Drift{
		{Code: "PJM", Table: geom.Coord{-78, 40}, Boundary: geom.Coord{-76, 40}, KM: 170.33},
	})
	out := buf.String()
	assert.Contains(t, out, "DRIFT_KM")
	assert.Contains(t, out, "40.00,-78.00")
	assert.Contains(t, out, "40.00,-76.00")
	assert.Contains(t, out, "170.3")
}
