// Package monitoring exposes run metrics and sync-health alerts.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/resilience"
)

const namespace = "gridclimate"

// Metrics holds the Prometheus collectors for fetch and analyze runs. Each
// instance owns its registry so a batch command can dump it as a textfile
// for the node-exporter textfile collector.
type Metrics struct {
	registry *prometheus.Registry

	FetchResults  *prometheus.CounterVec   // labels: source, outcome={ok,not_found,transient,...}
	FetchDuration *prometheus.HistogramVec // labels: source
	HTTPRetries   *prometheus.CounterVec   // labels: provider
	RowsMerged    *prometheus.CounterVec   // labels: source
	RegionResults *prometheus.CounterVec   // labels: command, status={ok,skipped,failed,cancelled}
	Correlations  *prometheus.CounterVec   // labels: variable, strength
	BreakerState  *prometheus.GaugeVec     // labels: provider; 0 closed, 1 open, 2 half-open
	LastRun       *prometheus.GaugeVec     // labels: command
	RunDuration   *prometheus.GaugeVec     // labels: command
}

// NewMetrics creates Metrics registered on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_results_total",
			Help:      "Region fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of one region fetch for one source, including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"source"}),
		HTTPRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_retries_total",
			Help:      "Provider request retries after transient or rate-limited failures.",
		}, []string{"provider"}),
		RowsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_merged_total",
			Help:      "Hourly observations merged into the raw store.",
		}, []string{"source"}),
		RegionResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "region_results_total",
			Help:      "Per-region outcomes by command.",
		}, []string{"command", "status"}),
		Correlations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlations_total",
			Help:      "Correlation results by variable and strength band.",
		}, []string{"variable", "strength"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Provider circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"provider"}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the command last finished.",
		}, []string{"command"}),
		RunDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run of the command.",
		}, []string{"command"}),
	}

	m.registry.MustRegister(
		m.FetchResults,
		m.FetchDuration,
		m.HTTPRetries,
		m.RowsMerged,
		m.RegionResults,
		m.Correlations,
		m.BreakerState,
		m.LastRun,
		m.RunDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRun records the finish time and wall time of a command.
func (m *Metrics) ObserveRun(command string, started, finished time.Time) {
	m.LastRun.WithLabelValues(command).Set(float64(finished.Unix()))
	m.RunDuration.WithLabelValues(command).Set(finished.Sub(started).Seconds())
}

// ObserveBreakers sets the breaker gauge from a snapshot, one series per
// guarded host.
func (m *Metrics) ObserveBreakers(states map[string]resilience.State) {
	for name, st := range states {
		m.BreakerState.WithLabelValues(name).Set(float64(st))
	}
}

// WriteTextfile writes the current values in Prometheus text format. The
// file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "monitoring: write textfile %s", path)
	}
	return nil
}
