package main

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/gridclimate/internal/analysis"
	"github.com/sells-group/gridclimate/internal/artifact"
	"github.com/sells-group/gridclimate/internal/config"
	"github.com/sells-group/gridclimate/internal/fetcher"
	"github.com/sells-group/gridclimate/internal/ingest"
	"github.com/sells-group/gridclimate/internal/lock"
	"github.com/sells-group/gridclimate/internal/monitoring"
	"github.com/sells-group/gridclimate/internal/notify"
	"github.com/sells-group/gridclimate/internal/region"
	"github.com/sells-group/gridclimate/internal/resilience"
	"github.com/sells-group/gridclimate/internal/store"
	"github.com/sells-group/gridclimate/pkg/eia"
	"github.com/sells-group/gridclimate/pkg/openmeteo"
)

// env holds the shared dependencies of one command invocation.
type env struct {
	cfg       *config.Config
	store     store.Store
	regions   *region.Registry
	metrics   *monitoring.Metrics
	locker    lock.Locker
	publisher notify.Publisher
	breakers  *resilience.Breakers // set once collector is built
	started   time.Time
}

// openEnv opens the store (migrating it) and the optional collaborators.
func openEnv(ctx context.Context, c *config.Config) (*env, error) {
	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	locker, err := lock.Open(c.Lock)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	return &env{
		cfg:       c,
		store:     st,
		regions:   region.Default(),
		metrics:   monitoring.NewMetrics(),
		locker:    locker,
		publisher: notify.Open(c.Notify),
		started:   time.Now(),
	}, nil
}

// Close releases everything openEnv opened.
func (e *env) Close() {
	log := zap.L()
	if err := e.publisher.Close(); err != nil {
		log.Warn("close publisher", zap.Error(err))
	}
	if err := e.locker.Close(); err != nil {
		log.Warn("close locker", zap.Error(err))
	}
	if err := e.store.Close(); err != nil {
		log.Warn("close store", zap.Error(err))
	}
}

// finish records run metrics and writes the textfile when configured.
func (e *env) finish(command string) {
	e.metrics.ObserveRun(command, e.started, time.Now())
	if e.breakers != nil {
		e.metrics.ObserveBreakers(e.breakers.States())
	}
	if err := e.metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
		zap.L().Warn("write metrics textfile", zap.Error(err))
	}
}

// checkHealth evaluates recent sync history and sends alerts when a webhook
// is configured.
func (e *env) checkHealth(ctx context.Context) []monitoring.Alert {
	collector := monitoring.NewCollector(e.store, nil)
	alerter := monitoring.NewAlerter(e.cfg.Monitoring)
	return monitoring.Check(ctx, collector, alerter, e.cfg.Monitoring.LookbackHours)
}

// providerFetcher builds the HTTP transport for one provider: shared
// breakers, per-host limiters and retry counters labelled by provider.
func (e *env) providerFetcher(provider string, perSecond float64, breakers *resilience.Breakers, hosts ...string) fetcher.Fetcher {
	retry, _ := resilience.FromFetchConfig(e.cfg.Fetch)
	logRetry := resilience.RetryLogger(provider, "download")
	retries := e.metrics.HTTPRetries.WithLabelValues(provider)
	retry.OnRetry = func(attempt int, err error) {
		retries.Inc()
		logRetry(attempt, err)
	}

	limiters := make(map[string]*fetcher.AdaptiveLimiter, len(hosts))
	if perSecond > 0 {
		for _, h := range hosts {
			if h != "" {
				limiters[h] = fetcher.NewAdaptiveLimiter(rate.Limit(perSecond), 1)
			}
		}
	}

	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:  time.Duration(e.cfg.Fetch.TimeoutSecs) * time.Second,
		Retry:    retry,
		Limiters: limiters,
		Breakers: breakers,
	})
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// collector wires both providers into an ingest collector.
func (e *env) collector() *ingest.Collector {
	_, breakerCfg := resilience.FromFetchConfig(e.cfg.Fetch)
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		e.metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		zap.L().Warn("circuit breaker state change",
			zap.String("host", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	breakers := resilience.NewBreakers(breakerCfg)
	e.breakers = breakers

	eiaClient := eia.NewClient(e.cfg.EIA.APIKey,
		eia.WithBaseURL(e.cfg.EIA.BaseURL),
		eia.WithPageSize(e.cfg.EIA.PageSize),
		eia.WithFetcher(e.providerFetcher(eia.Provider, e.cfg.EIA.RateLimit, breakers, hostOf(e.cfg.EIA.BaseURL))),
	)
	omClient := openmeteo.NewClient(
		openmeteo.WithArchiveURL(e.cfg.OpenMeteo.ArchiveURL),
		openmeteo.WithForecastURL(e.cfg.OpenMeteo.ForecastURL),
		openmeteo.WithForecastDays(e.cfg.OpenMeteo.ForecastDays),
		openmeteo.WithChunkDays(e.cfg.OpenMeteo.ChunkDays),
		openmeteo.WithFetcher(e.providerFetcher(openmeteo.Provider, e.cfg.OpenMeteo.RateLimit, breakers,
			hostOf(e.cfg.OpenMeteo.ArchiveURL), hostOf(e.cfg.OpenMeteo.ForecastURL))),
	)

	return ingest.NewCollector(e.store,
		[]ingest.SeriesFetcher{
			ingest.NewDemandFetcher(eiaClient, e.regions),
			ingest.NewClimateFetcher(omClient, e.regions),
		},
		ingest.WithConcurrency(e.cfg.Fetch.MaxConcurrentRegions),
		ingest.WithLocker(e.locker),
		ingest.WithMetrics(e.metrics),
	)
}

// engine wires the analysis engine to the configured artifact sink.
func (e *env) engine() (*analysis.Engine, error) {
	sink, err := artifact.OpenSink(e.cfg.Artifact)
	if err != nil {
		return nil, err
	}
	return analysis.NewEngine(e.store, e.regions, artifact.NewWriter(sink), e.publisher, e.metrics, nil,
		analysis.Options{
			Concurrency:       e.cfg.Analysis.MaxConcurrentRegions,
			MinSamples:        e.cfg.Analysis.MinSamples,
			OutlierPercentile: e.cfg.Analysis.OutlierPercentile,
			StatsName:         e.cfg.Artifact.StatsName,
		}), nil
}
