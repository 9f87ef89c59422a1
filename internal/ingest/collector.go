package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/gridclimate/internal/fetcher"
	"github.com/sells-group/gridclimate/internal/lock"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/monitoring"
	"github.com/sells-group/gridclimate/internal/store"
)

// Store is the part of the raw store the collector writes to.
type Store interface {
	Merge(ctx context.Context, s *model.Series) (*model.Series, error)
	StartSync(ctx context.Context, region string, source model.Source, start, end time.Time) (string, error)
	CompleteSync(ctx context.Context, id string, rows int64) error
	FailSync(ctx context.Context, id, kind, msg string) error
}

var _ Store = (store.Store)(nil)

// DefaultConcurrency bounds how many regions are fetched at once.
const DefaultConcurrency = 4

// Collector fetches every requested source for each region and merges the
// results. One region's failure never stops the others.
type Collector struct {
	fetchers    map[model.Source]SeriesFetcher
	store       Store
	locker      lock.Locker
	metrics     *monitoring.Metrics
	clock       clockwork.Clock
	concurrency int
}

// Option configures a Collector.
type Option func(*Collector)

// WithConcurrency sets how many regions run at once.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLocker sets the region locker. Defaults to an in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(c *Collector) { c.locker = l }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithClock sets the clock used for timing.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// NewCollector creates a Collector over the given fetchers.
func NewCollector(st Store, fetchers []SeriesFetcher, opts ...Option) *Collector {
	c := &Collector{
		fetchers:    make(map[model.Source]SeriesFetcher, len(fetchers)),
		store:       st,
		concurrency: DefaultConcurrency,
	}
	for _, f := range fetchers {
		c.fetchers[f.Source()] = f
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.locker == nil {
		c.locker = lock.NewLocal()
	}
	if c.metrics == nil {
		c.metrics = monitoring.NewMetrics()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

// Request selects what to fetch.
type Request struct {
	Regions []string
	Sources []model.Source // empty means every source
	Planner Planner
}

// SourceResult is the outcome of one source for one region.
type SourceResult struct {
	Source model.Source
	Range  Range
	Status model.Status
	Kind   string // fetch error kind, when the status is not ok
	Err    error
	Rows   int
}

// RegionResult is the outcome of one region.
type RegionResult struct {
	Region  string
	Status  model.Status
	Sources []SourceResult
}

// Reason summarizes why the region did not end ok.
func (r RegionResult) Reason() string {
	for _, s := range r.Sources {
		if s.Status == r.Status && s.Err != nil {
			return string(s.Source) + ": " + s.Err.Error()
		}
	}
	return ""
}

// Report is the outcome of one fetch run, in request order.
type Report struct {
	Regions  []RegionResult
	Started  time.Time
	Finished time.Time
}

// Failed reports whether any region failed fatally.
func (r *Report) Failed() bool {
	for _, reg := range r.Regions {
		if reg.Status.Fatal() {
			return true
		}
	}
	return false
}

// Status returns the status of code, or "" if it was not part of the run.
func (r *Report) Status(code string) model.Status {
	for _, reg := range r.Regions {
		if reg.Region == code {
			return reg.Status
		}
	}
	return ""
}

// Counts tallies regions by status.
func (r *Report) Counts() map[model.Status]int {
	out := map[model.Status]int{}
	for _, reg := range r.Regions {
		out[reg.Status]++
	}
	return out
}

// Run fetches and merges every (region, source) pair in req.
func (c *Collector) Run(ctx context.Context, req Request) (*Report, error) {
	log := zap.L().With(zap.String("component", "ingest.collector"))

	sources := req.Sources
	if len(sources) == 0 {
		sources = model.Sources
	}
	for _, s := range sources {
		if _, ok := c.fetchers[s]; !ok {
			return nil, eris.Errorf("ingest: no fetcher for source %s", s)
		}
	}
	if req.Planner == nil {
		return nil, eris.New("ingest: request has no planner")
	}

	report := &Report{
		Regions: make([]RegionResult, len(req.Regions)),
		Started: c.clock.Now(),
	}

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, code := range req.Regions {
		g.Go(func() error {
			res := c.runRegion(ctx, code, sources, req.Planner)
			report.Regions[i] = res
			c.metrics.RegionResults.WithLabelValues("fetch", string(res.Status)).Inc()
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = c.clock.Now()
	counts := report.Counts()
	log.Info("fetch run complete",
		zap.Int("regions", len(req.Regions)),
		zap.Int("ok", counts[model.StatusOK]),
		zap.Int("skipped", counts[model.StatusSkipped]),
		zap.Int("failed", counts[model.StatusFailed]),
		zap.Int("cancelled", counts[model.StatusCancelled]),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return report, nil
}

func (c *Collector) runRegion(ctx context.Context, code string, sources []model.Source, planner Planner) RegionResult {
	log := zap.L().With(zap.String("component", "ingest.collector"), zap.String("region", code))
	out := RegionResult{Region: code, Status: model.StatusOK}

	if ctx.Err() != nil {
		out.Status = model.StatusCancelled
		return out
	}

	release, err := c.locker.Acquire(ctx, code)
	if err != nil {
		out.Status = statusOf(ctx, err)
		out.Sources = []SourceResult{{Status: out.Status, Err: err}}
		return out
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release region lock", zap.Error(err))
		}
	}()

	type fetched struct {
		series  *model.Series
		syncID  string
		elapsed time.Duration
	}
	results := make([]SourceResult, len(sources))
	series := make([]fetched, len(sources))

	// Sources are fetched concurrently; both finish before anything is merged.
	var wg sync.WaitGroup
	for i, src := range sources {
		results[i] = SourceResult{Source: src}
		rng, err := planner.Plan(ctx, code, src)
		if err != nil {
			results[i].Status = statusOf(ctx, err)
			results[i].Err = err
			continue
		}
		results[i].Range = rng

		syncID, err := c.store.StartSync(ctx, code, src, rng.Start, rng.End)
		if err != nil {
			results[i].Status = statusOf(ctx, err)
			results[i].Err = eris.Wrap(err, "ingest: start sync")
			continue
		}
		series[i].syncID = syncID

		wg.Add(1)
		go func() {
			defer wg.Done()
			started := c.clock.Now()
			s, err := c.fetchers[src].Fetch(ctx, code, rng.Start, rng.End)
			series[i].elapsed = c.clock.Since(started)
			series[i].series = s
			if err != nil {
				results[i].Err = err
			}
		}()
	}
	wg.Wait()

	for i := range results {
		r := &results[i]
		f := series[i]
		if f.syncID == "" {
			out.Status = out.Status.Worse(r.Status)
			continue
		}
		srcLog := log.With(zap.String("source", string(r.Source)), zap.Stringer("range", r.Range))
		c.metrics.FetchDuration.WithLabelValues(string(r.Source)).Observe(f.elapsed.Seconds())

		if r.Err == nil {
			if _, err := c.store.Merge(ctx, f.series); err != nil {
				r.Err = eris.Wrap(err, "ingest: merge")
			} else {
				r.Rows = f.series.Len()
			}
		}

		if r.Err != nil {
			r.Status = statusOf(ctx, r.Err)
			r.Kind = kindLabel(r.Err)
			c.metrics.FetchResults.WithLabelValues(string(r.Source), r.Kind).Inc()
			if err := c.store.FailSync(context.WithoutCancel(ctx), f.syncID, r.Kind, r.Err.Error()); err != nil {
				srcLog.Error("record sync failure", zap.Error(err))
			}
			if r.Status == model.StatusSkipped {
				srcLog.Warn("source skipped, stored data kept", zap.String("kind", r.Kind), zap.Error(r.Err))
			} else {
				srcLog.Error("source failed", zap.String("kind", r.Kind), zap.Error(r.Err))
			}
		} else {
			r.Status = model.StatusOK
			c.metrics.FetchResults.WithLabelValues(string(r.Source), "ok").Inc()
			c.metrics.RowsMerged.WithLabelValues(string(r.Source)).Add(float64(r.Rows))
			if err := c.store.CompleteSync(ctx, f.syncID, int64(r.Rows)); err != nil {
				srcLog.Error("record sync completion", zap.Error(err))
			}
			srcLog.Info("source merged", zap.Int("rows", r.Rows), zap.Duration("elapsed", f.elapsed))
		}
		out.Status = out.Status.Worse(r.Status)
	}
	out.Sources = results
	return out
}

// statusOf maps an error to a region status. Provider answers that another
// attempt cannot change are skips; exhausted retries and store failures are
// failures.
func statusOf(ctx context.Context, err error) model.Status {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return model.StatusCancelled
	}
	for _, k := range skipKinds {
		if fetcher.IsKind(err, k) {
			return model.StatusSkipped
		}
	}
	return model.StatusFailed
}

// skipKinds are provider answers that another attempt cannot change.
var skipKinds = []fetcher.Kind{fetcher.KindNotFound, fetcher.KindMalformedResponse, fetcher.KindUnauthorized}

func kindLabel(err error) string {
	if kind, ok := fetcher.KindOf(err); ok {
		return kind.String()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	if eris.Is(err, model.ErrMergeConflict) {
		return "merge_conflict"
	}
	return "error"
}
