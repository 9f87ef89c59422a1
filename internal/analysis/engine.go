// Package analysis turns stored demand and climate history into one
// correlation artifact per region.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/gridclimate/internal/align"
	"github.com/sells-group/gridclimate/internal/artifact"
	"github.com/sells-group/gridclimate/internal/correlate"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/monitoring"
	"github.com/sells-group/gridclimate/internal/notify"
	"github.com/sells-group/gridclimate/internal/region"
)

// Loader reads snapshots of the raw store.
type Loader interface {
	Load(ctx context.Context, region string, source model.Source, from, to time.Time) (*model.Series, error)
}

// Options tunes the engine.
type Options struct {
	Concurrency       int
	MinSamples        int
	OutlierPercentile float64
	StatsName         string
}

// Engine runs the load, align, correlate and write steps for each region.
type Engine struct {
	store     Loader
	regions   *region.Registry
	writer    *artifact.Writer
	publisher notify.Publisher
	metrics   *monitoring.Metrics
	clock     clockwork.Clock
	opts      Options
	variables []model.Variable
}

// NewEngine creates an Engine. publisher, metrics and clock may be nil.
func NewEngine(st Loader, regions *region.Registry, w *artifact.Writer, publisher notify.Publisher,
	metrics *monitoring.Metrics, clock clockwork.Clock, opts Options) *Engine {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MinSamples < correlate.MinSamples {
		opts.MinSamples = correlate.MinSamples
	}
	return &Engine{
		store:     st,
		regions:   regions,
		writer:    w,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		opts:      opts,
		variables: model.ClimateVariables(),
	}
}

// RegionResult is the outcome for one region.
type RegionResult struct {
	Region       string
	Status       model.Status
	Reason       string
	Location     string
	Insufficient []string // variables without a result
	Err          error
}

// Report is the outcome of one analysis run, in request order.
type Report struct {
	Period        string
	Regions       []RegionResult
	StatsLocation string
	StatsErr      error
	Started       time.Time
	Finished      time.Time
}

// Failed reports whether any region failed fatally or the stats table could
// not be written.
func (r *Report) Failed() bool {
	if r.StatsErr != nil {
		return true
	}
	for _, reg := range r.Regions {
		if reg.Status.Fatal() {
			return true
		}
	}
	return false
}

// Status returns the status of code, or "" if it was not analyzed.
func (r *Report) Status(code string) model.Status {
	for _, reg := range r.Regions {
		if reg.Region == code {
			return reg.Status
		}
	}
	return ""
}

// Run analyzes each region in codes for period. Failures are per region.
func (e *Engine) Run(ctx context.Context, codes []string, period Period) (*Report, error) {
	log := zap.L().With(zap.String("component", "analysis.engine"), zap.String("period", period.Label))

	regs, err := e.regions.Select(codes)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Period:  period.Label,
		Regions: make([]RegionResult, len(regs)),
		Started: e.clock.Now(),
	}
	stats := artifact.NewStatsTable(e.variables)

	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)
	for i, reg := range regs {
		g.Go(func() error {
			res := e.runRegion(ctx, reg, period, stats)
			report.Regions[i] = res
			e.metrics.RegionResults.WithLabelValues("analyze", string(res.Status)).Inc()
			return nil
		})
	}
	_ = g.Wait()

	written := 0
	for _, r := range report.Regions {
		if r.Status == model.StatusOK {
			written++
		}
	}
	if written > 0 && ctx.Err() == nil {
		loc, err := e.writer.WriteStats(ctx, e.opts.StatsName, stats)
		if err != nil {
			report.StatsErr = err
			log.Error("write stats table", zap.Error(err))
		} else {
			report.StatsLocation = loc
		}
	}

	report.Finished = e.clock.Now()
	log.Info("analysis run complete",
		zap.Int("regions", len(regs)),
		zap.Int("written", written),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return report, nil
}

func (e *Engine) runRegion(ctx context.Context, reg region.Region, period Period, stats *artifact.StatsTable) RegionResult {
	log := zap.L().With(zap.String("component", "analysis.engine"), zap.String("region", reg.Code))
	out := RegionResult{Region: reg.Code}

	fail := func(err error) RegionResult {
		out.Err = err
		out.Reason = err.Error()
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			out.Status = model.StatusCancelled
		} else {
			out.Status = model.StatusFailed
		}
		log.Error("region analysis failed", zap.Error(err))
		return out
	}

	if ctx.Err() != nil {
		out.Status = model.StatusCancelled
		return out
	}

	demand, err := e.store.Load(ctx, reg.Code, model.SourceDemand, period.From, period.To)
	if err != nil {
		return fail(eris.Wrap(err, "analysis: load demand"))
	}
	climate, err := e.store.Load(ctx, reg.Code, model.SourceClimate, period.From, period.To)
	if err != nil {
		return fail(eris.Wrap(err, "analysis: load climate"))
	}
	demand, climate = period.Apply(demand), period.Apply(climate)

	if demand.Len() == 0 || climate.Len() == 0 {
		out.Status = model.StatusSkipped
		out.Reason = fmt.Sprintf("no stored history (demand %d hours, climate %d hours)", demand.Len(), climate.Len())
		log.Warn("region skipped, artifact kept", zap.String("reason", out.Reason))
		return out
	}

	in := artifact.Input{
		Region:      reg,
		Period:      period.Label,
		Demand:      correlate.Summarize(demandValues(demand)),
		GeneratedAt: e.clock.Now(),
	}
	if !in.Demand.Finite() {
		return fail(eris.Errorf("analysis: demand statistics are not finite (mean %g, std %g)", in.Demand.Mean, in.Demand.Std))
	}
	for _, v := range e.variables {
		o := e.correlate(demand, climate, v)
		if o.Result == nil {
			out.Insufficient = append(out.Insufficient, v.Name)
		}
		in.Outcomes = append(in.Outcomes, o)
	}

	doc := artifact.Build(in)
	loc, err := e.writer.Write(ctx, doc)
	if err != nil {
		return fail(err)
	}
	stats.Add(doc)
	for _, o := range in.Outcomes {
		strength := "insufficient"
		if o.Result != nil {
			strength = string(o.Result.Strength)
		}
		e.metrics.Correlations.WithLabelValues(o.Variable.Name, strength).Inc()
	}

	event := notify.ArtifactEvent{Region: reg.Code, Period: period.Label, Location: loc, WrittenAt: in.GeneratedAt.UTC()}
	if err := e.publisher.Publish(ctx, event); err != nil {
		log.Warn("publish artifact event", zap.Error(err))
	}

	out.Status = model.StatusOK
	out.Location = loc
	log.Info("artifact written",
		zap.String("location", loc),
		zap.Int("demand_hours", demand.Len()),
		zap.Strings("insufficient", out.Insufficient),
	)
	return out
}

func (e *Engine) correlate(demand, climate *model.Series, v model.Variable) artifact.Outcome {
	sample := align.TrimOutliers(align.Align(demand, climate, v), e.opts.OutlierPercentile)
	o := artifact.Outcome{Variable: v, N: sample.Len()}

	res, err := correlate.Spearman(sample.Demand, sample.Climate, correlate.Options{MinSamples: e.opts.MinSamples})
	if err != nil {
		if sample.Len() < e.opts.MinSamples {
			o.Reason = fmt.Sprintf("%d aligned hours, need %d", sample.Len(), e.opts.MinSamples)
		} else {
			o.Reason = "no variation in demand or " + v.Name
		}
		return o
	}
	if !res.Climate.Finite() {
		o.Reason = v.Name + " statistics are not finite"
		return o
	}
	o.Result = res
	return o
}

func demandValues(s *model.Series) []float64 {
	out := make([]float64, 0, s.Len())
	for _, o := range s.Observations {
		if v, ok := o.Value(model.DemandVariable); ok {
			out = append(out, v)
		}
	}
	return out
}
