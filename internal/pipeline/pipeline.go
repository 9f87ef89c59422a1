// Package pipeline runs a fetch followed by an analysis over the same
// regions.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridclimate/internal/analysis"
	"github.com/sells-group/gridclimate/internal/ingest"
	"github.com/sells-group/gridclimate/internal/model"
)

// Pipeline chains the ingest collector and the analysis engine.
type Pipeline struct {
	collector *ingest.Collector
	engine    *analysis.Engine
}

// New creates a Pipeline.
func New(collector *ingest.Collector, engine *analysis.Engine) *Pipeline {
	return &Pipeline{collector: collector, engine: engine}
}

// Result holds both halves of a run. Analysis is nil when no region was
// eligible for analysis.
type Result struct {
	Fetch    *ingest.Report
	Analysis *analysis.Report
}

// Failed reports whether any region failed in either phase.
func (r *Result) Failed() bool {
	if r.Fetch != nil && r.Fetch.Failed() {
		return true
	}
	return r.Analysis != nil && r.Analysis.Failed()
}

// Run fetches req and then analyzes period for every region whose fetch did
// not fail. A failed region keeps its previous artifact.
func (p *Pipeline) Run(ctx context.Context, req ingest.Request, period analysis.Period) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	fetch, err := p.collector.Run(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch")
	}
	res := &Result{Fetch: fetch}

	var eligible []string
	for _, r := range fetch.Regions {
		switch r.Status {
		case model.StatusOK, model.StatusSkipped:
			eligible = append(eligible, r.Region)
		default:
			log.Warn("not analyzing region, artifact kept",
				zap.String("region", r.Region),
				zap.String("status", string(r.Status)),
				zap.String("reason", r.Reason()),
			)
		}
	}
	if len(eligible) == 0 {
		return res, nil
	}

	res.Analysis, err = p.engine.Run(ctx, eligible, period)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: analyze")
	}
	return res, nil
}
