package ingest

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/store"
)

// Range is a span of whole UTC days, both ends inclusive.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange normalizes start and end to UTC days and checks their order.
func NewRange(start, end time.Time) (Range, error) {
	r := Range{Start: day(start), End: day(end)}
	if r.End.Before(r.Start) {
		return Range{}, eris.Errorf("ingest: start %s after end %s",
			r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
	}
	return r, nil
}

// Days returns the number of days covered.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r Range) String() string {
	return r.Start.Format(time.DateOnly) + ".." + r.End.Format(time.DateOnly)
}

// ParseMonth parses YYYY-MM into the range covering that month.
func ParseMonth(s string) (Range, error) {
	t, err := time.ParseInLocation("2006-01", s, time.UTC)
	if err != nil {
		return Range{}, eris.Wrapf(err, "ingest: invalid month %q", s)
	}
	return Range{Start: t, End: t.AddDate(0, 1, -1)}, nil
}

// ParseDay parses YYYY-MM-DD as a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "ingest: invalid date %q", s)
	}
	return t, nil
}

// CurrentMonth covers the first of the current month through today.
func CurrentMonth(clock clockwork.Clock) Range {
	today := day(clock.Now())
	return Range{Start: today.AddDate(0, 0, 1-today.Day()), End: today}
}

// Since covers 1 January of year through today.
func Since(year int, clock clockwork.Clock) (Range, error) {
	return NewRange(time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC), clock.Now())
}

// Planner decides which days to fetch for a region and source.
type Planner interface {
	Plan(ctx context.Context, code string, source model.Source) (Range, error)
}

// Fixed plans the same range for every region and source.
type Fixed Range

func (f Fixed) Plan(context.Context, string, model.Source) (Range, error) {
	return Range(f), nil
}

// CoverageReader reports what the raw store already holds.
type CoverageReader interface {
	Coverage(ctx context.Context, region string, source model.Source) (store.Coverage, error)
}

// Incremental plans from the last stored day through today, or from
// 1 January of StartYear when nothing is stored. The last stored day is
// fetched again so a partially filled day is completed.
type Incremental struct {
	Coverage  CoverageReader
	Clock     clockwork.Clock
	StartYear int
}

func (p Incremental) Plan(ctx context.Context, code string, source model.Source) (Range, error) {
	cov, err := p.Coverage.Coverage(ctx, code, source)
	if err != nil {
		return Range{}, eris.Wrapf(err, "ingest: coverage %s/%s", code, source)
	}
	if cov.Empty() {
		return Since(p.StartYear, p.Clock)
	}
	start := day(cov.Last)
	today := day(p.Clock.Now())
	if start.After(today) {
		start = today
	}
	return NewRange(start, today)
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
