package model

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// ErrMergeConflict is returned when two series cannot be reconciled, either
// because they belong to different (region, source) keys or because stored
// history could not be decoded.
var ErrMergeConflict = errors.New("model: merge conflict")

// Source identifies which provider a series came from.
type Source string

// Source values.
const (
	SourceDemand  Source = "demand"
	SourceClimate Source = "climate"
)

// Sources lists every source in fetch order.
var Sources = []Source{SourceDemand, SourceClimate}

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceDemand, SourceClimate:
		return Source(s), nil
	default:
		return "", eris.Errorf("model: unknown source %q", s)
	}
}

// Observation is one hour of readings. A nil value means the provider had no
// reading for that variable in that hour.
type Observation struct {
	Time   time.Time
	Values map[string]*float64
}

// Value returns the named reading if it is present and finite.
func (o Observation) Value(name string) (float64, bool) {
	p, ok := o.Values[name]
	if !ok || p == nil {
		return 0, false
	}
	v := *p
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Series is the hourly history of one region from one source, ordered by
// time with at most one observation per hour.
type Series struct {
	Region       string
	Source       Source
	Observations []Observation
}

// Hour normalizes t to the UTC hour that contains it.
func Hour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// NewSeries builds a series from observations in any order. Timestamps are
// normalized to UTC hours; when an hour appears more than once the later
// observation in the input wins.
func NewSeries(region string, source Source, obs []Observation) *Series {
	byHour := make(map[int64]Observation, len(obs))
	for _, o := range obs {
		o.Time = Hour(o.Time)
		byHour[o.Time.Unix()] = o
	}
	return fromMap(region, source, byHour)
}

func fromMap(region string, source Source, byHour map[int64]Observation) *Series {
	keys := make([]int64, 0, len(byHour))
	for k := range byHour {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Observation, 0, len(keys))
	for _, k := range keys {
		out = append(out, byHour[k])
	}
	return &Series{Region: region, Source: source, Observations: out}
}

// Len returns the number of hours in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Observations)
}

// Start returns the first hour, or the zero time for an empty series.
func (s *Series) Start() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.Observations[0].Time
}

// End returns the last hour, or the zero time for an empty series.
func (s *Series) End() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.Observations[len(s.Observations)-1].Time
}

// Index maps each hour (unix seconds) to its observation.
func (s *Series) Index() map[int64]Observation {
	idx := make(map[int64]Observation, s.Len())
	if s == nil {
		return idx
	}
	for _, o := range s.Observations {
		idx[o.Time.Unix()] = o
	}
	return idx
}

// Between returns the observations with from <= t <= to. Zero bounds are open.
func (s *Series) Between(from, to time.Time) *Series {
	out := &Series{Region: s.Region, Source: s.Source}
	for _, o := range s.Observations {
		if !from.IsZero() && o.Time.Before(from) {
			continue
		}
		if !to.IsZero() && o.Time.After(to) {
			continue
		}
		out.Observations = append(out.Observations, o)
	}
	return out
}

// Filter returns the observations for which keep returns true.
func (s *Series) Filter(keep func(Observation) bool) *Series {
	out := &Series{Region: s.Region, Source: s.Source}
	for _, o := range s.Observations {
		if keep(o) {
			out.Observations = append(out.Observations, o)
		}
	}
	return out
}

// Merge folds incoming into existing. For every hour present in incoming the
// stored observation is replaced wholesale; other hours are kept. Merging the
// same incoming series twice yields the same result as merging it once.
// Either argument may be nil.
func Merge(existing, incoming *Series) (*Series, error) {
	switch {
	case existing == nil && incoming == nil:
		return nil, eris.New("model: merge of two nil series")
	case existing == nil:
		return NewSeries(incoming.Region, incoming.Source, incoming.Observations), nil
	case incoming == nil:
		return NewSeries(existing.Region, existing.Source, existing.Observations), nil
	}

	if existing.Region != incoming.Region || existing.Source != incoming.Source {
		return nil, eris.Wrapf(ErrMergeConflict, "cannot merge %s/%s into %s/%s",
			incoming.Region, incoming.Source, existing.Region, existing.Source)
	}

	byHour := existing.Index()
	for _, o := range incoming.Observations {
		o.Time = Hour(o.Time)
		byHour[o.Time.Unix()] = o
	}
	return fromMap(existing.Region, existing.Source, byHour), nil
}
