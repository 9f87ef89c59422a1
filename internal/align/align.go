// Package align pairs demand and climate readings hour by hour.
package align

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/gridclimate/internal/model"
)

// Sample is the set of hours at which both demand and one climate variable
// have a finite reading. Slices are parallel and ordered by time.
type Sample struct {
	Variable model.Variable
	Times    []time.Time
	Demand   []float64
	Climate  []float64
}

// Len returns the number of paired hours.
func (s *Sample) Len() int { return len(s.Times) }

// Align pairs demand with climate variable v. An hour is included only when
// both series have an observation there and both values are present and
// finite. Hours are visited in ascending order so downstream sums are
// deterministic.
func Align(demand, climate *model.Series, v model.Variable) *Sample {
	out := &Sample{Variable: v}
	if demand.Len() == 0 || climate.Len() == 0 {
		return out
	}

	climateIdx := climate.Index()
	for _, d := range demand.Observations {
		dv, ok := d.Value(model.DemandVariable)
		if !ok {
			continue
		}
		c, ok := climateIdx[d.Time.Unix()]
		if !ok {
			continue
		}
		cv, ok := c.Value(v.Name)
		if !ok {
			continue
		}
		out.Times = append(out.Times, d.Time)
		out.Demand = append(out.Demand, dv)
		out.Climate = append(out.Climate, cv)
	}
	return out
}

// TrimOutliers drops pairs whose demand or climate value falls outside the
// [p, 100-p] percentile range of its own column. p <= 0 returns s unchanged.
func TrimOutliers(s *Sample, p float64) *Sample {
	if p <= 0 || s.Len() == 0 {
		return s
	}
	dLo, dHi := percentile(s.Demand, p), percentile(s.Demand, 100-p)
	cLo, cHi := percentile(s.Climate, p), percentile(s.Climate, 100-p)

	out := &Sample{Variable: s.Variable}
	for i := range s.Times {
		d, c := s.Demand[i], s.Climate[i]
		if d < dLo || d > dHi || c < cLo || c > cHi {
			continue
		}
		out.Times = append(out.Times, s.Times[i])
		out.Demand = append(out.Demand, d)
		out.Climate = append(out.Climate, c)
	}
	return out
}

// percentile uses linear interpolation between closest ranks.
func percentile(xs []float64, p float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
