// Package correlate computes Spearman rank correlation between an aligned
// demand/climate sample and classifies the result.
package correlate

import (
	"errors"
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// ErrInsufficientData is returned when a sample cannot produce a meaningful
// coefficient: too few points or a constant series. It is an outcome, not a
// failure; other variables of the same region proceed.
var ErrInsufficientData = errors.New("correlate: insufficient data")

// MinSamples is the smallest sample size that can be correlated.
const MinSamples = 2

// Strength bands on |r|.
type Strength string

// Strength values.
const (
	Weak     Strength = "weak"
	Moderate Strength = "moderate"
	Strong   Strength = "strong"
)

// Band thresholds. Lower bounds are inclusive.
const (
	ModerateThreshold = 0.3
	StrongThreshold   = 0.5
)

// Direction is the sign of the coefficient.
type Direction string

// Direction values.
const (
	Positive Direction = "positive"
	Negative Direction = "negative"
)

// Classify returns the strength band for r.
func Classify(r float64) Strength {
	a := math.Abs(r)
	switch {
	case a >= StrongThreshold:
		return Strong
	case a >= ModerateThreshold:
		return Moderate
	default:
		return Weak
	}
}

// DirectionOf returns negative iff r < 0. Zero is reported as positive.
func DirectionOf(r float64) Direction {
	if r < 0 {
		return Negative
	}
	return Positive
}

// Stats summarizes one side of a sample.
type Stats struct {
	Count int
	Mean  float64
	Std   float64 // sample standard deviation (n-1)
	Min   float64
	Max   float64
}

// Summarize computes descriptive statistics. Std is zero for fewer than two
// values. Values are scaled by the largest magnitude before accumulating so
// that samples near the float64 limits do not overflow the running sums.
func Summarize(xs []float64) Stats {
	s := Stats{Count: len(xs)}
	if len(xs) == 0 {
		return s
	}
	s.Min, s.Max = xs[0], xs[0]
	for _, x := range xs {
		if x < s.Min {
			s.Min = x
		}
		if x > s.Max {
			s.Max = x
		}
	}
	scale := math.Max(math.Abs(s.Min), math.Abs(s.Max))
	if scale == 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		scale = 1
	}

	// Welford's update on x/scale.
	var mean, m2 float64
	for i, x := range xs {
		v := x / scale
		d := v - mean
		mean += d / float64(i+1)
		m2 += d * (v - mean)
	}
	s.Mean = mean * scale
	if len(xs) > 1 {
		s.Std = math.Sqrt(m2/float64(len(xs)-1)) * scale
	}
	return s
}

// Finite reports whether every field is a finite number.
func (s Stats) Finite() bool {
	for _, v := range []float64{s.Mean, s.Std, s.Min, s.Max} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Result is the correlation between demand and one climate variable.
type Result struct {
	R         float64
	R2        float64
	N         int
	Strength  Strength
	Direction Direction
	Demand    Stats
	Climate   Stats
}

// Options tunes Spearman.
type Options struct {
	// MinSamples raises the minimum sample size. Values below 2 are ignored.
	MinSamples int
}

// Spearman correlates x and y (paired by index) using fractional ranks.
func Spearman(x, y []float64, opts Options) (*Result, error) {
	if len(x) != len(y) {
		return nil, eris.Errorf("correlate: length mismatch %d != %d", len(x), len(y))
	}
	minN := MinSamples
	if opts.MinSamples > minN {
		minN = opts.MinSamples
	}
	if len(x) < minN {
		return nil, eris.Wrapf(ErrInsufficientData, "n=%d below minimum %d", len(x), minN)
	}

	r, ok := pearson(Ranks(x), Ranks(y))
	if !ok {
		return nil, eris.Wrap(ErrInsufficientData, "constant series")
	}

	return &Result{
		R:         r,
		R2:        r * r,
		N:         len(x),
		Strength:  Classify(r),
		Direction: DirectionOf(r),
		Demand:    Summarize(x),
		Climate:   Summarize(y),
	}, nil
}

// Ranks assigns 1-based ranks in ascending order; tied values share the
// average of the ranks they span.
func Ranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && xs[idx[j]] == xs[idx[i]] {
			j++
		}
		// positions i..j-1 hold ranks i+1..j
		avg := float64(i+1+j) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}
	return ranks
}

// pearson returns the product-moment correlation, or false when either side
// has zero variance.
func pearson(x, y []float64) (float64, bool) {
	n := float64(len(x))
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	r := cov / math.Sqrt(vx*vy)
	return math.Max(-1, math.Min(1, r)), true
}
