// Package artifact renders per-region correlation summaries and publishes
// them atomically to a file or object-store sink.
package artifact

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/gridclimate/internal/correlate"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/region"
)

// TimeFormat is the layout of last_updated.
const TimeFormat = "2006-01-02T15:04:05Z"

// Rounding applied at presentation time only.
const (
	coefPlaces  = 4
	statsPlaces = 2
)

// EnergyStats summarizes demand over the analyzed period.
type EnergyStats struct {
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Correlation is the rendered result for one climate variable. Mean and Std
// describe the climate variable over the aligned sample.
type Correlation struct {
	R         float64             `json:"r"`
	R2        float64             `json:"r2"`
	Strength  correlate.Strength  `json:"strength"`
	Direction correlate.Direction `json:"direction"`
	N         int                 `json:"n"`
	Mean      float64             `json:"mean"`
	Std       float64             `json:"std"`
}

// Insufficient marks a variable that could not be correlated.
type Insufficient struct {
	InsufficientData bool   `json:"insufficient_data"`
	N                int    `json:"n"`
	Reason           string `json:"reason"`
}

// Entry is either a Correlation or an Insufficient marker.
type Entry struct {
	Correlation  *Correlation
	Insufficient *Insufficient
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Insufficient != nil {
		return json.Marshal(e.Insufficient)
	}
	return json.Marshal(e.Correlation)
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var probe struct {
		InsufficientData bool `json:"insufficient_data"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if probe.InsufficientData {
		e.Insufficient = &Insufficient{}
		return json.Unmarshal(b, e.Insufficient)
	}
	e.Correlation = &Correlation{}
	return json.Unmarshal(b, e.Correlation)
}

// Document is the summary consumed by the map layer. Field names are a
// contract.
type Document struct {
	Region          string           `json:"region"`
	Name            string           `json:"name"`
	Lat             float64          `json:"lat"`
	Lng             float64          `json:"lng"`
	Interconnection string           `json:"interconnection"`
	Period          string           `json:"period"`
	LastUpdated     string           `json:"last_updated"`
	EnergyStats     EnergyStats      `json:"energy_stats"`
	Correlations    map[string]Entry `json:"correlations"`

	// Mirror of the temperature entry for older map builds.
	R             *float64            `json:"r,omitempty"`
	R2            *float64            `json:"r2,omitempty"`
	Strength      correlate.Strength  `json:"strength,omitempty"`
	Direction     correlate.Direction `json:"direction,omitempty"`
	NObservations *int                `json:"n_observations,omitempty"`
}

// Outcome is what the engine produced for one variable: a result, or the
// reason it could not produce one.
type Outcome struct {
	Variable model.Variable
	Result   *correlate.Result
	N        int
	Reason   string
}

// Input is everything needed to render one region's document.
type Input struct {
	Region      region.Region
	Period      string
	Demand      correlate.Stats
	Outcomes    []Outcome
	GeneratedAt time.Time
}

// Build renders the document for in. Full precision is kept until here.
func Build(in Input) *Document {
	doc := &Document{
		Region:          in.Region.Code,
		Name:            in.Region.Name,
		Lat:             in.Region.Lat,
		Lng:             in.Region.Lng,
		Interconnection: string(in.Region.Interconnection),
		Period:          in.Period,
		LastUpdated:     in.GeneratedAt.UTC().Format(TimeFormat),
		EnergyStats: EnergyStats{
			Mean:  round(in.Demand.Mean, statsPlaces),
			Count: in.Demand.Count,
			Std:   round(in.Demand.Std, statsPlaces),
			Min:   round(in.Demand.Min, statsPlaces),
			Max:   round(in.Demand.Max, statsPlaces),
		},
		Correlations: make(map[string]Entry, len(in.Outcomes)),
	}

	for _, o := range in.Outcomes {
		if o.Result == nil {
			doc.Correlations[o.Variable.Name] = Entry{Insufficient: &Insufficient{
				InsufficientData: true,
				N:                o.N,
				Reason:           o.Reason,
			}}
			continue
		}
		c := &Correlation{
			R:         round(o.Result.R, coefPlaces),
			R2:        round(o.Result.R2, coefPlaces),
			Strength:  o.Result.Strength,
			Direction: o.Result.Direction,
			N:         o.Result.N,
			Mean:      round(o.Result.Climate.Mean, statsPlaces),
			Std:       round(o.Result.Climate.Std, statsPlaces),
		}
		doc.Correlations[o.Variable.Name] = Entry{Correlation: c}

		if o.Variable.Name == model.PrimaryVariable {
			r, r2, n := c.R, c.R2, c.N
			doc.R, doc.R2, doc.NObservations = &r, &r2, &n
			doc.Strength, doc.Direction = c.Strength, c.Direction
		}
	}
	return doc
}

// round leaves NaN and ±Inf untouched; decimal cannot represent them and
// the JSON encoder rejects them later with an error.
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
