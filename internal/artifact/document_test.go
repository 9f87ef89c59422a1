package artifact

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gridclimate/internal/correlate"
	"github.com/sells-group/gridclimate/internal/model"
	"github.com/sells-group/gridclimate/internal/region"
)

var erco = region.Region{
	Code:            "ERCO",
	Name:            "Electric Reliability Council of Texas",
	Lat:             31.0,
	Lng:             -99.0,
	Interconnection: region.ERCOT,
}

func variable(t *testing.T, name string) model.Variable {
	t.Helper()
	v, ok := model.LookupVariable(name)
	require.True(t, ok, name)
	return v
}

func sampleInput(t *testing.T) Input {
	return Input{
		Region: erco,
		Period: "all",
		Demand: correlate.Stats{Count: 8760, Mean: 45123.456, Std: 9876.5432, Min: 20000.004, Max: 80000.996},
		Outcomes: []Outcome{
			{
				Variable: variable(t, "temperature"),
				Result: &correlate.Result{
					R: 0.712345, R2: 0.712345 * 0.712345, N: 8760,
					Strength: correlate.Strong, Direction: correlate.Positive,
					Climate: correlate.Stats{Mean: 21.456, Std: 8.123},
				},
				N: 8760,
			},
			{
				Variable: variable(t, "humidity"),
				Result: &correlate.Result{
					R: -0.31234, R2: 0.31234 * 0.31234, N: 8700,
					Strength: correlate.Moderate, Direction: correlate.Negative,
					Climate: correlate.Stats{Mean: 60.004, Std: 12.996},
				},
				N: 8700,
			},
			{Variable: variable(t, "precipitation"), N: 1, Reason: "n=1 below minimum 2"},
		},
		GeneratedAt: time.Date(2024, 3, 1, 12, 30, 5, 0, time.FixedZone("EST", -5*3600)),
	}
}

func TestBuild_Fields(t *testing.T) {
	doc := Build(sampleInput(t))

	assert.Equal(t, "ERCO", doc.Region)
	assert.Equal(t, "ercot", doc.Interconnection)
	assert.Equal(t, "all", doc.Period)
	assert.Equal(t, "2024-03-01T17:30:05Z", doc.LastUpdated)
	assert.Equal(t, EnergyStats{Mean: 45123.46, Count: 8760, Std: 9876.54, Min: 20000, Max: 80001}, doc.EnergyStats)

	temp := doc.Correlations["temperature"]
	require.NotNil(t, temp.Correlation)
	assert.Equal(t, 0.7123, temp.Correlation.R)
	assert.Equal(t, 0.5074, temp.Correlation.R2)
	assert.Equal(t, 21.46, temp.Correlation.Mean)
	assert.Equal(t, 8.12, temp.Correlation.Std)

	hum := doc.Correlations["humidity"]
	require.NotNil(t, hum.Correlation)
	assert.Equal(t, -0.3123, hum.Correlation.R)
	assert.Equal(t, correlate.Negative, hum.Correlation.Direction)

	precip := doc.Correlations["precipitation"]
	require.Nil(t, precip.Correlation)
	require.NotNil(t, precip.Insufficient)
	assert.True(t, precip.Insufficient.InsufficientData)
	assert.Equal(t, 1, precip.Insufficient.N)
}

func TestBuild_LegacyMirror(t *testing.T) {
	doc := Build(sampleInput(t))
	require.NotNil(t, doc.R)
	require.NotNil(t, doc.NObservations)
	assert.Equal(t, 0.7123, *doc.R)
	assert.Equal(t, 8760, *doc.NObservations)
	assert.Equal(t, correlate.Strong, doc.Strength)
	assert.Equal(t, correlate.Positive, doc.Direction)
}

func TestBuild_LegacyOmittedWhenTemperatureInsufficient(t *testing.T) {
	in := sampleInput(t)
	in.Outcomes[0].Result = nil
	in.Outcomes[0].Reason = "constant series"

	b, err := json.Marshal(Build(in))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, k := range []string{"r", "r2", "strength", "direction", "n_observations"} {
		assert.NotContains(t, raw, k)
	}
	corr := raw["correlations"].(map[string]any)
	temp := corr["temperature"].(map[string]any)
	assert.Equal(t, true, temp["insufficient_data"])
	assert.Equal(t, "constant series", temp["reason"])
}

func TestDocument_JSONContract(t *testing.T) {
	b, err := json.Marshal(Build(sampleInput(t)))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, k := range []string{"region", "name", "lat", "lng", "interconnection", "period",
		"last_updated", "energy_stats", "correlations", "r", "r2", "strength", "direction", "n_observations"} {
		assert.Contains(t, raw, k)
	}
	temp := raw["correlations"].(map[string]any)["temperature"].(map[string]any)
	for _, k := range []string{"r", "r2", "strength", "direction", "n", "mean", "std"} {
		assert.Contains(t, temp, k)
	}
	assert.NotContains(t, temp, "insufficient_data")
}

func TestEntry_RoundTripsBothShapes(t *testing.T) {
	doc := Build(sampleInput(t))
	b, err := json.Marshal(doc)
	require.NoError(t, err)

	var back Document
	require.NoError(t, json.Unmarshal(b, &back))
	require.NotNil(t, back.Correlations["temperature"].Correlation)
	require.NotNil(t, back.Correlations["precipitation"].Insufficient)
	assert.Equal(t, doc.Correlations["humidity"].Correlation, back.Correlations["humidity"].Correlation)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.1235, round(0.12345, 4))
	assert.Equal(t, -0.1235, round(-0.12345, 4))
	assert.Equal(t, 1.0, round(0.99999, 4))
	assert.Equal(t, 2.5, round(2.5, 2))

	assert.True(t, math.IsNaN(round(math.NaN(), 4)))
	assert.True(t, math.IsInf(round(math.Inf(1), 4), 1))
	assert.True(t, math.IsInf(round(math.Inf(-1), 4), -1))
}
