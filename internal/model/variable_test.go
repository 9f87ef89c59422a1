package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClimateVariables(t *testing.T) {
	vars := ClimateVariables()
	require.Len(t, vars, 8)
	assert.Equal(t, PrimaryVariable, vars[0].Name)

	names := map[string]bool{}
	for _, v := range vars {
		assert.NotEmpty(t, v.Param, v.Name)
		assert.NotEmpty(t, v.Unit, v.Name)
		assert.False(t, names[v.Name], "duplicate %s", v.Name)
		names[v.Name] = true
	}

	// Returned slice is a copy.
	vars[0].Name = "mutated"
	assert.Equal(t, "temperature", ClimateVariables()[0].Name)
}

func TestClimateParams(t *testing.T) {
	params := ClimateParams()
	assert.Equal(t, []string{
		"temperature_2m", "relative_humidity_2m", "surface_pressure", "cloud_cover",
		"direct_radiation", "precipitation", "wind_speed_10m", "wind_direction_10m",
	}, params)
}

func TestLookupVariable(t *testing.T) {
	v, ok := LookupVariable("solar_radiation")
	require.True(t, ok)
	assert.Equal(t, "direct_radiation", v.Param)
	assert.Equal(t, "W/m2", v.Unit)

	_, ok = LookupVariable("snow_depth")
	assert.False(t, ok)
}

func TestVariableForParam(t *testing.T) {
	v, ok := VariableForParam("wind_speed_10m")
	require.True(t, ok)
	assert.Equal(t, "wind_speed", v.Name)

	_, ok = VariableForParam("nope")
	assert.False(t, ok)
}
