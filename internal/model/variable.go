package model

// DemandVariable is the value name carried by demand observations.
const DemandVariable = "demand_mw"

// Variable describes one climate variable: how the provider names it and how
// it is presented. The aligner and correlation engine only ever see a
// descriptor, so adding a variable is a single entry below.
type Variable struct {
	Name        string
	Param       string
	Display     string
	Unit        string
	Description string
}

// Demand describes the demand series.
var Demand = Variable{
	Name:        DemandVariable,
	Param:       "value",
	Display:     "Electricity Demand",
	Unit:        "MWh",
	Description: "Hourly demand reported by the balancing authority",
}

var climateVariables = []Variable{
	{Name: "temperature", Param: "temperature_2m", Display: "Temperature", Unit: "C",
		Description: "Air temperature at 2 meters above ground"},
	{Name: "humidity", Param: "relative_humidity_2m", Display: "Relative Humidity", Unit: "%",
		Description: "Relative humidity at 2 meters"},
	{Name: "pressure", Param: "surface_pressure", Display: "Surface Pressure", Unit: "hPa",
		Description: "Atmospheric pressure at surface level"},
	{Name: "cloud_cover", Param: "cloud_cover", Display: "Cloud Cover", Unit: "%",
		Description: "Total cloud cover percentage"},
	{Name: "solar_radiation", Param: "direct_radiation", Display: "Direct Solar Radiation", Unit: "W/m2",
		Description: "Direct component of solar radiation"},
	{Name: "precipitation", Param: "precipitation", Display: "Precipitation", Unit: "mm",
		Description: "Total precipitation sum"},
	{Name: "wind_speed", Param: "wind_speed_10m", Display: "Wind Speed", Unit: "m/s",
		Description: "Wind speed at 10 meters above ground"},
	{Name: "wind_direction", Param: "wind_direction_10m", Display: "Wind Direction", Unit: "deg",
		Description: "Wind direction at 10 meters"},
}

// PrimaryVariable is mirrored into the legacy top-level artifact fields.
const PrimaryVariable = "temperature"

// ClimateVariables returns the climate variable registry in presentation order.
func ClimateVariables() []Variable {
	out := make([]Variable, len(climateVariables))
	copy(out, climateVariables)
	return out
}

// ClimateParams returns the provider parameter names for every climate variable.
func ClimateParams() []string {
	out := make([]string, len(climateVariables))
	for i, v := range climateVariables {
		out[i] = v.Param
	}
	return out
}

// LookupVariable finds a climate variable by name.
func LookupVariable(name string) (Variable, bool) {
	for _, v := range climateVariables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// VariableForParam finds a climate variable by its provider parameter.
func VariableForParam(param string) (Variable, bool) {
	for _, v := range climateVariables {
		if v.Param == param {
			return v, true
		}
	}
	return Variable{}, false
}
