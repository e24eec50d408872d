// Package units provides shared constants and conversions for the speed and
// dose figures the engine reports.
package units

import "time"

// Speed unit identifiers accepted by the API layer.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidSpeedUnits contains all accepted speed unit values.
var ValidSpeedUnits = []string{MPS, MPH, KMPH, KPH}

// IsValidSpeedUnit checks whether unit names a supported speed unit.
func IsValidSpeedUnit(unit string) bool {
	for _, v := range ValidSpeedUnits {
		if unit == v {
			return true
		}
	}
	return false
}

// ValidSpeedUnitsString returns the accepted units for error messages.
func ValidSpeedUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Samples and the database always carry m/s; conversion is display-only.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// Erythemal dose units. Doses accumulate internally in J/m² of erythemally
// weighted irradiance; SED is the reporting unit.
const (
	// JoulesPerSED is one standard erythemal dose in J/m² (ISO 17166).
	JoulesPerSED = 100.0

	// JoulesPerMED is a conventional minimal erythemal dose for unacclimated
	// fair skin (type II), used only for report annotations.
	JoulesPerMED = 250.0

	// UVIWattsPerM2 converts one UV-index unit to erythemal W/m².
	UVIWattsPerM2 = 0.025
)

// DoseFromUVI integrates a constant UV index over d, returning J/m².
func DoseFromUVI(uvi float64, d time.Duration) float64 {
	if uvi <= 0 || d <= 0 {
		return 0
	}
	return uvi * UVIWattsPerM2 * d.Seconds()
}

// SED converts an erythemal dose in J/m² to standard erythemal doses.
func SED(joulesPerM2 float64) float64 {
	return joulesPerM2 / JoulesPerSED
}

// MED converts an erythemal dose in J/m² to type-II minimal erythemal doses.
func MED(joulesPerM2 float64) float64 {
	return joulesPerM2 / JoulesPerMED
}
