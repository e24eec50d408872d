// Package solar computes solar elevation and a clear-sky UV estimate.
//
// The outdoor tracking lock only runs while the sun is up, and the dose
// integrator needs an irradiance figure for each tick. Both derive from the
// solar position at a coordinate and instant, computed with the NOAA solar
// position approximation (accurate to a fraction of a degree, far better than
// the gating needs).
package solar

import (
	"math"
	"time"
)

const degToRad = math.Pi / 180

// MinTrackingElevationDeg is the default solar elevation below which outdoor
// tracking is suppressed. A few degrees above the horizon excludes twilight,
// where erythemal irradiance is negligible.
const MinTrackingElevationDeg = 3.0

// ElevationDeg returns the solar elevation angle in degrees at the given
// coordinate and time. Negative values mean the sun is below the horizon.
func ElevationDeg(lat, lon float64, t time.Time) float64 {
	utc := t.UTC()

	// Fractional year in radians.
	day := float64(utc.YearDay())
	hour := float64(utc.Hour()) + float64(utc.Minute())/60 + float64(utc.Second())/3600
	gamma := 2 * math.Pi / 365 * (day - 1 + (hour-12)/24)

	// Equation of time (minutes) and solar declination (radians).
	eqTime := 229.18 * (0.000075 +
		0.001868*math.Cos(gamma) - 0.032077*math.Sin(gamma) -
		0.014615*math.Cos(2*gamma) - 0.040849*math.Sin(2*gamma))
	decl := 0.006918 -
		0.399912*math.Cos(gamma) + 0.070257*math.Sin(gamma) -
		0.006758*math.Cos(2*gamma) + 0.000907*math.Sin(2*gamma) -
		0.002697*math.Cos(3*gamma) + 0.00148*math.Sin(3*gamma)

	// True solar time in minutes, working in UTC so the timezone term drops.
	tst := hour*60 + eqTime + 4*lon
	haDeg := tst/4 - 180
	if haDeg < -180 {
		haDeg += 360
	}
	ha := haDeg * degToRad

	latRad := lat * degToRad
	cosZenith := math.Sin(latRad)*math.Sin(decl) + math.Cos(latRad)*math.Cos(decl)*math.Cos(ha)
	cosZenith = math.Max(-1, math.Min(1, cosZenith))
	zenith := math.Acos(cosZenith)

	return 90 - zenith/degToRad
}

// IsDaylight reports whether the solar elevation at the coordinate exceeds
// minElevationDeg. Pass MinTrackingElevationDeg for the tracking gate.
func IsDaylight(lat, lon float64, t time.Time, minElevationDeg float64) bool {
	return ElevationDeg(lat, lon, t) > minElevationDeg
}

// ClearSkyUVI estimates the clear-sky UV index for a solar elevation in
// degrees, using the Madronich power-law fit on the cosine of the zenith
// angle. It ignores ozone column, altitude, and cloud variation; the dose
// figures are indicative, not dosimetry.
func ClearSkyUVI(elevationDeg float64) float64 {
	if elevationDeg <= 0 {
		return 0
	}
	mu := math.Sin(elevationDeg * degToRad) // cos(zenith)
	return 12.5 * math.Pow(mu, 2.42)
}
