package solar

import (
	"math"
	"testing"
	"time"
)

func TestElevationSolsticeNoon(t *testing.T) {
	// Solar noon at Greenwich on the June solstice: declination ≈ +23.44°,
	// so elevation ≈ 90 − (51.48 − 23.44) ≈ 61.9° at lat 51.48N.
	noon := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	got := ElevationDeg(51.48, 0, noon)
	if math.Abs(got-61.9) > 1.0 {
		t.Errorf("elevation at Greenwich solstice noon = %.2f, want ≈61.9", got)
	}
}

func TestElevationMidnightBelowHorizon(t *testing.T) {
	midnight := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	got := ElevationDeg(51.48, 0, midnight)
	if got > 0 {
		t.Errorf("elevation at midnight = %.2f, want below horizon", got)
	}
}

func TestElevationEquatorEquinox(t *testing.T) {
	// Near the equinox the sun passes close to the zenith over the equator.
	noon := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	got := ElevationDeg(0, 0, noon)
	if got < 85 {
		t.Errorf("equatorial equinox noon elevation = %.2f, want ≳85", got)
	}
}

func TestElevationLongitudeShiftsNoon(t *testing.T) {
	// 90°W reaches solar noon six hours after Greenwich.
	at18 := ElevationDeg(0, -90, time.Date(2025, 3, 20, 18, 0, 0, 0, time.UTC))
	at12 := ElevationDeg(0, -90, time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC))
	if at18 <= at12 {
		t.Errorf("expected higher sun at 18:00 UTC than 12:00 UTC at 90°W, got %.2f vs %.2f", at18, at12)
	}
}

func TestIsDaylight(t *testing.T) {
	noon := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)

	if !IsDaylight(51.48, 0, noon, MinTrackingElevationDeg) {
		t.Error("noon should be daylight")
	}
	if IsDaylight(51.48, 0, midnight, MinTrackingElevationDeg) {
		t.Error("midnight should not be daylight")
	}
}

func TestClearSkyUVI(t *testing.T) {
	if got := ClearSkyUVI(-5); got != 0 {
		t.Errorf("UVI below horizon = %v, want 0", got)
	}
	if got := ClearSkyUVI(0); got != 0 {
		t.Errorf("UVI at horizon = %v, want 0", got)
	}

	// Overhead sun: the fit tops out at 12.5.
	if got := ClearSkyUVI(90); math.Abs(got-12.5) > 1e-9 {
		t.Errorf("UVI at zenith = %v, want 12.5", got)
	}

	// Monotonic in elevation.
	prev := 0.0
	for elev := 5.0; elev <= 90; elev += 5 {
		uvi := ClearSkyUVI(elev)
		if uvi <= prev {
			t.Fatalf("UVI not increasing at elevation %v: %v <= %v", elev, uvi, prev)
		}
		prev = uvi
	}
}
