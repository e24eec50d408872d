package units

import (
	"math"
	"testing"
	"time"
)

func TestIsValidSpeedUnit(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{"mps", true},
		{"mph", true},
		{"kmph", true},
		{"kph", true},
		{"", false},
		{"knots", false},
		{"MPH", false},
	}
	for _, tc := range tests {
		if got := IsValidSpeedUnit(tc.unit); got != tc.expected {
			t.Errorf("IsValidSpeedUnit(%q) = %v, want %v", tc.unit, got, tc.expected)
		}
	}
}

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		mps      float64
		unit     string
		expected float64
	}{
		{"mps passthrough", 10, "mps", 10},
		{"to mph", 10, "mph", 22.3694},
		{"to kmph", 10, "kmph", 36},
		{"to kph", 10, "kph", 36},
		{"unknown unit defaults to m/s", 10, "furlongs", 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ConvertSpeed(tc.mps, tc.unit)
			if math.Abs(got-tc.expected) > 1e-9 {
				t.Errorf("ConvertSpeed(%v, %q) = %v, want %v", tc.mps, tc.unit, got, tc.expected)
			}
		})
	}
}

func TestDoseFromUVI(t *testing.T) {
	// UVI 8 for one hour: 8 * 0.025 W/m² * 3600 s = 720 J/m² = 7.2 SED.
	dose := DoseFromUVI(8, time.Hour)
	if math.Abs(dose-720) > 1e-9 {
		t.Errorf("DoseFromUVI(8, 1h) = %v, want 720", dose)
	}
	if math.Abs(SED(dose)-7.2) > 1e-9 {
		t.Errorf("SED(720) = %v, want 7.2", SED(dose))
	}
	if med := MED(dose); math.Abs(med-2.88) > 1e-9 {
		t.Errorf("MED(720) = %v, want 2.88", med)
	}
}

func TestDoseFromUVIZeroAndNegative(t *testing.T) {
	if got := DoseFromUVI(0, time.Hour); got != 0 {
		t.Errorf("DoseFromUVI(0, 1h) = %v, want 0", got)
	}
	if got := DoseFromUVI(-3, time.Hour); got != 0 {
		t.Errorf("DoseFromUVI(-3, 1h) = %v, want 0", got)
	}
	if got := DoseFromUVI(5, -time.Minute); got != 0 {
		t.Errorf("DoseFromUVI(5, -1m) = %v, want 0", got)
	}
}
