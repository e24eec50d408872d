package sense

import (
	"testing"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

func newTestDrift() (*DriftFilter, *History, *timeutil.ManualClock) {
	cfg := config.EmptyTuningConfig()
	clock := timeutil.NewManualClock(senseEpoch)
	history := NewHistory(cfg, clock)
	return NewDriftFilter(cfg, clock, history), history, clock
}

// markStationary plants a low-speed motion sample so StationaryFor is nonzero.
func markStationary(h *History, clock *timeutil.ManualClock) {
	h.RecordMotion(MotionSample{Time: clock.Now(), SpeedMPS: 0.1, Activity: ActivityStationary})
	clock.Advance(time.Second)
}

func zoneResult(mode Mode) Classification {
	return Classification{Mode: mode, Confidence: 0.75, Source: SourceZone}
}

func TestDriftOverridesOscillation(t *testing.T) {
	d, h, clock := newTestDrift()
	markStationary(h, clock)

	// The position jumps ~11m per fix while the subject is physically
	// stationary, flapping the raw mode. Majority is Inside (4 of 6).
	modes := []Mode{ModeInside, ModeOutside, ModeInside, ModeOutside, ModeInside, ModeInside}
	var got Classification
	for i, mode := range modes {
		lat := 40.0 + float64(i%2)*0.0001
		got = d.Apply(zoneResult(mode), lat, -74.0)
		clock.Advance(10 * time.Second)
	}

	if got.Source != SourceDrift {
		t.Fatalf("drift not detected: %+v", got)
	}
	if got.Mode != ModeInside {
		t.Errorf("override mode = %s, want majority inside", got.Mode)
	}
	if got.Confidence != 0.60 {
		t.Errorf("override confidence = %f, want 0.60", got.Confidence)
	}
}

func TestDriftNoMajorityGoesUnknown(t *testing.T) {
	d, h, clock := newTestDrift()
	markStationary(h, clock)

	modes := []Mode{ModeInside, ModeOutside, ModeInside, ModeOutside, ModeInside, ModeOutside}
	var got Classification
	for i, mode := range modes {
		lat := 40.0 + float64(i%2)*0.0001
		got = d.Apply(zoneResult(mode), lat, -74.0)
		clock.Advance(10 * time.Second)
	}

	if got.Source != SourceDrift || got.Mode != ModeUnknown {
		t.Errorf("tied drift buffer = %+v, want unknown override", got)
	}
}

func TestDriftIgnoredWhileMoving(t *testing.T) {
	d, h, clock := newTestDrift()
	h.RecordMotion(MotionSample{Time: clock.Now(), SpeedMPS: 1.4, Activity: ActivityWalking})
	clock.Advance(time.Second)

	for i := 0; i < 8; i++ {
		mode := ModeInside
		if i%2 == 1 {
			mode = ModeOutside
		}
		got := d.Apply(zoneResult(mode), 40.0+float64(i%2)*0.0001, -74.0)
		if got.Source == SourceDrift {
			t.Fatalf("drift fired while walking: %+v", got)
		}
	}
}

func TestDriftRequiresApparentMovement(t *testing.T) {
	d, h, clock := newTestDrift()
	markStationary(h, clock)

	// Mode flaps but the position holds still: whatever this is, it is not
	// position drift.
	for i := 0; i < 8; i++ {
		mode := ModeInside
		if i%2 == 1 {
			mode = ModeOutside
		}
		got := d.Apply(zoneResult(mode), 40.0, -74.0)
		if got.Source == SourceDrift {
			t.Fatalf("drift fired with a fixed position: %+v", got)
		}
	}
}

func TestDriftFloorVeto(t *testing.T) {
	d, h, clock := newTestDrift()
	markStationary(h, clock)

	floor := 2
	h.RecordGPS(GPSSample{Time: clock.Now(), Lat: 40.0, Lon: -74.0, AccuracyM: 20, Floor: &floor})

	for i := 0; i < 8; i++ {
		mode := ModeInside
		if i%2 == 1 {
			mode = ModeOutside
		}
		got := d.Apply(zoneResult(mode), 40.0+float64(i%2)*0.0001, -74.0)
		if got.Source == SourceDrift {
			t.Fatalf("drift fired with a live floor signal: %+v", got)
		}
	}
}

func TestDriftPassesVehicleAndUnknown(t *testing.T) {
	d, h, clock := newTestDrift()
	markStationary(h, clock)

	for _, mode := range []Mode{ModeVehicle, ModeUnknown} {
		raw := Classification{Mode: mode, Confidence: 0.9, Source: SourceMotion}
		if got := d.Apply(raw, 40.0, -74.0); got != raw {
			t.Errorf("%s mutated by drift filter: %+v", mode, got)
		}
	}
}
