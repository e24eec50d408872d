package sense

import (
	"testing"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

func newTestAnalyzer() (*VehicleAnalyzer, *History, *timeutil.ManualClock) {
	cfg := config.EmptyTuningConfig()
	clock := timeutil.NewManualClock(senseEpoch)
	history := NewHistory(cfg, clock)
	return NewVehicleAnalyzer(cfg, clock, history), history, clock
}

func feedMotion(h *History, clock *timeutil.ManualClock, speeds []float64, activity MotionActivity) {
	for _, s := range speeds {
		h.RecordMotion(MotionSample{Time: clock.Now(), SpeedMPS: s, Activity: activity})
		clock.Advance(5 * time.Second)
	}
}

func TestVehicleByActivityRatio(t *testing.T) {
	a, h, clock := newTestAnalyzer()

	feedMotion(h, clock, []float64{10, 11, 12, 10, 11, 12}, ActivityAutomotive)
	feedMotion(h, clock, []float64{10, 11, 12, 10}, ActivityUnknown)

	v := a.Analyze(0, false)
	if !v.IsVehicle {
		t.Fatalf("60%% automotive not a vehicle: %+v", v)
	}
	if v.Confidence != AutomotiveRatioConfidence {
		t.Errorf("Confidence = %f, want %f", v.Confidence, AutomotiveRatioConfidence)
	}
}

func TestVehicleBySpeedBand(t *testing.T) {
	tests := []struct {
		name   string
		speeds []float64
		conf   float64
	}{
		{"highway", []float64{28, 30, 32}, HighwayConfidence},
		{"fast city", []float64{16, 18, 20}, FastCityConfidence},
		{"city", []float64{10, 12, 14}, CityConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, h, clock := newTestAnalyzer()
			feedMotion(h, clock, tt.speeds, ActivityUnknown)

			v := a.Analyze(0, false)
			if !v.IsVehicle {
				t.Fatalf("sustained %v not a vehicle: %+v", tt.speeds, v)
			}
			if v.Confidence != tt.conf {
				t.Errorf("Confidence = %f, want %f", v.Confidence, tt.conf)
			}
		})
	}
}

func TestVehicleCyclistExclusion(t *testing.T) {
	t.Run("steady pace without automotive tags", func(t *testing.T) {
		a, h, clock := newTestAnalyzer()
		// 9 m/s with almost no variance is a cyclist, not city traffic.
		feedMotion(h, clock, []float64{9.0, 9.1, 9.2, 9.0, 9.1}, ActivityUnknown)

		if v := a.Analyze(0, false); v.IsVehicle {
			t.Errorf("steady 9 m/s classified as vehicle: %+v", v)
		}
	})

	t.Run("explicit cycling tag", func(t *testing.T) {
		a, h, clock := newTestAnalyzer()
		feedMotion(h, clock, []float64{8, 12, 15, 9, 14}, ActivityCycling)

		if v := a.Analyze(0, false); v.IsVehicle {
			t.Errorf("cycling activity classified as vehicle: %+v", v)
		}
	})
}

func TestVehicleByStopAndGo(t *testing.T) {
	a, h, clock := newTestAnalyzer()

	// City traffic: high variance around a moderate mean with real peaks.
	feedMotion(h, clock, []float64{0, 1, 12, 2, 11, 0, 10}, ActivityUnknown)

	v := a.Analyze(0, false)
	if !v.IsVehicle {
		t.Fatalf("stop-and-go pattern not a vehicle: %+v", v)
	}
	if v.Confidence != StopAndGoConfidence {
		t.Errorf("Confidence = %f, want %f", v.Confidence, StopAndGoConfidence)
	}
}

func TestVehiclePersistsThroughRedLight(t *testing.T) {
	a, h, clock := newTestAnalyzer()

	feedMotion(h, clock, []float64{28, 30, 32}, ActivityUnknown)
	if v := a.Analyze(0, false); !v.IsVehicle {
		t.Fatalf("setup detection failed: %+v", v)
	}

	// Stopped at a light for two minutes: the verdict decays but stays a
	// vehicle, floored above the lock threshold.
	clock.Advance(2 * time.Minute)
	feedMotion(h, clock, []float64{0, 0, 0.2}, ActivityStationary)

	v := a.Analyze(0, false)
	if !v.IsVehicle || !v.IsPersisted {
		t.Fatalf("red light ended the drive: %+v", v)
	}
	if v.Confidence < 0.85 {
		t.Errorf("persisted confidence %f fell below the floor", v.Confidence)
	}
}

func TestVehicleParkingConfirmed(t *testing.T) {
	a, h, clock := newTestAnalyzer()

	feedMotion(h, clock, []float64{28, 30, 32}, ActivityUnknown)
	if v := a.Analyze(0, false); !v.IsVehicle {
		t.Fatalf("setup detection failed: %+v", v)
	}

	// Six minutes later, near-zero speeds and no automotive samples left in
	// the window: parked.
	clock.Advance(6 * time.Minute)
	feedMotion(h, clock, []float64{0, 0.1, 0}, ActivityStationary)

	v := a.Analyze(0, false)
	if !v.ParkingConfirmed {
		t.Fatalf("parking not confirmed: %+v", v)
	}
	if v.IsVehicle {
		t.Errorf("still a vehicle after parking: %+v", v)
	}

	// Persistence is gone; the next quiet cycle has no vehicle evidence.
	if v := a.Analyze(0, false); v.IsVehicle || v.ParkingConfirmed {
		t.Errorf("persistence survived parking: %+v", v)
	}
}

func TestVehicleParkingAfterWalkAway(t *testing.T) {
	a, h, clock := newTestAnalyzer()

	feedMotion(h, clock, []float64{14, 15, 16, 15, 14, 15, 16, 15, 14, 15}, ActivityAutomotive)
	if v := a.Analyze(0, false); !v.IsVehicle {
		t.Fatalf("setup detection failed: %+v", v)
	}

	// The persistence window expires while the subject is still walking away
	// from the car, so average speed blocks the parking check at that moment.
	clock.Advance(6 * time.Minute)
	feedMotion(h, clock, []float64{1.4, 1.3, 1.4, 1.5}, ActivityWalking)
	if v := a.Analyze(0, false); v.ParkingConfirmed || v.IsVehicle {
		t.Fatalf("verdict while walking away: %+v", v)
	}

	// Once the walk ends and the motion window settles to near-zero speeds,
	// the confirmation must still fire: without it the vehicle tracking lock
	// can never release.
	clock.Advance(6 * time.Minute)
	feedMotion(h, clock, []float64{0, 0.1, 0}, ActivityStationary)
	v := a.Analyze(0, false)
	if !v.ParkingConfirmed {
		t.Fatalf("parking never confirmed after walk-away: %+v", v)
	}
	if v.IsVehicle {
		t.Errorf("still a vehicle after parking: %+v", v)
	}
}

func TestVehiclePersistenceExpiresWithoutEvidence(t *testing.T) {
	a, h, clock := newTestAnalyzer()

	feedMotion(h, clock, []float64{28, 30, 32}, ActivityUnknown)
	if v := a.Analyze(0, false); !v.IsVehicle {
		t.Fatalf("setup detection failed: %+v", v)
	}

	// Ten minutes of silence: no samples to confirm parking, but the window
	// elapsed, so the carry-over simply stops.
	clock.Advance(10 * time.Minute)
	v := a.Analyze(0, false)
	if v.IsVehicle || v.ParkingConfirmed {
		t.Errorf("verdict after silent expiry: %+v", v)
	}
}

func TestVehicleNoEvidence(t *testing.T) {
	a, h, clock := newTestAnalyzer()
	feedMotion(h, clock, []float64{1.2, 1.4, 1.3}, ActivityWalking)

	v := a.Analyze(0, false)
	if v.IsVehicle || v.Confidence != 0 {
		t.Errorf("walking produced a vehicle verdict: %+v", v)
	}
}
