package sense

import (
	"math"
	"testing"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

var senseEpoch = time.Date(2026, time.June, 15, 16, 0, 0, 0, time.UTC)

func ip(v int) *int         { return &v }
func fp(v float64) *float64 { return &v }

func newTestHistory(cfg *config.TuningConfig) (*History, *timeutil.ManualClock) {
	clock := timeutil.NewManualClock(senseEpoch)
	return NewHistory(cfg, clock), clock
}

func gpsAt(at time.Time, lat, lon, accuracy float64) GPSSample {
	return GPSSample{Time: at, Lat: lat, Lon: lon, AccuracyM: accuracy}
}

func TestHistoryRingOverwritesOldest(t *testing.T) {
	cfg := &config.TuningConfig{GPSBufferSize: ip(4)}
	h, clock := newTestHistory(cfg)

	for i := 0; i < 6; i++ {
		h.RecordGPS(gpsAt(clock.Now(), 40.0, -74.0, float64(i+1)))
		clock.Advance(time.Second)
	}

	got := h.RecentGPS(10 * time.Minute)
	if len(got) != 4 {
		t.Fatalf("kept %d fixes, want 4", len(got))
	}
	if got[0].AccuracyM != 3 || got[3].AccuracyM != 6 {
		t.Errorf("wrong fixes survived: first %.0f last %.0f", got[0].AccuracyM, got[3].AccuracyM)
	}
}

func TestHistoryPrunesByAge(t *testing.T) {
	h, clock := newTestHistory(config.EmptyTuningConfig())

	h.RecordGPS(gpsAt(clock.Now(), 40.0, -74.0, 10))
	clock.Advance(9 * time.Minute)
	h.RecordGPS(gpsAt(clock.Now(), 40.0, -74.0, 20))
	clock.Advance(2 * time.Minute)

	// First fix is now 11 minutes old, past the 10-minute GPS window.
	got := h.RecentGPS(15 * time.Minute)
	if len(got) != 1 {
		t.Fatalf("kept %d fixes, want 1", len(got))
	}
	if got[0].AccuracyM != 20 {
		t.Errorf("wrong fix survived: %.0f", got[0].AccuracyM)
	}
}

func TestHistoryAccuracyStats(t *testing.T) {
	h, clock := newTestHistory(config.EmptyTuningConfig())

	for _, acc := range []float64{10, 20, 30} {
		h.RecordGPS(gpsAt(clock.Now(), 40.0, -74.0, acc))
		clock.Advance(time.Second)
	}

	stats := h.AccuracyStats()
	if stats.Count != 3 {
		t.Fatalf("Count = %d, want 3", stats.Count)
	}
	if math.Abs(stats.MeanM-20) > 1e-9 {
		t.Errorf("MeanM = %f, want 20", stats.MeanM)
	}
	if math.Abs(stats.StdDevM-10) > 1e-9 {
		t.Errorf("StdDevM = %f, want 10", stats.StdDevM)
	}
}

func TestHistorySustainedExcellentGPS(t *testing.T) {
	h, clock := newTestHistory(config.EmptyTuningConfig())

	for _, acc := range []float64{8, 9, 10} {
		h.RecordGPS(gpsAt(clock.Now(), 40.0, -74.0, acc))
		clock.Advance(10 * time.Second)
	}

	gps := h.SustainedExcellentGPS()
	if !gps.Sustained {
		t.Fatal("three sub-12m fixes not sustained")
	}
	if gps.AverageM != 9 {
		t.Errorf("AverageM = %f, want 9", gps.AverageM)
	}
	if gps.Duration != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", gps.Duration)
	}

	// A poor fix at the tail breaks the run immediately.
	h.RecordGPS(gpsAt(clock.Now(), 40.0, -74.0, 60))
	if h.SustainedExcellentGPS().Sustained {
		t.Error("still sustained after a 60m fix")
	}
}

func TestHistoryStationaryTracking(t *testing.T) {
	h, clock := newTestHistory(config.EmptyTuningConfig())

	h.RecordMotion(MotionSample{Time: clock.Now(), SpeedMPS: 0.1, Activity: ActivityStationary})
	clock.Advance(2 * time.Minute)
	if got := h.StationaryFor(); got != 2*time.Minute {
		t.Errorf("StationaryFor = %v, want 2m", got)
	}

	h.RecordMotion(MotionSample{Time: clock.Now(), SpeedMPS: 1.4, Activity: ActivityWalking})
	if got := h.StationaryFor(); got != 0 {
		t.Errorf("StationaryFor = %v after movement, want 0", got)
	}
}

func TestHistoryPolygonOccupancy(t *testing.T) {
	h, clock := newTestHistory(config.EmptyTuningConfig())

	entry := gpsAt(clock.Now(), 40.0, -74.0, 10)
	h.ObservePolygon("b-1", entry)
	clock.Advance(time.Minute)

	id, occupied := h.InsideBuilding()
	if id != "b-1" || occupied != time.Minute {
		t.Fatalf("InsideBuilding = %q for %v", id, occupied)
	}

	// An apparent exit with sub-threshold movement is jitter; occupancy stands.
	jitter := gpsAt(clock.Now(), 40.00003, -74.0, 10) // ~3m
	h.ObservePolygon("", jitter)
	if id, _ := h.InsideBuilding(); id != "b-1" {
		t.Fatalf("jitter exit accepted, InsideBuilding = %q", id)
	}
	if h.RecentValidatedExit(time.Minute) {
		t.Fatal("jitter exit reported as validated")
	}

	// 22m of movement clears the guard and the exit is accepted.
	far := gpsAt(clock.Now(), 40.0002, -74.0, 10)
	h.ObservePolygon("", far)
	if id, _ := h.InsideBuilding(); id != "" {
		t.Fatalf("still inside %q after a 22m exit", id)
	}
	if !h.RecentValidatedExit(time.Minute) {
		t.Error("validated exit not reported")
	}
}

func TestHistoryPressureDelta(t *testing.T) {
	h, clock := newTestHistory(config.EmptyTuningConfig())

	h.RecordPressure(PressureSample{Time: clock.Now(), RelAltitudeM: 5.0})
	if _, ok := h.RecentPressureDelta(2 * time.Minute); ok {
		t.Fatal("delta measured from a single reading")
	}

	clock.Advance(30 * time.Second)
	h.RecordPressure(PressureSample{Time: clock.Now(), RelAltitudeM: 2.5})
	delta, ok := h.RecentPressureDelta(2 * time.Minute)
	if !ok {
		t.Fatal("delta not measured from two readings")
	}
	if delta != -2.5 {
		t.Errorf("delta = %f, want -2.5", delta)
	}
}

func TestHistoryFloorAndReset(t *testing.T) {
	h, clock := newTestHistory(config.EmptyTuningConfig())

	if _, _, ok := h.LastFloorSeen(); ok {
		t.Fatal("floor reported before any reading")
	}

	floor := 3
	fix := gpsAt(clock.Now(), 40.0, -74.0, 25)
	fix.Floor = &floor
	h.RecordGPS(fix)
	clock.Advance(time.Minute)

	got, age, ok := h.LastFloorSeen()
	if !ok || got != 3 || age != time.Minute {
		t.Fatalf("LastFloorSeen = %d, %v, %v", got, age, ok)
	}

	h.Reset()
	if _, _, ok := h.LastFloorSeen(); ok {
		t.Error("floor survived Reset")
	}
	if len(h.RecentGPS(time.Hour)) != 0 {
		t.Error("fixes survived Reset")
	}
}

func TestDistanceM(t *testing.T) {
	// One degree of latitude is about 111 km everywhere.
	d := DistanceM(40.0, -74.0, 41.0, -74.0)
	if d < 110_000 || d > 112_000 {
		t.Errorf("DistanceM over 1 degree latitude = %f", d)
	}
	if DistanceM(40.0, -74.0, 40.0, -74.0) != 0 {
		t.Error("distance to self not zero")
	}
}
