package sense

import (
	"time"

	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/stat"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// EarthRadiusM is the mean Earth radius used for angle-to-distance conversion.
const EarthRadiusM = 6371008.8

// DistanceM returns the great-circle distance in meters between two
// coordinates.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusM
}

// ring is a bounded buffer of timestamped values, overwriting the oldest
// entry at capacity. Age-based pruning happens on read so a quiet sensor
// does not keep stale samples alive.
type ring[T any] struct {
	entries []ringEntry[T]
	head    int // next write position
	size    int
	maxAge  time.Duration
}

type ringEntry[T any] struct {
	at    time.Time
	value T
}

func newRing[T any](capacity int, maxAge time.Duration) *ring[T] {
	if capacity < 1 {
		capacity = 16
	}
	return &ring[T]{
		entries: make([]ringEntry[T], capacity),
		maxAge:  maxAge,
	}
}

func (r *ring[T]) add(at time.Time, v T) {
	r.entries[r.head] = ringEntry[T]{at: at, value: v}
	r.head = (r.head + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
}

// recent returns entries no older than maxAge relative to now, oldest first.
func (r *ring[T]) recent(now time.Time) []ringEntry[T] {
	cutoff := now.Add(-r.maxAge)
	out := make([]ringEntry[T], 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - r.size + i + len(r.entries)) % len(r.entries)
		e := r.entries[idx]
		if e.at.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// since returns entries newer than the cutoff, oldest first.
func (r *ring[T]) since(now time.Time, window time.Duration) []ringEntry[T] {
	cutoff := now.Add(-window)
	entries := r.recent(now)
	i := 0
	for i < len(entries) && entries[i].at.Before(cutoff) {
		i++
	}
	return entries[i:]
}

// last returns the newest entry, or false when the buffer is empty or the
// newest entry has aged out.
func (r *ring[T]) last(now time.Time) (ringEntry[T], bool) {
	if r.size == 0 {
		return ringEntry[T]{}, false
	}
	idx := (r.head - 1 + len(r.entries)) % len(r.entries)
	e := r.entries[idx]
	if now.Sub(e.at) > r.maxAge {
		return ringEntry[T]{}, false
	}
	return e, true
}

func (r *ring[T]) clear() {
	r.head = 0
	r.size = 0
}

// AccuracyStats summarizes recent GPS accuracy readings.
type AccuracyStats struct {
	Count   int
	MeanM   float64
	StdDevM float64
}

// ExcellentGPS reports a run of tight-accuracy fixes.
type ExcellentGPS struct {
	Sustained bool
	Duration  time.Duration
	AverageM  float64
}

// occupancy tracks presence inside one building footprint.
type occupancy struct {
	buildingID string
	enteredAt  time.Time
	entryLat   float64
	entryLon   float64
	lastLat    float64
	lastLon    float64
	movementM  float64 // cumulative movement since entry
}

// History is the bounded, time-windowed store of raw sensor samples and the
// derived statistics the classifier reads. It is owned by the pipeline
// goroutine and performs no locking; all queries are pure functions over the
// current buffer state.
type History struct {
	cfg   *config.TuningConfig
	clock timeutil.Clock

	gps      *ring[GPSSample]
	motion   *ring[MotionSample]
	pressure *ring[PressureSample]

	// Polygon occupancy. At most one building contains the subject at a
	// time; pendingExit holds an apparent exit that has not yet cleared the
	// movement guard.
	current       *occupancy
	lastExitAt    time.Time
	lastExitValid bool

	// Stationary tracking derived from speed readings.
	stationarySince time.Time

	lastFloorAt time.Time
	lastFloor   int
}

// NewHistory returns an empty history store.
func NewHistory(cfg *config.TuningConfig, clock timeutil.Clock) *History {
	return &History{
		cfg:      cfg,
		clock:    clock,
		gps:      newRing[GPSSample](cfg.GetGPSBufferSize(), cfg.GetGPSBufferWindow()),
		motion:   newRing[MotionSample](cfg.GetMotionBufferSize(), cfg.GetMotionBufferWindow()),
		pressure: newRing[PressureSample](cfg.GetPressureBufferSize(), cfg.GetPressureWindow()),
	}
}

// RecordGPS appends a validated fix and updates stationary and floor state.
func (h *History) RecordGPS(s GPSSample) {
	h.gps.add(s.Time, s)

	if s.Floor != nil {
		h.lastFloorAt = s.Time
		h.lastFloor = *s.Floor
	}

	if s.HasSpeed {
		h.observeSpeed(s.Time, s.SpeedMPS)
	}
}

// RecordMotion appends a validated motion reading.
func (h *History) RecordMotion(s MotionSample) {
	h.motion.add(s.Time, s)
	h.observeSpeed(s.Time, s.SpeedMPS)
}

// RecordPressure appends a validated pressure reading.
func (h *History) RecordPressure(s PressureSample) {
	h.pressure.add(s.Time, s)
}

func (h *History) observeSpeed(at time.Time, speedMPS float64) {
	if speedMPS < h.cfg.GetParkingSpeedMPS() {
		if h.stationarySince.IsZero() {
			h.stationarySince = at
		}
		return
	}
	h.stationarySince = time.Time{}
}

// StationaryFor returns how long the subject has been effectively motionless,
// or zero if moving.
func (h *History) StationaryFor() time.Duration {
	if h.stationarySince.IsZero() {
		return 0
	}
	return h.clock.Since(h.stationarySince)
}

// AccuracyStats returns mean and standard deviation of recent accuracy
// readings inside the GPS window.
func (h *History) AccuracyStats() AccuracyStats {
	entries := h.gps.recent(h.clock.Now())
	if len(entries) == 0 {
		return AccuracyStats{}
	}
	values := make([]float64, len(entries))
	for i, e := range entries {
		values[i] = e.value.AccuracyM
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return AccuracyStats{Count: len(values), MeanM: mean, StdDevM: std}
}

// SustainedExcellentGPS reports whether the last minute holds at least the
// configured number of fixes all under the excellent-accuracy threshold.
func (h *History) SustainedExcellentGPS() ExcellentGPS {
	now := h.clock.Now()
	entries := h.gps.since(now, h.cfg.GetSustainedGPSWindow())
	threshold := h.cfg.GetExcellentAccuracyM()

	// Walk back from the newest fix while accuracy stays excellent.
	run := 0
	var sum float64
	var oldest time.Time
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].value.AccuracyM >= threshold {
			break
		}
		run++
		sum += entries[i].value.AccuracyM
		oldest = entries[i].at
	}
	if run < h.cfg.GetSustainedGPSSamples() {
		return ExcellentGPS{}
	}
	return ExcellentGPS{
		Sustained: true,
		Duration:  now.Sub(oldest),
		AverageM:  sum / float64(run),
	}
}

// RecentGPS returns the fixes inside the window, oldest first.
func (h *History) RecentGPS(window time.Duration) []GPSSample {
	entries := h.gps.since(h.clock.Now(), window)
	out := make([]GPSSample, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// RecentMotion returns the motion readings inside the window, oldest first.
func (h *History) RecentMotion(window time.Duration) []MotionSample {
	entries := h.motion.since(h.clock.Now(), window)
	out := make([]MotionSample, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// RecentPressureDelta returns the relative-altitude change across the window
// and whether enough readings were present to measure one.
func (h *History) RecentPressureDelta(window time.Duration) (float64, bool) {
	entries := h.pressure.since(h.clock.Now(), window)
	if len(entries) < 2 {
		return 0, false
	}
	return entries[len(entries)-1].value.RelAltitudeM - entries[0].value.RelAltitudeM, true
}

// LastFloorSeen returns the most recent floor reading and its age. ok is
// false when no floor has ever been observed.
func (h *History) LastFloorSeen() (floor int, age time.Duration, ok bool) {
	if h.lastFloorAt.IsZero() {
		return 0, 0, false
	}
	return h.lastFloor, h.clock.Since(h.lastFloorAt), true
}

// ObservePolygon updates occupancy state from the oracle's containment answer
// for a fix. An apparent exit is only accepted once cumulative movement since
// entry exceeds the configured minimum; below that it is GPS jitter and the
// occupancy stands.
func (h *History) ObservePolygon(buildingID string, fix GPSSample) {
	switch {
	case buildingID != "":
		if h.current == nil || h.current.buildingID != buildingID {
			h.current = &occupancy{
				buildingID: buildingID,
				enteredAt:  fix.Time,
				entryLat:   fix.Lat,
				entryLon:   fix.Lon,
				lastLat:    fix.Lat,
				lastLon:    fix.Lon,
			}
			return
		}
		h.current.movementM += DistanceM(h.current.lastLat, h.current.lastLon, fix.Lat, fix.Lon)
		h.current.lastLat = fix.Lat
		h.current.lastLon = fix.Lon

	case h.current != nil:
		moved := h.current.movementM + DistanceM(h.current.lastLat, h.current.lastLon, fix.Lat, fix.Lon)
		if moved < h.cfg.GetPolygonExitMinMovementM() {
			// Not enough movement since entry; treat the fix as jitter.
			return
		}
		h.current = nil
		h.lastExitAt = fix.Time
		h.lastExitValid = true
	}
}

// InsideBuilding returns the id of the currently occupied footprint and how
// long the subject has been inside it.
func (h *History) InsideBuilding() (id string, occupiedFor time.Duration) {
	if h.current == nil {
		return "", 0
	}
	return h.current.buildingID, h.clock.Since(h.current.enteredAt)
}

// RecentValidatedExit reports whether a movement-confirmed polygon exit
// happened within the window.
func (h *History) RecentValidatedExit(window time.Duration) bool {
	if !h.lastExitValid {
		return false
	}
	return h.clock.Since(h.lastExitAt) <= window
}

// Reset drops all buffered samples and derived state. Used when the feed has
// been silent long enough that continuity is gone.
func (h *History) Reset() {
	h.gps.clear()
	h.motion.clear()
	h.pressure.clear()
	h.current = nil
	h.lastExitValid = false
	h.stationarySince = time.Time{}
	h.lastFloorAt = time.Time{}
}
