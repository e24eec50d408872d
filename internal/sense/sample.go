package sense

import (
	"fmt"
	"math"
	"time"
)

// MotionActivity is the activity tag reported by the motion coprocessor.
type MotionActivity string

const (
	ActivityStationary MotionActivity = "stationary"
	ActivityWalking    MotionActivity = "walking"
	ActivityRunning    MotionActivity = "running"
	ActivityCycling    MotionActivity = "cycling"
	ActivityAutomotive MotionActivity = "automotive"
	ActivityUnknown    MotionActivity = "unknown"
)

// IsValid returns true if the activity is a known tag.
func (a MotionActivity) IsValid() bool {
	switch a {
	case ActivityStationary, ActivityWalking, ActivityRunning,
		ActivityCycling, ActivityAutomotive, ActivityUnknown:
		return true
	default:
		return false
	}
}

// OnFoot reports whether the activity is self-propelled at walking/running pace.
func (a MotionActivity) OnFoot() bool {
	return a == ActivityWalking || a == ActivityRunning
}

// Ingestion limits. Samples outside these bounds are sensor glitches and are
// dropped before they can reach the pipeline.
const (
	MaxAccuracyM = 10000.0 // beyond this the fix carries no information
	MaxSpeedMPS  = 150.0   // ~540 km/h, faster than any ground vehicle
	MaxRelAltM   = 500.0   // relative altitude is measured from a local baseline
)

// GPSSample is a single position fix.
type GPSSample struct {
	Time      time.Time `json:"time"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AccuracyM float64   `json:"accuracy_m"`

	// SpeedMPS is valid only when HasSpeed is set; many fixes omit it.
	SpeedMPS float64 `json:"speed_mps,omitempty"`
	HasSpeed bool    `json:"has_speed,omitempty"`

	// Floor is the building floor level when the platform resolves one.
	// Present only indoors in multi-story structures; it is the
	// highest-trust indoor signal available.
	Floor *int `json:"floor,omitempty"`
}

// Validate rejects malformed fixes at the ingestion boundary.
func (s GPSSample) Validate() error {
	if s.Time.IsZero() {
		return fmt.Errorf("gps sample has zero timestamp")
	}
	if math.IsNaN(s.Lat) || math.IsNaN(s.Lon) || s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("gps sample has invalid coordinate (%v, %v)", s.Lat, s.Lon)
	}
	if math.IsNaN(s.AccuracyM) || s.AccuracyM <= 0 || s.AccuracyM > MaxAccuracyM {
		return fmt.Errorf("gps sample has invalid accuracy %vm", s.AccuracyM)
	}
	if s.HasSpeed && (math.IsNaN(s.SpeedMPS) || s.SpeedMPS < 0 || s.SpeedMPS > MaxSpeedMPS) {
		return fmt.Errorf("gps sample has invalid speed %v m/s", s.SpeedMPS)
	}
	return nil
}

// MotionSample is one reading from the motion-activity feed.
type MotionSample struct {
	Time     time.Time      `json:"time"`
	SpeedMPS float64        `json:"speed_mps"`
	Activity MotionActivity `json:"activity"`
}

// Validate rejects malformed motion readings.
func (s MotionSample) Validate() error {
	if s.Time.IsZero() {
		return fmt.Errorf("motion sample has zero timestamp")
	}
	if math.IsNaN(s.SpeedMPS) || s.SpeedMPS < 0 || s.SpeedMPS > MaxSpeedMPS {
		return fmt.Errorf("motion sample has invalid speed %v m/s", s.SpeedMPS)
	}
	if !s.Activity.IsValid() {
		return fmt.Errorf("motion sample has unknown activity %q", s.Activity)
	}
	return nil
}

// PressureSample is a barometric reading expressed as altitude relative to a
// resettable baseline.
type PressureSample struct {
	Time         time.Time `json:"time"`
	RelAltitudeM float64   `json:"rel_altitude_m"`
}

// Validate rejects malformed pressure readings.
func (s PressureSample) Validate() error {
	if s.Time.IsZero() {
		return fmt.Errorf("pressure sample has zero timestamp")
	}
	if math.IsNaN(s.RelAltitudeM) || math.Abs(s.RelAltitudeM) > MaxRelAltM {
		return fmt.Errorf("pressure sample has invalid relative altitude %vm", s.RelAltitudeM)
	}
	return nil
}
