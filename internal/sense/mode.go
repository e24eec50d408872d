package sense

import "time"

// Mode is the classified physical context of the subject.
type Mode string

const (
	// ModeInside indicates the subject is inside a building.
	ModeInside Mode = "inside"
	// ModeOutside indicates the subject is in the open.
	ModeOutside Mode = "outside"
	// ModeVehicle indicates the subject is in a moving vehicle.
	ModeVehicle Mode = "vehicle"
	// ModeUnknown indicates no classification could be made.
	ModeUnknown Mode = "unknown"
)

// Source identifies which evidence produced a classification. Sources are
// not equally trustworthy; the temporal voter scales decay half-lives by the
// quality weight, so a floor reading outlives an accuracy-pattern guess.
type Source string

const (
	SourceManual   Source = "manual"   // explicit user override
	SourceFloor    Source = "floor"    // building floor level resolved by the platform
	SourcePressure Source = "pressure" // barometric descent/ascent
	SourceAccuracy Source = "accuracy" // GPS accuracy mean/stddev signature
	SourcePolygon  Source = "polygon"  // inside a building footprint
	SourceGeofence Source = "geofence" // user-defined zone hit
	SourceZone     Source = "zone"     // distance-banded building proximity
	SourceMotion   Source = "motion"   // vehicle/motion analyzer
	SourceDrift    Source = "drift"    // drift suppressor override
	SourceTunnel   Source = "tunnel"   // frozen pre-tunnel mode
	SourceStale    Source = "stale"    // sensor feed went silent
	SourceFallback Source = "fallback" // building data unavailable
)

// QualityWeight returns the relative trust in a source on a [0,1] scale.
// Manual and floor evidence is near-definitive; fallback classifications made
// without building data barely count.
func (s Source) QualityWeight() float64 {
	switch s {
	case SourceManual:
		return 1.0
	case SourceFloor:
		return 0.98
	case SourcePolygon, SourceGeofence:
		return 0.85
	case SourceAccuracy, SourceMotion:
		return 0.70
	case SourcePressure:
		return 0.65
	case SourceZone:
		return 0.55
	case SourceDrift, SourceTunnel:
		return 0.45
	default: // stale, fallback
		return 0.30
	}
}

// IsStrong reports whether the source is definitive enough to anchor a mode
// lock formed near a building, where weak sources flip constantly.
func (s Source) IsStrong() bool {
	switch s {
	case SourceManual, SourceFloor, SourcePolygon, SourceGeofence:
		return true
	default:
		return false
	}
}

// Context carries the derived situation figures alongside a classification.
type Context struct {
	// NearestBuildingM is the distance to the nearest footprint edge, or -1
	// when building data was unavailable.
	NearestBuildingM float64 `json:"nearest_building_m"`

	// InsideBuilding is the footprint id containing the position, empty when
	// outside all polygons (or unknown).
	InsideBuilding string `json:"inside_building,omitempty"`

	// OccupiedFor is how long the subject has been inside InsideBuilding.
	OccupiedFor time.Duration `json:"occupied_for,omitempty"`

	// StationaryFor is how long the subject has been effectively motionless.
	StationaryFor time.Duration `json:"stationary_for,omitempty"`
}

// Classification is the outcome of one pipeline cycle.
type Classification struct {
	Mode       Mode    `json:"mode"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
	Reason     string  `json:"reason"`
	Context    Context `json:"context"`
}

// clampConfidence clamps a confidence value to the range [min, max].
func clampConfidence(value, min, max float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// HistoryEntry is a timestamped classification as recorded for temporal
// voting, annotated with the signal-quality weight of its source.
type HistoryEntry struct {
	Time          time.Time
	Result        Classification
	QualityWeight float64
}

// Result is the stabilized output published after voting and mode locking.
// Raw keeps the per-sample classification for diagnostics.
type Result struct {
	Time   time.Time      `json:"time"`
	Stable Classification `json:"stable"`
	Raw    Classification `json:"raw"`

	// Position of the sample that produced this result; zero for results
	// synthesized by the staleness timer.
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// Vehicle is the motion analyzer's verdict for this cycle, consumed by
	// the tracking gate independently of the stabilized mode.
	Vehicle VehicleVerdict `json:"vehicle"`

	// SustainedExcellentGPS reports the fast-path GPS quality query used by
	// the outdoor lock start rule.
	SustainedExcellentGPS bool          `json:"sustained_excellent_gps"`
	ExcellentGPSFor       time.Duration `json:"excellent_gps_for,omitempty"`

	// RecentPolygonExit is set when a validated (movement-confirmed) polygon
	// exit happened within the vote window.
	RecentPolygonExit bool `json:"recent_polygon_exit,omitempty"`

	// Walking reports whether recent motion activity is predominantly on foot.
	Walking bool `json:"walking,omitempty"`

	// SpeedMPS echoes the fix's reported ground speed; valid only when
	// HasSpeed is set.
	SpeedMPS float64 `json:"speed_mps,omitempty"`
	HasSpeed bool    `json:"has_speed,omitempty"`
}
