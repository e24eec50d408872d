// Package footprint answers "which building is this coordinate in, and how
// far is the nearest one" for the classifier. Footprint polygons and
// user-defined geofences come from a local dataset; the oracle interface
// exists so the classifier can also run against a remote footprint service,
// with caching and explicit unavailability semantics layered on top.
package footprint

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when building data cannot be obtained. The
// classifier maps it to a reduced-confidence fallback classification instead
// of blocking or guessing.
var ErrUnavailable = errors.New("footprint: building data unavailable")

// ModeHint is the context a geofence asserts for positions inside it.
type ModeHint string

const (
	HintInside  ModeHint = "inside"
	HintOutside ModeHint = "outside"
)

// Proximity is the oracle's answer for one coordinate.
type Proximity struct {
	// InsideBuilding is the id of the footprint containing the coordinate,
	// empty when outside all known polygons.
	InsideBuilding string `json:"inside_building,omitempty"`

	// NearestDistanceM is the distance to the nearest footprint edge in
	// meters. Zero while inside a polygon; -1 when no footprints are known
	// near the coordinate.
	NearestDistanceM float64 `json:"nearest_distance_m"`

	// NearestBuilding is the id of the nearest footprint, when one exists.
	NearestBuilding string `json:"nearest_building,omitempty"`

	// GeofenceID and GeofenceHint are set when the coordinate falls inside a
	// user-defined zone. Geofence hits are strong evidence: the user drew
	// the zone themselves.
	GeofenceID   string   `json:"geofence_id,omitempty"`
	GeofenceHint ModeHint `json:"geofence_hint,omitempty"`

	// Stale marks an answer served from cache because the underlying oracle
	// failed. Stale answers are better than none but callers may discount
	// them.
	Stale bool `json:"stale,omitempty"`
}

// Oracle resolves building proximity for a coordinate. Lookup is the only
// suspension point in the classification pipeline; implementations must
// honor the context deadline and return ErrUnavailable (possibly wrapped)
// rather than block.
type Oracle interface {
	Lookup(ctx context.Context, lat, lon float64) (Proximity, error)
}
