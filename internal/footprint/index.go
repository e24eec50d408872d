package footprint

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/s2"
)

// EarthRadiusM is the mean Earth radius used for angle-to-distance
// conversion.
const EarthRadiusM = 6371008.8

// LatLon is a WGS-84 coordinate pair.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Building is one footprint polygon. Vertices form a closed ring in
// counterclockwise order; the closing vertex is implicit.
type Building struct {
	ID       string   `json:"id"`
	Vertices []LatLon `json:"vertices"`
}

// Geofence is a user-defined circular zone with a mode hint.
type Geofence struct {
	ID      string   `json:"id"`
	Center  LatLon   `json:"center"`
	RadiusM float64  `json:"radius_m"`
	Hint    ModeHint `json:"hint"`
}

// Dataset is the on-disk footprint file format.
type Dataset struct {
	Buildings []Building `json:"buildings"`
	Geofences []Geofence `json:"geofences,omitempty"`
}

// indexedBuilding holds the prepared S2 geometry for one footprint.
type indexedBuilding struct {
	id    string
	loop  *s2.Loop
	bound s2.Rect
}

// Index is an in-memory building proximity oracle over a fixed dataset.
// Lookups never fail and never suspend; the context is accepted only to
// satisfy the Oracle contract.
type Index struct {
	buildings []indexedBuilding
	geofences []Geofence
}

// NewIndex prepares S2 geometry for the dataset. Buildings with fewer than
// three vertices are rejected.
func NewIndex(ds Dataset) (*Index, error) {
	idx := &Index{geofences: ds.Geofences}
	for _, b := range ds.Buildings {
		if len(b.Vertices) < 3 {
			return nil, fmt.Errorf("building %q has %d vertices, need at least 3", b.ID, len(b.Vertices))
		}
		points := make([]s2.Point, len(b.Vertices))
		for i, v := range b.Vertices {
			points[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(v.Lat, v.Lon))
		}
		loop := s2.LoopFromPoints(points)
		// Vertex order in source data is not guaranteed; a clockwise ring
		// inverts to "everything but the building".
		if loop.Area() > 2*math.Pi {
			loop.Invert()
		}
		idx.buildings = append(idx.buildings, indexedBuilding{
			id:    b.ID,
			loop:  loop,
			bound: loop.RectBound(),
		})
	}
	return idx, nil
}

// LoadIndex reads a JSON dataset file and builds an index from it.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read footprint dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse footprint dataset: %w", err)
	}
	idx, err := NewIndex(ds)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// BuildingCount returns the number of indexed footprints.
func (idx *Index) BuildingCount() int { return len(idx.buildings) }

// Lookup implements Oracle against the local index.
func (idx *Index) Lookup(_ context.Context, lat, lon float64) (Proximity, error) {
	ll := s2.LatLngFromDegrees(lat, lon)
	point := s2.PointFromLatLng(ll)

	prox := Proximity{NearestDistanceM: -1}

	nearest := math.Inf(1)
	for _, b := range idx.buildings {
		if b.bound.ContainsLatLng(ll) && b.loop.ContainsPoint(point) {
			prox.InsideBuilding = b.id
			prox.NearestBuilding = b.id
			prox.NearestDistanceM = 0
			nearest = 0
			break
		}
		if d := edgeDistanceM(b.loop, point); d < nearest {
			nearest = d
			prox.NearestBuilding = b.id
		}
	}
	if !math.IsInf(nearest, 1) {
		prox.NearestDistanceM = nearest
	}

	for _, g := range idx.geofences {
		center := s2.LatLngFromDegrees(g.Center.Lat, g.Center.Lon)
		if ll.Distance(center).Radians()*EarthRadiusM <= g.RadiusM {
			prox.GeofenceID = g.ID
			prox.GeofenceHint = g.Hint
			break
		}
	}

	return prox, nil
}

// edgeDistanceM returns the distance in meters from a point to the nearest
// loop edge.
func edgeDistanceM(loop *s2.Loop, point s2.Point) float64 {
	minAngle := math.Inf(1)
	n := loop.NumVertices()
	for i := 0; i < n; i++ {
		a := loop.Vertex(i)
		b := loop.Vertex((i + 1) % n)
		if d := s2.DistanceFromSegment(point, a, b).Radians(); d < minAngle {
			minAngle = d
		}
	}
	return minAngle * EarthRadiusM
}
