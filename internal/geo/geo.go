// Package geo holds the pure geometry used by the planner: great-circle
// distance, point-in-polygon, segment intersection and polygon area.
//
// Coordinates map onto orb points as x=lng, y=lat. None of the functions
// here return errors for degenerate input; they fall back to a sentinel
// (false, 0) instead.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"fieldplan/internal/domain"
)

// DefaultAreaScale converts degrees squared to square meters near small
// areas: (111320 m per degree)^2. It is an empirical factor, not geodesy.
const DefaultAreaScale = 111320.0 * 111320.0

// metersPerDegree is the latitude degree length used for local offsets.
const metersPerDegree = 111320.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point converts a coordinate to an orb point.
func Point(c domain.Coordinate) orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// FromPoint converts an orb point back to a coordinate.
func FromPoint(p orb.Point) domain.Coordinate {
	return domain.Coordinate{Lat: p.Lat(), Lng: p.Lon()}
}

// Ring converts a polygon to an orb ring without closing it.
func Ring(polygon []domain.Coordinate) orb.Ring {
	r := make(orb.Ring, 0, len(polygon))
	for _, c := range polygon {
		r = append(r, Point(c))
	}
	return r
}

// ClosedRing returns the polygon as a ring whose last point repeats the first.
func ClosedRing(polygon []domain.Coordinate) orb.Ring {
	r := Ring(polygon)
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

// LineString converts a pipe route to an orb line string.
func LineString(path []domain.Coordinate) orb.LineString {
	ls := make(orb.LineString, 0, len(path))
	for _, c := range path {
		ls = append(ls, Point(c))
	}
	return ls
}

// Distance is the Haversine distance in meters. Antipodal inputs whose
// rounding pushes the formula past its domain return half the circumference.
func Distance(a, b domain.Coordinate) float64 {
	if a == b {
		return 0
	}
	d := orbgeo.DistanceHaversine(Point(a), Point(b))
	if math.IsNaN(d) {
		return math.Pi * orb.EarthRadius
	}
	return d
}

// PathLength sums the leg distances of a polyline in meters.
func PathLength(path []domain.Coordinate) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// PointInPolygon is a ray-casting parity test. Points on the boundary may
// resolve either way. The polygon may be open or closed.
func PointInPolygon(p domain.Coordinate, polygon []domain.Coordinate) bool {
	if len(polygon) < 3 {
		return false
	}
	return planar.RingContains(Ring(polygon), Point(p))
}

// SegmentIntersection returns where p1-p2 crosses p3-p4. Parallel and
// coincident segments report no intersection.
func SegmentIntersection(p1, p2, p3, p4 domain.Coordinate) (domain.Coordinate, bool) {
	x1, y1 := p1.Lng, p1.Lat
	x2, y2 := p2.Lng, p2.Lat
	x3, y3 := p3.Lng, p3.Lat
	x4, y4 := p4.Lng, p4.Lat

	denom := (x1-x2)*(y3-y4) - (y1-y2)*(x3-x4)
	if denom == 0 {
		return domain.Coordinate{}, false
	}
	t := ((x1-x3)*(y3-y4) - (y1-y3)*(x3-x4)) / denom
	u := -((x1-x2)*(y1-y3) - (y1-y2)*(x1-x3)) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return domain.Coordinate{}, false
	}
	return domain.Coordinate{
		Lat: y1 + t*(y2-y1),
		Lng: x1 + t*(x2-x1),
	}, true
}

// PolygonArea is the absolute shoelace area in input units squared.
func PolygonArea(polygon []domain.Coordinate) float64 {
	if len(polygon) < 3 {
		return 0
	}
	return math.Abs(planar.Area(ClosedRing(polygon)))
}

// AreaSquareMeters scales PolygonArea by an empirical degrees^2 to m^2
// factor. A scale <= 0 uses DefaultAreaScale.
func AreaSquareMeters(polygon []domain.Coordinate, scale float64) float64 {
	if scale <= 0 {
		scale = DefaultAreaScale
	}
	return PolygonArea(polygon) * scale
}

func Midpoint(a, b domain.Coordinate) domain.Coordinate {
	return domain.Coordinate{Lat: (a.Lat + b.Lat) / 2, Lng: (a.Lng + b.Lng) / 2}
}

// Centroid is the vertex mean, good enough for label placement.
func Centroid(polygon []domain.Coordinate) domain.Coordinate {
	if len(polygon) == 0 {
		return domain.Coordinate{}
	}
	var c domain.Coordinate
	for _, p := range polygon {
		c.Lat += p.Lat
		c.Lng += p.Lng
	}
	n := float64(len(polygon))
	return domain.Coordinate{Lat: c.Lat / n, Lng: c.Lng / n}
}

// Offset moves c by north/east meters using a local flat-earth approximation.
func Offset(c domain.Coordinate, northM, eastM float64) domain.Coordinate {
	cosLat := math.Cos(c.Lat * math.Pi / 180)
	if math.Abs(cosLat) < 1e-12 {
		cosLat = 1e-12
	}
	return domain.Coordinate{
		Lat: c.Lat + northM/metersPerDegree,
		Lng: c.Lng + eastM/(metersPerDegree*cosLat),
	}
}

// Bearing is the initial heading from a to b in radians, clockwise from north.
func Bearing(a, b domain.Coordinate) float64 {
	return orbgeo.Bearing(Point(a), Point(b)) * math.Pi / 180
}

func ValidateCoordinate(c domain.Coordinate) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return fmt.Errorf("%w: NaN component", ErrInvalidCoordinate)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidCoordinate)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidCoordinate)
	}
	return nil
}
