// Package route finds a pipe route between two points that steers around
// obstacle polygons using one of four fixed detours.
//
// "Blocked" is deliberately loose: a leg is blocked when one of its probe
// points lies inside an obstacle. A leg that pierces an obstacle without a
// probe landing inside it is not detected.
package route

import (
	"fmt"

	"fieldplan/internal/domain"
	"fieldplan/internal/geo"
)

// DefaultOffset is the detour displacement in coordinate units (degrees on
// geographic canvases, roughly 11 m of latitude).
const DefaultOffset = 0.0001

// Probe selects which points of a leg are tested against obstacles.
type Probe string

const (
	// ProbeEndpoints tests only the two leg endpoints.
	ProbeEndpoints Probe = "endpoints"
	// ProbeMidpoint also tests the leg midpoint.
	ProbeMidpoint Probe = "midpoint"
)

func ParseProbe(s string) (Probe, error) {
	switch Probe(s) {
	case ProbeEndpoints, "":
		return ProbeEndpoints, nil
	case ProbeMidpoint:
		return ProbeMidpoint, nil
	}
	return "", fmt.Errorf("unknown route probe %q", s)
}

// Direction names the cardinal detour that was taken.
type Direction string

const (
	DirectionNone  Direction = ""
	DirectionNorth Direction = "north"
	DirectionEast  Direction = "east"
	DirectionSouth Direction = "south"
	DirectionWest  Direction = "west"
)

var detourOrder = []Direction{DirectionNorth, DirectionEast, DirectionSouth, DirectionWest}

func (d Direction) delta(offset float64) domain.Coordinate {
	switch d {
	case DirectionNorth:
		return domain.Coordinate{Lat: offset}
	case DirectionEast:
		return domain.Coordinate{Lng: offset}
	case DirectionSouth:
		return domain.Coordinate{Lat: -offset}
	case DirectionWest:
		return domain.Coordinate{Lng: -offset}
	case DirectionNone:
		return domain.Coordinate{}
	}
	return domain.Coordinate{}
}

type Router struct {
	Offset float64
	Probe  Probe
}

func New() Router {
	return Router{Offset: DefaultOffset, Probe: ProbeEndpoints}
}

// Result is a computed route. Blocked reports that the direct segment hit
// an obstacle; Fallback reports that no detour cleared and the direct
// segment was returned anyway.
type Result struct {
	Path      []domain.Coordinate `json:"path"`
	Blocked   bool                `json:"blocked"`
	Detoured  bool                `json:"detoured"`
	Direction Direction           `json:"direction,omitempty" enum:"north,east,south,west"`
	Fallback  bool                `json:"fallback"`
}

// Route returns only the path of Plan.
func (r Router) Route(start, end domain.Coordinate, obstacles [][]domain.Coordinate) []domain.Coordinate {
	return r.Plan(start, end, obstacles).Path
}

// Plan never fails: when every detour is blocked it returns the direct
// route, which may still cross an obstacle.
func (r Router) Plan(start, end domain.Coordinate, obstacles [][]domain.Coordinate) Result {
	direct := []domain.Coordinate{start, end}
	if !r.pathBlocked(direct, obstacles) {
		return Result{Path: direct}
	}
	offset := r.Offset
	if offset == 0 {
		offset = DefaultOffset
	}
	mid := geo.Midpoint(start, end)
	for _, dir := range detourOrder {
		d := dir.delta(offset)
		via := domain.Coordinate{Lat: mid.Lat + d.Lat, Lng: mid.Lng + d.Lng}
		candidate := []domain.Coordinate{start, via, end}
		if !r.pathBlocked(candidate, obstacles) {
			return Result{Path: candidate, Blocked: true, Detoured: true, Direction: dir}
		}
	}
	return Result{Path: direct, Blocked: true, Fallback: true}
}

func (r Router) pathBlocked(path []domain.Coordinate, obstacles [][]domain.Coordinate) bool {
	for i := 1; i < len(path); i++ {
		for _, obstacle := range obstacles {
			if r.legBlocked(path[i-1], path[i], obstacle) {
				return true
			}
		}
	}
	return false
}

func (r Router) legBlocked(a, b domain.Coordinate, obstacle []domain.Coordinate) bool {
	if geo.PointInPolygon(a, obstacle) || geo.PointInPolygon(b, obstacle) {
		return true
	}
	switch r.Probe {
	case ProbeMidpoint:
		return geo.PointInPolygon(geo.Midpoint(a, b), obstacle)
	case ProbeEndpoints, "":
		return false
	}
	return false
}
