// Package layout derives lateral pipes from a submain and the zone it serves.
package layout

import (
	"fmt"
	"math"

	"fieldplan/internal/domain"
	"fieldplan/internal/geo"
)

// Placement chooses whether laterals sit over plant rows or between them.
type Placement string

const (
	OverPlants    Placement = "over_plants"
	BetweenPlants Placement = "between_plants"
)

func (p Placement) Valid() bool {
	switch p {
	case OverPlants, BetweenPlants:
		return true
	}
	return false
}

func ParsePlacement(s string) (Placement, error) {
	p := Placement(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown placement %q", s)
	}
	return p, nil
}

// Options drive lateral generation. Distances are meters.
type Options struct {
	PlantSpacing  float64
	LateralLength float64
	MinLength     float64
	Placement     Placement
	RotationDeg   float64
}

const clipSteps = 10

// Laterals emits one lateral per side of the submain at every plant
// spacing. Each lateral is shortened until it lies wholly inside the zone:
// its far end is inside and it crosses no zone edge. Anchors outside the zone and laterals shorter than MinLength are
// dropped.
func Laterals(submain, zone []domain.Coordinate, opts Options) [][]domain.Coordinate {
	if len(submain) < 2 || len(zone) < 3 || opts.PlantSpacing <= 0 || opts.LateralLength <= 0 {
		return nil
	}
	rotation := ClampRotation(opts.RotationDeg) * math.Pi / 180

	next := 0.0
	switch opts.Placement {
	case BetweenPlants:
		next = opts.PlantSpacing / 2
	case OverPlants, "":
	}

	var out [][]domain.Coordinate
	traveled := 0.0
	for i := 1; i < len(submain); i++ {
		a, b := submain[i-1], submain[i]
		segLen := geo.Distance(a, b)
		if segLen == 0 {
			continue
		}
		heading := geo.Bearing(a, b)
		for next <= traveled+segLen {
			f := (next - traveled) / segLen
			anchor := domain.Coordinate{
				Lat: a.Lat + f*(b.Lat-a.Lat),
				Lng: a.Lng + f*(b.Lng-a.Lng),
			}
			if geo.PointInPolygon(anchor, zone) {
				for _, side := range []float64{1, -1} {
					angle := heading + side*math.Pi/2 + rotation
					if lat, ok := clip(anchor, angle, zone, opts); ok {
						out = append(out, lat)
					}
				}
			}
			next += opts.PlantSpacing
		}
		traveled += segLen
	}
	return out
}

func clip(anchor domain.Coordinate, angle float64, zone []domain.Coordinate, opts Options) ([]domain.Coordinate, bool) {
	north, east := math.Cos(angle), math.Sin(angle)
	for k := clipSteps; k > 0; k-- {
		length := opts.LateralLength * float64(k) / clipSteps
		if length < opts.MinLength {
			return nil, false
		}
		end := geo.Offset(anchor, north*length, east*length)
		if geo.PointInPolygon(end, zone) && !crossesEdge(anchor, end, zone) {
			return []domain.Coordinate{anchor, end}, true
		}
	}
	return nil, false
}

func crossesEdge(a, b domain.Coordinate, ring []domain.Coordinate) bool {
	for i := range ring {
		j := (i + 1) % len(ring)
		if _, ok := geo.SegmentIntersection(a, b, ring[i], ring[j]); ok {
			return true
		}
	}
	return false
}

// ClampRotation bounds a lateral rotation to -90..90 degrees.
func ClampRotation(deg float64) float64 {
	if math.IsNaN(deg) {
		return 0
	}
	return math.Max(-90, math.Min(90, deg))
}
