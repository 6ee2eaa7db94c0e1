// Package export converts sessions to and from GeoJSON.
package export

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"fieldplan/internal/domain"
	"fieldplan/internal/geo"
	"fieldplan/internal/session"
)

const (
	KindMainArea  = "main_area"
	KindZone      = "zone"
	KindObstacle  = "obstacle"
	KindPipe      = "pipe"
	KindEquipment = "equipment"
)

var ErrNoShapes = errors.New("no polygons found")

// FeatureCollection renders the committed parts of a session. Pending
// drawings are left out.
func FeatureCollection(s session.Session) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if s.MainArea != nil {
		fc.Append(shapeFeature(*s.MainArea, KindMainArea))
	}
	for _, z := range s.Zones {
		fc.Append(shapeFeature(z, KindZone))
	}
	for _, o := range s.Obstacles {
		fc.Append(shapeFeature(o, KindObstacle))
	}
	for _, p := range s.Pipes {
		f := geojson.NewFeature(geo.LineString(p.Coordinates))
		f.ID = p.ID
		f.Properties["kind"] = KindPipe
		f.Properties["type"] = string(p.Type)
		f.Properties["length_m"] = p.LengthM
		f.Properties["diameter_mm"] = p.DiameterMM
		if p.ZoneID != "" {
			f.Properties["zone_id"] = p.ZoneID
		}
		if p.SubmainID != "" {
			f.Properties["submain_id"] = p.SubmainID
		}
		fc.Append(f)
	}
	for _, e := range s.Equipment {
		f := geojson.NewFeature(geo.Point(e.Position))
		f.ID = e.ID
		f.Properties["kind"] = KindEquipment
		f.Properties["type"] = string(e.Type)
		f.Properties["capacity"] = e.Capacity
		f.Properties["head"] = e.Head
		f.Properties["flow"] = e.Flow
		fc.Append(f)
	}
	return fc
}

func shapeFeature(sh domain.Shape, kind string) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{geo.ClosedRing(sh.Coordinates)})
	f.ID = sh.ID
	f.Properties["kind"] = kind
	f.Properties["category"] = string(sh.Category)
	f.Properties["color"] = sh.Color
	return f
}

// Marshal encodes the session as a GeoJSON FeatureCollection.
func Marshal(s session.Session) ([]byte, error) {
	data, err := FeatureCollection(s).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal geojson: %w", err)
	}
	return data, nil
}

// ParseShapes reads polygons from a FeatureCollection. The category comes
// from the "category" property, falling back to def. Closing vertices are
// dropped; holes are ignored.
func ParseShapes(data []byte, def domain.ShapeCategory) ([]domain.Shape, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	var out []domain.Shape
	for i, f := range fc.Features {
		cat := domain.ShapeCategory(f.Properties.MustString("category", string(def)))
		if !cat.Valid() {
			return nil, fmt.Errorf("feature %d: unknown category %q", i, cat)
		}
		for _, poly := range polygons(f.Geometry) {
			if len(poly) == 0 {
				continue
			}
			out = append(out, domain.Shape{
				Category:    cat,
				Color:       f.Properties.MustString("color", cat.DefaultColor()),
				Coordinates: openRing(poly[0]),
			})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoShapes
	}
	return out, nil
}

func polygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	case orb.Bound:
		return []orb.Polygon{v.ToPolygon()}
	}
	return nil
}

func openRing(r orb.Ring) []domain.Coordinate {
	if len(r) > 1 && r[0].Equal(r[len(r)-1]) {
		r = r[:len(r)-1]
	}
	out := make([]domain.Coordinate, 0, len(r))
	for _, p := range r {
		out = append(out, geo.FromPoint(p))
	}
	return out
}
