package export

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldplan/internal/domain"
	"fieldplan/internal/session"
)

func sample() session.Session {
	s := session.New(session.DefaultDefaults())
	s.MainArea = &domain.Shape{ID: "field-1", Category: domain.CategoryField, Color: "#22c55e",
		Coordinates: []domain.Coordinate{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0}}}
	s.Obstacles = []domain.Shape{{ID: "obstacle-2", Category: domain.CategoryRiver,
		Coordinates: []domain.Coordinate{{Lat: 0.2, Lng: 0.2}, {Lat: 0.2, Lng: 0.3}, {Lat: 0.3, Lng: 0.3}}}}
	s.Pipes = []domain.Pipe{{ID: "pipe-3", Type: domain.PipeMain, LengthM: 12.5, DiameterMM: 63,
		Coordinates: []domain.Coordinate{{Lat: 0.1, Lng: 0.1}, {Lat: 0.1, Lng: 0.9}}}}
	s.Equipment = []domain.Equipment{{ID: "pump-4", Type: domain.EquipmentPump, Position: domain.Coordinate{Lat: 0.5, Lng: 0.5}, Capacity: 120}}
	return s
}

func TestFeatureCollection(t *testing.T) {
	fc := FeatureCollection(sample())
	require.Len(t, fc.Features, 4)

	area := fc.Features[0]
	assert.Equal(t, "field-1", area.ID)
	assert.Equal(t, KindMainArea, area.Properties.MustString("kind"))
	poly, ok := area.Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly[0], 5, "rings are closed on export")
	assert.Equal(t, orb.Point{0, 0}, poly[0][0])

	pipe := fc.Features[2]
	assert.Equal(t, "main", pipe.Properties.MustString("type"))
	assert.Equal(t, 12.5, pipe.Properties.MustFloat64("length_m"))
	assert.IsType(t, orb.LineString{}, pipe.Geometry)

	pump := fc.Features[3]
	assert.Equal(t, orb.Point{0.5, 0.5}, pump.Geometry)
}

func TestMarshalRoundTripsShapes(t *testing.T) {
	data, err := Marshal(sample())
	require.NoError(t, err)

	shapes, err := ParseShapes(data, domain.CategoryZone)
	require.NoError(t, err)
	require.Len(t, shapes, 2, "pipes and equipment are not polygons")
	assert.Equal(t, domain.CategoryField, shapes[0].Category)
	assert.Equal(t, sample().MainArea.Coordinates, shapes[0].Coordinates)
	assert.Equal(t, domain.CategoryRiver, shapes[1].Category)
}

func TestParseShapesDefaultsAndErrors(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.MultiPolygon{
		{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		{{{2, 2}, {3, 2}, {3, 3}}},
	}))
	data, err := fc.MarshalJSON()
	require.NoError(t, err)

	shapes, err := ParseShapes(data, domain.CategoryZone)
	require.NoError(t, err)
	require.Len(t, shapes, 2)
	assert.Equal(t, domain.CategoryZone, shapes[0].Category)
	assert.Len(t, shapes[0].Coordinates, 3)
	assert.Equal(t, domain.CategoryZone.DefaultColor(), shapes[0].Color)

	_, err = ParseShapes([]byte(`{"type":"FeatureCollection","features":[]}`), domain.CategoryZone)
	assert.ErrorIs(t, err, ErrNoShapes)

	_, err = ParseShapes([]byte(`not json`), domain.CategoryZone)
	assert.Error(t, err)

	bad := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}}})
	f.Properties["category"] = "lake"
	bad.Append(f)
	data, err = bad.MarshalJSON()
	require.NoError(t, err)
	_, err = ParseShapes(data, domain.CategoryZone)
	assert.ErrorContains(t, err, "lake")
}
