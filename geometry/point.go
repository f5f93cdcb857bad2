package geometry

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mycobrun/cobrun-location/geo"
)

// DefaultSRID is EPSG:4326 (WGS84).
const DefaultSRID = 4326

// SpatialPoint is a coordinate tagged with the spatial reference it is stored
// under. The SRID is fixed at construction.
type SpatialPoint struct {
	geo.Coordinate
	srid int
}

// NewSpatialPoint creates a point. A zero SRID selects DefaultSRID.
func NewSpatialPoint(c geo.Coordinate, srid int) SpatialPoint {
	if srid == 0 {
		srid = DefaultSRID
	}
	return SpatialPoint{Coordinate: c, srid: srid}
}

// SRID returns the spatial reference identifier.
func (p SpatialPoint) SRID() int {
	if p.srid == 0 {
		return DefaultSRID
	}
	return p.srid
}

// Point returns the orb point, x = longitude and y = latitude.
func (p SpatialPoint) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// MarshalJSON writes the wire shape {"latitude":..,"longitude":..}.
func (p SpatialPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Coordinate)
}

// WKT returns the Well-Known Text of p, e.g. POINT(-77.0428 -12.0464).
func WKT(p SpatialPoint) string {
	return wkt.MarshalString(p.Point())
}

// ToWire converts a stored point into the API shape. Nil stays nil.
func ToWire(p *SpatialPoint) *geo.Coordinate {
	if p == nil {
		return nil
	}
	c := p.Coordinate
	return &c
}
