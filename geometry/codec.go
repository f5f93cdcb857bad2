package geometry

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mycobrun/cobrun-location/geo"
	"github.com/mycobrun/cobrun-location/location"
)

// ErrMalformedGeometry is returned when a stored value cannot be decoded.
var ErrMalformedGeometry = errors.New("geometry: malformed stored value")

// InvalidGeometryInputError is returned when a value handed to the write path
// is neither a coordinate shape nor a point.
type InvalidGeometryInputError struct {
	Type   string
	Reason string
}

func (e *InvalidGeometryInputError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("geometry: cannot encode %s as a point: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("geometry: cannot encode %s as a point", e.Type)
}

// Codec is the column configuration for a point column: which dialect
// stores it and under which SRID.
type Codec struct {
	dialect Dialect
	srid    int
}

// NewCodec creates a codec. A zero SRID selects DefaultSRID.
func NewCodec(d Dialect, srid int) Codec {
	if srid == 0 {
		srid = DefaultSRID
	}
	return Codec{dialect: d, srid: srid}
}

// Dialect returns the codec's dialect.
func (c Codec) Dialect() Dialect { return c.dialect }

// SRID returns the column SRID.
func (c Codec) SRID() int {
	if c.srid == 0 {
		return DefaultSRID
	}
	return c.srid
}

// ToStorage tags coord with the column SRID.
func (c Codec) ToStorage(coord geo.Coordinate) SpatialPoint {
	return NewSpatialPoint(coord, c.SRID())
}

// Encode is the write hook. Pre-built points keep their own SRID; every
// other accepted shape takes the column SRID.
func (c Codec) Encode(v any) (SpatialPoint, error) {
	var p SpatialPoint

	switch t := v.(type) {
	case SpatialPoint:
		p = t
	case *SpatialPoint:
		if t == nil {
			return SpatialPoint{}, &InvalidGeometryInputError{Type: "nil *geometry.SpatialPoint"}
		}
		p = *t
	case geo.Coordinate, *geo.Coordinate, location.Input, *location.Input,
		string, []byte, map[string]any, map[string]string, map[string]float64:
		coord, err := location.Parse(v)
		if err != nil {
			return SpatialPoint{}, &InvalidGeometryInputError{Type: fmt.Sprintf("%T", v), Reason: "unrecognised coordinate shape"}
		}
		p = c.ToStorage(coord)
	default:
		return SpatialPoint{}, &InvalidGeometryInputError{Type: fmt.Sprintf("%T", v)}
	}

	if !p.IsValid() {
		return SpatialPoint{}, &InvalidGeometryInputError{Type: fmt.Sprintf("%T", v), Reason: "coordinate out of range"}
	}
	return p, nil
}

// FromStorage is the read hook. Absent values and non-point geometries
// decode to nil without error.
func (c Codec) FromStorage(raw any) (*SpatialPoint, error) {
	var data []byte

	switch t := raw.(type) {
	case nil:
		return nil, nil
	case []byte:
		data = t
	case string:
		data = []byte(t)
	case *SpatialPoint:
		return t, nil
	case SpatialPoint:
		return &t, nil
	default:
		return nil, fmt.Errorf("%w: unsupported storage type %T", ErrMalformedGeometry, raw)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var (
		geom orb.Geometry
		srid int
		err  error
	)
	switch c.dialect.Family() {
	case DialectMySQL:
		geom, srid, err = decodeMySQL(data)
	default:
		geom, srid, err = decodeEWKB(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}

	pt, ok := geom.(orb.Point)
	if !ok {
		return nil, nil
	}
	if srid == 0 {
		srid = c.SRID()
	}

	p := NewSpatialPoint(geo.NewCoordinate(pt.Lat(), pt.Lon()), srid)
	return &p, nil
}

// Value encodes p in the dialect's binary storage form, for binding as a
// parameter without a constructor expression.
func (c Codec) Value(p SpatialPoint) ([]byte, error) {
	switch c.dialect.Family() {
	case DialectMySQL:
		body, err := wkb.Marshal(p.Point(), binary.LittleEndian)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4, 4+len(body))
		binary.LittleEndian.PutUint32(out, uint32(p.SRID()))
		return append(out, body...), nil
	default:
		return ewkb.Marshal(p.Point(), p.SRID(), binary.LittleEndian)
	}
}

// decodeMySQL reads the MySQL-family layout: a 4-byte little-endian SRID
// followed by WKB with x = longitude.
func decodeMySQL(data []byte) (orb.Geometry, int, error) {
	if len(data) < 5 {
		return nil, 0, fmt.Errorf("value too short (%d bytes)", len(data))
	}
	srid := int(binary.LittleEndian.Uint32(data[:4]))
	geom, err := wkb.Unmarshal(data[4:])
	if err != nil {
		return nil, 0, err
	}
	return geom, srid, nil
}

// decodeEWKB reads PostGIS EWKB in binary or hex text form.
func decodeEWKB(data []byte) (orb.Geometry, int, error) {
	if isHex(data) {
		decoded, err := hex.DecodeString(strings.TrimPrefix(string(data), "\\x"))
		if err != nil {
			return nil, 0, err
		}
		data = decoded
	}
	return ewkb.Unmarshal(data)
}

// isHex reports whether data is the text encoding of EWKB. Binary EWKB
// starts with a 0x00 or 0x01 byte-order marker; the hex form starts with
// the ASCII digits "00" or "01", optionally behind a \x prefix.
func isHex(data []byte) bool {
	return bytes.HasPrefix(data, []byte("00")) ||
		bytes.HasPrefix(data, []byte("01")) ||
		bytes.HasPrefix(data, []byte("\\x"))
}
