package geometry

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"

	"github.com/mycobrun/cobrun-location/geo"
	"github.com/mycobrun/cobrun-location/location"
)

var lima = geo.NewCoordinate(-12.0464, -77.0428)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		name    string
		want    Dialect
		wantErr bool
	}{
		{"mysql", DialectMySQL, false},
		{"MariaDB", DialectMariaDB, false},
		{"postgres", DialectPostgres, false},
		{"postgresql", DialectPostgres, false},
		{"pgx", DialectPostgres, false},
		{"sqlite", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDialect(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDialect(%q) error = %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseDialect(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	query := "INSERT INTO locations (id, label, point) VALUES (?, 'what?', ST_GeomFromText(?, 4326)::geometry)"

	if got := DialectMySQL.Rebind(query); got != query {
		t.Errorf("mysql Rebind changed the query: %s", got)
	}

	want := "INSERT INTO locations (id, label, point) VALUES ($1, 'what?', ST_GeomFromText($2, 4326)::geometry)"
	if got := DialectPostgres.Rebind(query); got != want {
		t.Errorf("postgres Rebind = %s\nwant %s", got, want)
	}
}

func TestNewSpatialPointDefaultsSRID(t *testing.T) {
	if got := NewSpatialPoint(lima, 0).SRID(); got != DefaultSRID {
		t.Errorf("SRID() = %d, want %d", got, DefaultSRID)
	}
	if got := NewSpatialPoint(lima, 3857).SRID(); got != 3857 {
		t.Errorf("SRID() = %d, want 3857", got)
	}
	if got := NewCodec(DialectPostgres, 0).SRID(); got != DefaultSRID {
		t.Errorf("codec SRID() = %d, want %d", got, DefaultSRID)
	}
}

func TestWKT(t *testing.T) {
	if got := WKT(NewSpatialPoint(lima, 4326)); got != "POINT(-77.0428 -12.0464)" {
		t.Errorf("WKT() = %s", got)
	}
}

func TestDialectFamily(t *testing.T) {
	tests := []struct {
		dialect Dialect
		family  Dialect
		driver  string
	}{
		{DialectMySQL, DialectMySQL, "mysql"},
		{DialectMariaDB, DialectMySQL, "mysql"},
		{DialectPostgres, DialectPostgres, "pgx"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.String(), func(t *testing.T) {
			if got := tt.dialect.Family(); got != tt.family {
				t.Errorf("Family() = %v, want %v", got, tt.family)
			}
			if got := tt.dialect.DriverName(); got != tt.driver {
				t.Errorf("DriverName() = %q, want %q", got, tt.driver)
			}
		})
	}
}

func TestServerDialect(t *testing.T) {
	tests := []struct {
		name       string
		configured Dialect
		version    string
		want       Dialect
	}{
		{"mysql 8", DialectMySQL, "8.4.2", DialectMySQL},
		{"mariadb configured as mysql", DialectMySQL, "11.4.3-MariaDB-ubu2404", DialectMariaDB},
		{"mysql configured as mariadb", DialectMariaDB, "8.0.39", DialectMySQL},
		{"postgres untouched", DialectPostgres, "11.4.3-MariaDB", DialectPostgres},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ServerDialect(tt.configured, tt.version); got != tt.want {
				t.Errorf("ServerDialect(%v, %q) = %v, want %v", tt.configured, tt.version, got, tt.want)
			}
		})
	}
}

func TestRawSQL(t *testing.T) {
	p := NewSpatialPoint(lima, 4326)

	tests := []struct {
		dialect Dialect
		want    string
	}{
		{DialectMySQL, "ST_GeomFromText(?, 4326, 'axis-order=long-lat')"},
		{DialectMariaDB, "ST_GeomFromText(?, 4326)"},
		{DialectPostgres, "ST_GeomFromText(?, 4326)::geometry"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.String(), func(t *testing.T) {
			expr := RawSQL(p, tt.dialect)
			if expr.SQL != tt.want {
				t.Errorf("SQL = %q, want %q", expr.SQL, tt.want)
			}
			if len(expr.Args) != 1 || expr.Args[0] != "POINT(-77.0428 -12.0464)" {
				t.Errorf("Args = %v, want the WKT only", expr.Args)
			}
		})
	}

	if got := RawSQL(NewSpatialPoint(lima, 3857), DialectMariaDB).SQL; got != "ST_GeomFromText(?, 3857)" {
		t.Errorf("SRID literal not carried: %q", got)
	}
	if got := RawSQL(NewSpatialPoint(lima, 3857), DialectMySQL).SQL; !strings.Contains(got, "?, 3857,") {
		t.Errorf("SRID literal not carried: %q", got)
	}
}

// A longitude beyond ±90 is only accepted by MySQL 8 under SRID 4326 when
// the WKT is read long-lat, and must come back from the select expression
// in the same order.
func TestMySQLAxisOrderHighLongitude(t *testing.T) {
	tokyo := geo.NewCoordinate(35.6762, 139.6503)

	expr := RawSQL(NewSpatialPoint(tokyo, 4326), DialectMySQL)
	if expr.Args[0] != "POINT(139.6503 35.6762)" {
		t.Errorf("WKT = %v, want longitude first", expr.Args[0])
	}
	if !strings.Contains(expr.SQL, "'axis-order=long-lat'") {
		t.Errorf("SQL = %q, want long-lat axis order", expr.SQL)
	}

	sel := DialectMySQL.SelectPoint("point")
	if !strings.Contains(sel, "ST_AsBinary(point, 'axis-order=long-lat')") {
		t.Errorf("SelectPoint = %q, want long-lat WKB", sel)
	}
	if !strings.HasPrefix(sel, "CONCAT(UNHEX(LEFT(HEX(point), 8))") {
		t.Errorf("SelectPoint = %q, want the SRID prefix kept", sel)
	}
}

func TestSelectPoint(t *testing.T) {
	if got := DialectMariaDB.SelectPoint("point"); got != "point" {
		t.Errorf("mariadb SelectPoint = %q, want the bare column", got)
	}
	if got := DialectPostgres.SelectPoint("point"); got != "ST_AsEWKB(point)" {
		t.Errorf("postgres SelectPoint = %q", got)
	}
}

func TestEncode(t *testing.T) {
	codec := NewCodec(DialectPostgres, 4326)
	prebuilt := NewSpatialPoint(lima, 3857)

	tests := []struct {
		name     string
		input    any
		wantSRID int
	}{
		{"coordinate", lima, 4326},
		{"coordinate pointer", &lima, 4326},
		{"map", map[string]any{"latitude": -12.0464, "longitude": -77.0428}, 4326},
		{"string", "-12.0464,-77.0428", 4326},
		{"input", location.NewInput(lima), 4326},
		{"prebuilt point keeps srid", prebuilt, 3857},
		{"prebuilt pointer", &prebuilt, 3857},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := codec.Encode(tt.input)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if p.Coordinate != lima {
				t.Errorf("coordinate = %+v, want %+v", p.Coordinate, lima)
			}
			if p.SRID() != tt.wantSRID {
				t.Errorf("SRID = %d, want %d", p.SRID(), tt.wantSRID)
			}
		})
	}
}

func TestEncodeInvalidInput(t *testing.T) {
	codec := NewCodec(DialectMySQL, 4326)

	tests := []struct {
		name     string
		input    any
		wantType string
	}{
		{"int", 42, "int"},
		{"struct", struct{ X int }{1}, "struct { X int }"},
		{"bad string", "somewhere", "string"},
		{"out of range", geo.NewCoordinate(95, 0), "geo.Coordinate"},
		{"nil", nil, "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Encode(tt.input)

			var invalid *InvalidGeometryInputError
			if !errors.As(err, &invalid) {
				t.Fatalf("Encode() error = %v, want *InvalidGeometryInputError", err)
			}
			if invalid.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", invalid.Type, tt.wantType)
			}
			if !strings.Contains(err.Error(), tt.wantType) {
				t.Errorf("error %q does not name the received type", err)
			}
		})
	}
}

func TestStorageRoundTrip(t *testing.T) {
	coords := []geo.Coordinate{
		lima,
		geo.NewCoordinate(90, 180),
		geo.NewCoordinate(-90, -180),
		geo.NewCoordinate(0, 0),
		geo.NewCoordinate(40.712775899999999, -74.005972800000003),
		geo.NewCoordinate(35.6762, 139.6503),
	}

	for _, d := range []Dialect{DialectMySQL, DialectMariaDB, DialectPostgres} {
		for _, srid := range []int{4326, 3857} {
			codec := NewCodec(d, srid)
			for _, c := range coords {
				raw, err := codec.Value(codec.ToStorage(c))
				if err != nil {
					t.Fatalf("%v Value() error = %v", d, err)
				}

				got, err := codec.FromStorage(raw)
				if err != nil {
					t.Fatalf("%v FromStorage() error = %v", d, err)
				}
				if got == nil {
					t.Fatalf("%v FromStorage() = nil", d)
				}
				if got.Coordinate != c {
					t.Errorf("%v round trip = %+v, want %+v", d, got.Coordinate, c)
				}
				if got.SRID() != srid {
					t.Errorf("%v SRID = %d, want %d", d, got.SRID(), srid)
				}
			}
		}
	}
}

func TestWireRoundTripValidates(t *testing.T) {
	codec := NewCodec(DialectPostgres, 4326)

	for _, c := range []geo.Coordinate{lima, geo.NewCoordinate(90, -180), geo.NewCoordinate(-89.999999, 179.999999)} {
		p := codec.ToStorage(c)
		wire := ToWire(&p)

		body, err := json.Marshal(wire)
		if err != nil {
			t.Fatal(err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			t.Fatal(err)
		}

		parsed, err := location.Parse(decoded)
		if err != nil {
			t.Fatalf("Parse(%s) error = %v", body, err)
		}
		if errs := location.Validate(parsed); len(errs) != 0 {
			t.Errorf("Validate(%+v) = %v", parsed, errs)
		}
		if parsed != c {
			t.Errorf("wire round trip = %+v, want %+v", parsed, c)
		}
	}
}

func TestFromStoragePostgresHex(t *testing.T) {
	codec := NewCodec(DialectPostgres, 4326)

	raw, err := ewkb.Marshal(orb.Point{-77.0428, -12.0464}, 4326)
	if err != nil {
		t.Fatal(err)
	}

	for name, v := range map[string]any{
		"hex string":      hex.EncodeToString(raw),
		"upper hex bytes": []byte(strings.ToUpper(hex.EncodeToString(raw))),
		"bytea escape":    "\\x" + hex.EncodeToString(raw),
	} {
		t.Run(name, func(t *testing.T) {
			p, err := codec.FromStorage(v)
			if err != nil {
				t.Fatalf("FromStorage() error = %v", err)
			}
			if p == nil || p.Coordinate != lima || p.SRID() != 4326 {
				t.Errorf("FromStorage() = %+v", p)
			}
		})
	}
}

func TestFromStorageAbsentOrNotPoint(t *testing.T) {
	codec := NewCodec(DialectPostgres, 4326)

	line, err := ewkb.Marshal(orb.LineString{{0, 0}, {1, 1}}, 4326)
	if err != nil {
		t.Fatal(err)
	}

	for name, v := range map[string]any{
		"nil":         nil,
		"empty bytes": []byte{},
		"empty text":  "",
		"linestring":  line,
	} {
		t.Run(name, func(t *testing.T) {
			p, err := codec.FromStorage(v)
			if err != nil {
				t.Fatalf("FromStorage() error = %v", err)
			}
			if p != nil {
				t.Errorf("FromStorage() = %+v, want nil", p)
			}
		})
	}
}

func TestFromStorageMalformed(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		raw   any
	}{
		{"mysql too short", NewCodec(DialectMySQL, 4326), []byte{0xE6, 0x10}},
		{"mysql garbage", NewCodec(DialectMySQL, 4326), []byte{0xE6, 0x10, 0, 0, 0x07, 0x07, 0x07}},
		{"postgres bad hex", NewCodec(DialectPostgres, 4326), "01zz"},
		{"unsupported type", NewCodec(DialectPostgres, 4326), 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.codec.FromStorage(tt.raw)
			if !errors.Is(err, ErrMalformedGeometry) {
				t.Errorf("FromStorage() error = %v, want ErrMalformedGeometry", err)
			}
			if p != nil {
				t.Errorf("FromStorage() = %+v, want nil", p)
			}
		})
	}
}

func TestToWire(t *testing.T) {
	if ToWire(nil) != nil {
		t.Error("ToWire(nil) should be nil")
	}

	p := NewSpatialPoint(lima, 4326)
	body, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"latitude":-12.0464,"longitude":-77.0428}` {
		t.Errorf("MarshalJSON() = %s", body)
	}

	var nilPoint *SpatialPoint
	body, _ = json.Marshal(ToWire(nilPoint))
	if string(body) != "null" {
		t.Errorf("nil point wire = %s, want null", body)
	}
}
