// Package location turns client-supplied location inputs into canonical
// coordinates and checks them against the coordinate range rules.
//
// Accepted shapes are a mapping with latitude/longitude keys, a "lat,lng"
// string, or an already typed geo.Coordinate. Parsing only establishes shape;
// range checks belong to Validate.
package location

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mycobrun/cobrun-location/geo"
)

// ErrStructural is returned when an input is not recognisably a location.
var ErrStructural = errors.New("location: input is not a recognisable location")

var (
	latitudeKeys  = []string{"latitude", "lat"}
	longitudeKeys = []string{"longitude", "lng", "lon"}
)

// Parse normalises input into a Coordinate. It never checks ranges.
func Parse(input any) (geo.Coordinate, error) {
	switch v := input.(type) {
	case geo.Coordinate:
		return v, nil
	case *geo.Coordinate:
		if v == nil {
			return geo.Coordinate{}, ErrStructural
		}
		return *v, nil
	case Input:
		return v.Coordinate()
	case *Input:
		if v == nil {
			return geo.Coordinate{}, ErrStructural
		}
		return v.Coordinate()
	case string:
		return ParseString(v)
	case []byte:
		return ParseString(string(v))
	case map[string]any:
		return parseMap(v)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return parseMap(m)
	case map[string]float64:
		m := make(map[string]any, len(v))
		for k, f := range v {
			m[k] = f
		}
		return parseMap(m)
	default:
		return geo.Coordinate{}, ErrStructural
	}
}

// ParseString parses the "<number>,<number>" form.
func ParseString(s string) (geo.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Coordinate{}, ErrStructural
	}

	lat, err := parseFloat(strings.TrimSpace(parts[0]))
	if err != nil {
		return geo.Coordinate{}, ErrStructural
	}
	lng, err := parseFloat(strings.TrimSpace(parts[1]))
	if err != nil {
		return geo.Coordinate{}, ErrStructural
	}

	return geo.NewCoordinate(lat, lng), nil
}

func parseMap(m map[string]any) (geo.Coordinate, error) {
	rawLat, ok := lookup(m, latitudeKeys)
	if !ok {
		return geo.Coordinate{}, ErrStructural
	}
	rawLng, ok := lookup(m, longitudeKeys)
	if !ok {
		return geo.Coordinate{}, ErrStructural
	}

	lat, err := toFloat(rawLat)
	if err != nil {
		return geo.Coordinate{}, ErrStructural
	}
	lng, err := toFloat(rawLng)
	if err != nil {
		return geo.Coordinate{}, ErrStructural
	}

	return geo.NewCoordinate(lat, lng), nil
}

// lookup returns the value of the first key present.
func lookup(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// toFloat converts the scalar shapes a decoded mapping can carry.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return parseFloat(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(s, 64)
}
