package location

import (
	"bytes"
	"encoding/json"

	"github.com/mycobrun/cobrun-location/geo"
)

// Input is a location as it arrives in a JSON request body: either an object
// with latitude/longitude keys or a "lat,lng" string. JSON null leaves it
// absent.
type Input struct {
	fields  map[string]any
	text    string
	isText  bool
	present bool
}

// NewInput wraps an already parsed coordinate.
func NewInput(c geo.Coordinate) Input {
	return Input{
		fields:  map[string]any{"latitude": c.Latitude, "longitude": c.Longitude},
		present: true,
	}
}

// Present reports whether a non-null value was supplied.
func (in Input) Present() bool {
	return in.present
}

// Coordinate parses the input into a coordinate.
func (in Input) Coordinate() (geo.Coordinate, error) {
	switch {
	case !in.present:
		return geo.Coordinate{}, ErrStructural
	case in.isText:
		return ParseString(in.text)
	case in.fields == nil:
		return geo.Coordinate{}, ErrStructural
	default:
		return parseMap(in.fields)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (in *Input) UnmarshalJSON(data []byte) error {
	*in = Input{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		in.text, in.isText, in.present = s, true, true
		return nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return err
		}
		in.fields, in.present = m, true
		return nil
	default:
		// Keep the value so validation can report it as a structural failure
		// on the location field instead of a decode error on the whole body.
		in.present = true
		return nil
	}
}

// MarshalJSON always writes the object form, or null when the input is
// absent or unparseable.
func (in Input) MarshalJSON() ([]byte, error) {
	c, err := in.Coordinate()
	if err != nil {
		return []byte("null"), nil
	}
	return json.Marshal(c)
}
