package location

import (
	"github.com/mycobrun/cobrun-location/geo"
	"github.com/mycobrun/cobrun-location/validation"
)

// FieldLocation is the field name used for structural failures.
const FieldLocation = "location"

type coordinateRules struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// Validate checks both components of c. Both checks always run, so an input
// with two bad components yields two errors.
func Validate(c geo.Coordinate) validation.ValidationErrors {
	errs, _ := validation.ValidateStruct(coordinateRules{Latitude: c.Latitude, Longitude: c.Longitude})
	return errs
}

// ValidateInput is the request-boundary rule for a raw location value.
// Mappings are checked key by key, so a missing latitude reports only a
// latitude error. Any other shape that fails to parse reports a single
// error on the location field.
func ValidateInput(raw any) validation.ValidationErrors {
	if m, ok := asMap(raw); ok {
		return validateFields(m)
	}

	c, err := Parse(raw)
	if err != nil {
		return validation.ValidationErrors{{Field: FieldLocation, Message: validation.MsgStructural}}
	}
	return Validate(c)
}

// ParseAndValidate is Parse followed by ValidateInput. It returns the
// coordinate only when the input is fully valid.
func ParseAndValidate(raw any) (geo.Coordinate, validation.ValidationErrors) {
	if errs := ValidateInput(raw); len(errs) > 0 {
		return geo.Coordinate{}, errs
	}
	c, err := Parse(raw)
	if err != nil {
		return geo.Coordinate{}, validation.ValidationErrors{{Field: FieldLocation, Message: validation.MsgStructural}}
	}
	return c, nil
}

func validateFields(m map[string]any) validation.ValidationErrors {
	var errs validation.ValidationErrors

	if !validComponent(m, latitudeKeys, "latitude") {
		errs = append(errs, validation.ValidationError{Field: "latitude", Message: validation.MsgLatitude})
	}
	if !validComponent(m, longitudeKeys, "longitude") {
		errs = append(errs, validation.ValidationError{Field: "longitude", Message: validation.MsgLongitude})
	}

	return errs
}

func validComponent(m map[string]any, keys []string, tag string) bool {
	raw, ok := lookup(m, keys)
	if !ok {
		return false
	}
	f, err := toFloat(raw)
	if err != nil {
		return false
	}
	return validation.ValidateVar(f, tag) == nil
}

// asMap returns the mapping form of raw, if it has one.
func asMap(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return v, true
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return m, true
	case map[string]float64:
		m := make(map[string]any, len(v))
		for k, f := range v {
			m[k] = f
		}
		return m, true
	case Input:
		if v.present && !v.isText && v.fields != nil {
			return v.fields, true
		}
	case *Input:
		if v != nil {
			return asMap(*v)
		}
	}
	return nil, false
}
