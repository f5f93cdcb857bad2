// Package geo provides the canonical coordinate type shared by the location pipeline.
package geo

import (
	"fmt"
	"math"
	"strconv"
)

const (
	// MinLatitude is the southern bound of a valid latitude.
	MinLatitude = -90.0
	// MaxLatitude is the northern bound of a valid latitude.
	MaxLatitude = 90.0
	// MinLongitude is the western bound of a valid longitude.
	MinLongitude = -180.0
	// MaxLongitude is the eastern bound of a valid longitude.
	MaxLongitude = 180.0
)

// Coordinate is a WGS84 latitude/longitude pair. It is a value type:
// copies are independent and equality is structural.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate creates a new Coordinate.
func NewCoordinate(lat, lng float64) Coordinate {
	return Coordinate{Latitude: lat, Longitude: lng}
}

// ValidLatitude reports whether lat is finite and within [-90, 90].
func ValidLatitude(lat float64) bool {
	return isFinite(lat) && lat >= MinLatitude && lat <= MaxLatitude
}

// ValidLongitude reports whether lng is finite and within [-180, 180].
func ValidLongitude(lng float64) bool {
	return isFinite(lng) && lng >= MinLongitude && lng <= MaxLongitude
}

// IsValid checks if the coordinate has finite, in-range components.
func (c Coordinate) IsValid() bool {
	return ValidLatitude(c.Latitude) && ValidLongitude(c.Longitude)
}

// Round returns the coordinate with both components rounded half away
// from zero to the given number of decimal places.
func (c Coordinate) Round(decimals int) Coordinate {
	return Coordinate{
		Latitude:  RoundTo(c.Latitude, decimals),
		Longitude: RoundTo(c.Longitude, decimals),
	}
}

// String formats the coordinate as "lat,lng", the same shape accepted on input.
func (c Coordinate) String() string {
	return fmt.Sprintf("%s,%s", FormatDegrees(c.Latitude), FormatDegrees(c.Longitude))
}

// RoundTo rounds v half away from zero to decimals places. Negative zero
// collapses to zero so that rounded values format identically.
func RoundTo(v float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	scale := math.Pow(10, float64(decimals))
	r := math.Round(v*scale) / scale
	if r == 0 {
		return 0
	}
	return r
}

// FormatDegrees formats a degree value with the shortest representation
// that round-trips through ParseFloat.
func FormatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
