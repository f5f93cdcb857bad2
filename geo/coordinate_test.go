package geo

import (
	"math"
	"testing"
)

func TestCoordinateIsValid(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		want  bool
	}{
		{"lima", NewCoordinate(-12.0464, -77.0428), true},
		{"origin", NewCoordinate(0, 0), true},
		{"north pole", NewCoordinate(90, 0), true},
		{"south pole", NewCoordinate(-90, 0), true},
		{"antimeridian east", NewCoordinate(0, 180), true},
		{"antimeridian west", NewCoordinate(0, -180), true},
		{"latitude too high", NewCoordinate(91, 0), false},
		{"latitude too low", NewCoordinate(-200, 0), false},
		{"longitude too high", NewCoordinate(0, 180.0001), false},
		{"NaN latitude", NewCoordinate(math.NaN(), 0), false},
		{"Inf longitude", NewCoordinate(0, math.Inf(1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.coord.IsValid(); got != tt.want {
				t.Errorf("IsValid(%v) = %v, want %v", tt.coord, got, tt.want)
			}
		})
	}
}

func TestRoundTo(t *testing.T) {
	tests := []struct {
		in       float64
		decimals int
		want     float64
	}{
		{-12.046400001, 6, -12.0464},
		{-12.046400009, 6, -12.0464},
		{1.23456789, 4, 1.2346},
		{-0.0000001, 6, 0},
	}

	for _, tt := range tests {
		got := RoundTo(tt.in, tt.decimals)
		if got != tt.want {
			t.Errorf("RoundTo(%v, %d) = %v, want %v", tt.in, tt.decimals, got, tt.want)
		}
		if got == 0 && math.Signbit(got) {
			t.Errorf("RoundTo(%v, %d) returned negative zero", tt.in, tt.decimals)
		}
	}
}

func TestCoordinateString(t *testing.T) {
	c := NewCoordinate(-12.0464, -77.0428)
	if got := c.String(); got != "-12.0464,-77.0428" {
		t.Errorf("String() = %q, want %q", got, "-12.0464,-77.0428")
	}
}
