package geo

import (
	"math"
	"testing"
)

func TestHaversineZero(t *testing.T) {
	if d := HaversineKm(40.7128, -74.0060, 40.7128, -74.0060); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := HaversineKm(40.7128, -74.0060, 34.0522, -118.2437)
	b := HaversineKm(34.0522, -118.2437, 40.7128, -74.0060)
	if a != b {
		t.Fatalf("asymmetric distance: %f vs %f", a, b)
	}
}

func TestHaversineKnownDistances(t *testing.T) {
	// New York to Los Angeles, roughly 3940 km great-circle.
	if d := HaversineKm(40.7128, -74.0060, 34.0522, -118.2437); d < 3900 || d > 3975 {
		t.Fatalf("NYC-LA distance out of range: %f", d)
	}
	// Lower Manhattan to Times Square, a bit over 5 km.
	if d := HaversineKm(40.7128, -74.0060, 40.7589, -73.9851); d < 5.3 || d > 5.5 {
		t.Fatalf("short hop out of range: %f", d)
	}
}

func TestValidCoord(t *testing.T) {
	cases := []struct {
		lat, lng float64
		ok       bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{40.7128, -74.0060, true},
		{91, 0, false},
		{-91, 0, false},
		{0, 181, false},
		{0, -181, false},
	}
	for _, c := range cases {
		if got := ValidCoord(c.lat, c.lng); got != c.ok {
			t.Fatalf("ValidCoord(%f, %f) = %v, want %v", c.lat, c.lng, got, c.ok)
		}
	}
}

func TestValidCoordNonFinite(t *testing.T) {
	if ValidCoord(math.NaN(), 0) || ValidCoord(0, math.NaN()) {
		t.Fatal("NaN coordinate accepted")
	}
	if ValidCoord(math.Inf(1), 0) || ValidCoord(0, math.Inf(-1)) {
		t.Fatal("infinite coordinate accepted")
	}
}
