package geo

import (
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	// One thousandth of a degree of latitude is about 111.2 m.
	a := Point{Lat: 0, Lon: 0}
	b := Point{Lat: 0.001, Lon: 0}
	d := DistanceMeters(a, b)
	if math.Abs(d-111.19) > 1 {
		t.Errorf("expected ~111.19m, got %f", d)
	}
}

func TestDistanceMetersZero(t *testing.T) {
	p := Point{Lat: -37.8136, Lon: 144.9631}
	if d := DistanceMeters(p, p); d != 0 {
		t.Errorf("expected 0, got %f", d)
	}
}

func TestDistanceMetersSymmetric(t *testing.T) {
	a := Point{Lat: -37.8136, Lon: 144.9631}
	b := Point{Lat: -37.8140, Lon: 144.9650}
	if d1, d2 := DistanceMeters(a, b), DistanceMeters(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", d1, d2)
	}
}

func TestDistanceMetersSmallOffsets(t *testing.T) {
	// Offsets in the single-digit meter range, the scale stop dedup works at.
	a := Point{Lat: -37.8136, Lon: 144.9631}
	b := Point{Lat: a.Lat + 0.00003, Lon: a.Lon}
	d := DistanceMeters(a, b)
	if d < 3 || d > 4 {
		t.Errorf("expected 3-4m, got %f", d)
	}
}
