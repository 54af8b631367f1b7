package geo

import (
	"math"
	"testing"
)

func TestHaversineZero(t *testing.T) {
	if d := HaversineKm(4.6108, -74.1569, 4.6108, -74.1569); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := HaversineKm(4.6108, -74.1569, 4.7, -74.0)
	b := HaversineKm(4.7, -74.0, 4.6108, -74.1569)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("expected symmetric distance, got %f vs %f", a, b)
	}
}

func TestHaversineEquatorFixture(t *testing.T) {
	// 0.1 degrees of latitude near the equator is roughly 11.1 km.
	d := HaversineKm(0, 0, 0.1, 0)
	if math.Abs(d-11.1) > 0.1 {
		t.Fatalf("expected ~11.1 km, got %f", d)
	}
}

func TestRoundKm(t *testing.T) {
	if got := RoundKm(2.345678); got != 2.35 {
		t.Fatalf("expected 2.35, got %f", got)
	}
	if got := RoundKm(2.3); got != 2.3 {
		t.Fatalf("expected 2.3, got %f", got)
	}
}
