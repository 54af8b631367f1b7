package eta

import "testing"

func TestMinutesClampsToOne(t *testing.T) {
	if got := Minutes(0); got != 1 {
		t.Fatalf("expected 1 for zero distance, got %d", got)
	}
	// 0.2 km at 30 km/h is 0.4 minutes, floored to 0, clamped to 1.
	if got := Minutes(0.2); got != 1 {
		t.Fatalf("expected 1 for short hop, got %d", got)
	}
}

func TestMinutesFloors(t *testing.T) {
	// 2.3 km at 30 km/h is 4.6 minutes, floored to 4.
	if got := Minutes(2.3); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
	if got := Minutes(5.0); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestMinutesMonotonic(t *testing.T) {
	prev := 0
	for _, km := range []float64{0, 0.5, 1, 2.3, 5, 10, 42.7, 100} {
		m := Minutes(km)
		if m < prev {
			t.Fatalf("eta decreased at %f km: %d < %d", km, m, prev)
		}
		prev = m
	}
}
