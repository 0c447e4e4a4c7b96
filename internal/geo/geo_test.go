package geo

import "testing"

func TestDistanceMeters(t *testing.T) {
	// Wrigley Field (41.9484, -87.6553) to Willis Tower (41.8789, -87.6359) ~ 7.9 km
	d := DistanceMeters(41.9484, -87.6553, 41.8789, -87.6359)
	if d < 7000 || d > 9000 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceMetersSamePoint(t *testing.T) {
	if d := DistanceMeters(41.88, -87.63, 41.88, -87.63); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestDistanceMetersShortRange(t *testing.T) {
	// ~one Chicago block north-south is roughly 100m of latitude.
	d := DistanceMeters(41.8800, -87.6300, 41.8809, -87.6300)
	if d < 90 || d > 110 {
		t.Fatalf("unexpected block distance: %v", d)
	}
}
