package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/registry"
)

// ErrNoDrivers is returned when the registry holds no driver with a known
// location.
var ErrNoDrivers = errors.New("no drivers available")

// Match is the nearest driver to a pickup point.
type Match struct {
	DriverID   string
	DistanceKm float64
}

// Service selects the nearest driver by great-circle distance. The scan is
// O(n) per call, fine at fleet scale; a spatial index would slot in behind
// the Registry contract without touching this code's callers.
type Service struct {
	Registry registry.Registry
}

func New(reg registry.Registry) *Service {
	return &Service{Registry: reg}
}

// Nearest returns the driver with the minimum distance to the pickup point.
// Ties go to the first driver encountered in registry order, so repeated
// calls against the same snapshot are deterministic.
func (s *Service) Nearest(ctx context.Context, pickupLat, pickupLon float64) (Match, error) {
	drivers, err := s.Registry.LatestDriverLocations(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("list driver locations: %w", err)
	}
	if len(drivers) == 0 {
		return Match{}, ErrNoDrivers
	}

	best := Match{DriverID: drivers[0].DriverID, DistanceKm: geo.HaversineKm(pickupLat, pickupLon, drivers[0].Lat, drivers[0].Lon)}
	for _, d := range drivers[1:] {
		dist := geo.HaversineKm(pickupLat, pickupLon, d.Lat, d.Lon)
		if dist < best.DistanceKm {
			best = Match{DriverID: d.DriverID, DistanceKm: dist}
		}
	}
	return best, nil
}
