package registry

import "context"

// DriverLocation is one driver's most recent known position.
type DriverLocation struct {
	DriverID string
	Lat      float64
	Lon      float64
}

// Registry exposes the latest known location per driver. Implementations
// return an empty slice, not an error, when no driver qualifies. Reads are
// snapshot reads; slightly stale positions are acceptable.
//
// This contract is the substitution point for scaling: the linear-scan
// consumers stay untouched when the backing store changes.
type Registry interface {
	LatestDriverLocations(ctx context.Context) ([]DriverLocation, error)
}
