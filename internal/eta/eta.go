package eta

import "math"

// AverageSpeedKmh is the city-wide average used for travel-time estimates.
// A routing engine would replace this, but a flat average is good enough
// for fleet-scale dispatch.
const AverageSpeedKmh = 30.0

// Minutes estimates travel time for a distance in kilometers: the duration
// at AverageSpeedKmh, floored to whole minutes, then clamped to a minimum
// of 1. The floor-then-clamp order is part of the persisted contract; a
// zero-distance match still reports one minute.
func Minutes(km float64) int {
	m := int(math.Floor(km / AverageSpeedKmh * 60))
	if m < 1 {
		m = 1
	}
	return m
}
