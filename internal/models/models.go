package models

import (
	"fmt"
	"time"
)

// Actor is an identity known to the dispatch service. The account subsystem
// owns the full profile; we only read identity and role.
type Actor struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsDriver  bool      `json:"is_driver"`
	Plate     string    `json:"plate,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LocationRecord is one append-only position sample for an actor.
// "Current location" is always the most recent record per actor.
type LocationRecord struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	Address    string    `json:"address"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ValidateCoords rejects out-of-range coordinates before they enter the
// location store; downstream distance math assumes valid inputs.
func ValidateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90,90]", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180,180]", lon)
	}
	return nil
}

// LocationEvent is the wire shape published to Kafka when an actor records
// a location. The consumer only projects driver events into the registry.
type LocationEvent struct {
	ActorID    string    `json:"actor_id"`
	IsDriver   bool      `json:"is_driver"`
	Address    string    `json:"address"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Engagement lifecycle states. There is no cancelled or expired state.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// PickupSnapshot is the customer's location frozen at engagement creation.
// Later location updates never alter it.
type PickupSnapshot struct {
	LocationID string  `json:"location_id"`
	Address    string  `json:"address"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Engagement records a single customer-to-driver match from assignment to
// closure.
type Engagement struct {
	ID           string         `json:"id"`
	CustomerID   string         `json:"customer_id"`
	DriverID     string         `json:"driver_id"`
	Pickup       PickupSnapshot `json:"pickup"`
	DistanceKm   float64        `json:"distance_km"`
	EstimatedMin int            `json:"estimated_minutes"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
}

// Offer is pushed to a connected driver when an engagement is created.
type Offer struct {
	EngagementID string  `json:"engagement_id"`
	CustomerID   string  `json:"customer_id"`
	Address      string  `json:"address"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	DistanceKm   float64 `json:"distance_km"`
	EstimatedMin int     `json:"estimated_minutes"`
}
