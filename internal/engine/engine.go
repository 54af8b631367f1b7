package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/delivery-dispatch/internal/eta"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/matcher"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/storage"
)

// Per-request business outcomes. None of these is retried by the engine;
// callers may retry create after fixing their state (e.g. recording a
// location). A write-race loser is reported identically to the logical
// error, so callers cannot tell a true race from a stale read.
var (
	ErrRoleViolation      = errors.New("drivers cannot request deliveries")
	ErrNoLocation         = errors.New("customer has no recorded location")
	ErrAlreadyEngaged     = errors.New("customer already has an open engagement")
	ErrNoDriverAvailable  = errors.New("no driver available")
	ErrNoActiveEngagement = errors.New("no active engagement")
)

// Matcher selects the nearest available driver for a pickup point.
type Matcher interface {
	Nearest(ctx context.Context, pickupLat, pickupLon float64) (matcher.Match, error)
}

// Notifier pushes the offer to the matched driver. Best-effort: a failed
// push never fails the create.
type Notifier interface {
	Offer(driverID string, offer models.Offer) error
}

// Engine is the only component with side effects on shared state. It
// orchestrates eligibility checks, matching, and the open/closed lifecycle;
// atomicity of the two transitions is delegated to the engagement store's
// conditional writes.
type Engine struct {
	Actors      storage.ActorStore
	Locations   storage.LocationStore
	Engagements storage.EngagementStore
	Matcher     Matcher
	Notifier    Notifier
	Logger      *slog.Logger
}

func New(actors storage.ActorStore, locations storage.LocationStore, engagements storage.EngagementStore, m Matcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Actors: actors, Locations: locations, Engagements: engagements, Matcher: m, Logger: logger}
}

// CreateResult pairs the persisted engagement with the matched driver's
// public identity for the caller's display. The driver identity is composed
// into the response, not stored.
type CreateResult struct {
	Engagement *models.Engagement
	Driver     *models.Actor
}

// Create runs the four preconditions in order (the first failure decides
// the error), matches the nearest driver, and inserts the engagement. The
// pre-insert open check only orders the errors; the insert itself is the
// authoritative guard against concurrent creates.
func (e *Engine) Create(ctx context.Context, customerID string) (*CreateResult, error) {
	actor, err := e.Actors.GetActor(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load customer %s: %w", customerID, err)
	}
	if actor.IsDriver {
		return nil, ErrRoleViolation
	}

	loc, err := e.Locations.LatestLocation(ctx, customerID)
	if errors.Is(err, storage.ErrNoLocation) {
		return nil, ErrNoLocation
	}
	if err != nil {
		return nil, fmt.Errorf("load customer location: %w", err)
	}

	open, err := e.Engagements.HasOpenByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("check open engagement: %w", err)
	}
	if open {
		return nil, ErrAlreadyEngaged
	}

	match, err := e.Matcher.Nearest(ctx, loc.Lat, loc.Lon)
	if errors.Is(err, matcher.ErrNoDrivers) {
		return nil, ErrNoDriverAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("match driver: %w", err)
	}

	driver, err := e.Actors.GetActor(ctx, match.DriverID)
	if errors.Is(err, storage.ErrActorNotFound) {
		// Registry lag: the matched actor is gone. Same outcome for the
		// caller as an empty registry.
		return nil, ErrNoDriverAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("load driver %s: %w", match.DriverID, err)
	}
	if !driver.IsDriver {
		// Role changed since the registry entry was written.
		return nil, ErrNoDriverAvailable
	}

	eng := &models.Engagement{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		DriverID:   driver.ID,
		Pickup: models.PickupSnapshot{
			LocationID: loc.ID,
			Address:    loc.Address,
			Lat:        loc.Lat,
			Lon:        loc.Lon,
		},
		DistanceKm:   geo.RoundKm(match.DistanceKm),
		EstimatedMin: eta.Minutes(match.DistanceKm),
		Status:       models.StatusOpen,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.Engagements.InsertOpen(ctx, eng); err != nil {
		if errors.Is(err, storage.ErrOpenExists) {
			return nil, ErrAlreadyEngaged
		}
		return nil, fmt.Errorf("insert engagement: %w", err)
	}

	observability.EngagementsCreated.Inc()
	e.Logger.Info("engagement created",
		"engagement_id", eng.ID,
		"customer_id", customerID,
		"driver_id", driver.ID,
		"distance_km", eng.DistanceKm,
		"estimated_minutes", eng.EstimatedMin,
	)

	if e.Notifier != nil {
		if err := e.Notifier.Offer(driver.ID, models.Offer{
			EngagementID: eng.ID,
			CustomerID:   customerID,
			Address:      eng.Pickup.Address,
			Lat:          eng.Pickup.Lat,
			Lon:          eng.Pickup.Lon,
			DistanceKm:   eng.DistanceKm,
			EstimatedMin: eng.EstimatedMin,
		}); err != nil {
			e.Logger.Warn("driver offer push failed", "driver_id", driver.ID, "error", err)
		}
	}

	return &CreateResult{Engagement: eng, Driver: driver}, nil
}

// Close transitions the actor's open engagement to closed. Customer and
// driver are symmetric initiators; under a race between them exactly one
// call succeeds and the other reports ErrNoActiveEngagement.
func (e *Engine) Close(ctx context.Context, actorID string) (*models.Engagement, error) {
	eng, err := e.Engagements.CloseOpenFor(ctx, actorID, time.Now().UTC())
	if errors.Is(err, storage.ErrNoOpenEngagement) {
		return nil, ErrNoActiveEngagement
	}
	if err != nil {
		return nil, fmt.Errorf("close engagement: %w", err)
	}

	observability.EngagementsClosed.Inc()
	e.Logger.Info("engagement closed",
		"engagement_id", eng.ID,
		"actor_id", actorID,
		"closed_at", eng.ClosedAt,
	)
	return eng, nil
}
