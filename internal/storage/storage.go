package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

var (
	// ErrActorNotFound means the referenced identity does not exist.
	ErrActorNotFound = errors.New("actor not found")
	// ErrNoLocation means the actor has never recorded a location.
	ErrNoLocation = errors.New("no location recorded")
	// ErrOpenExists is the losing side of the open-engagement uniqueness
	// guard: the customer already has an open engagement.
	ErrOpenExists = errors.New("open engagement already exists")
	// ErrNoOpenEngagement means no open engagement references the actor.
	ErrNoOpenEngagement = errors.New("no open engagement")
)

// ActorStore persists identities. Account management proper lives in a
// different subsystem; the dispatch engine only needs id, role and plate.
type ActorStore interface {
	CreateActor(ctx context.Context, a *models.Actor) error
	GetActor(ctx context.Context, id string) (*models.Actor, error)
}

// LocationStore is the append-only position log. Records are never mutated;
// the latest record per actor defines the current location.
type LocationStore interface {
	AppendLocation(ctx context.Context, rec *models.LocationRecord) error
	// LatestLocation returns the most recent record for the actor, or
	// ErrNoLocation when none exists.
	LatestLocation(ctx context.Context, actorID string) (*models.LocationRecord, error)
}

// EngagementStore persists the engagement state machine. Both mutating
// operations are conditional writes: the store, not the caller, decides the
// race. A read-then-write at this layer would reintroduce the double-assign
// and double-close bugs.
type EngagementStore interface {
	// InsertOpen atomically checks that the customer has no open engagement
	// and inserts a new one. Returns ErrOpenExists when the check fails,
	// including when a concurrent insert wins the race.
	InsertOpen(ctx context.Context, e *models.Engagement) error
	// CloseOpenFor transitions the actor's open engagement (as customer or
	// driver) to closed, stamping closed_at exactly once, and returns the
	// updated row. Returns ErrNoOpenEngagement when nothing was open,
	// including when a concurrent close wins the race.
	CloseOpenFor(ctx context.Context, actorID string, at time.Time) (*models.Engagement, error)
	// HasOpenByCustomer is the fast-path precondition read. The authoritative
	// guard stays in InsertOpen.
	HasOpenByCustomer(ctx context.Context, customerID string) (bool, error)
}
