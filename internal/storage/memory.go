package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/registry"
)

// MemoryStore backs local runs and tests. One mutex guards everything, so
// the conditional-write semantics match what the SQL store enforces with
// its partial unique index and conditional update.
type MemoryStore struct {
	mu          sync.Mutex
	actors      map[string]models.Actor
	locations   map[string][]models.LocationRecord
	engagements map[string]models.Engagement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actors:      make(map[string]models.Actor),
		locations:   make(map[string][]models.LocationRecord),
		engagements: make(map[string]models.Engagement),
	}
}

func (m *MemoryStore) CreateActor(ctx context.Context, a *models.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.ID] = *a
	return nil
}

func (m *MemoryStore) GetActor(ctx context.Context, id string) (*models.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[id]
	if !ok {
		return nil, ErrActorNotFound
	}
	return &a, nil
}

func (m *MemoryStore) AppendLocation(ctx context.Context, rec *models.LocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[rec.ActorID] = append(m.locations[rec.ActorID], *rec)
	return nil
}

func (m *MemoryStore) LatestLocation(ctx context.Context, actorID string) (*models.LocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.locations[actorID]
	if len(recs) == 0 {
		return nil, ErrNoLocation
	}
	latest := recs[0]
	for _, r := range recs[1:] {
		if !r.RecordedAt.Before(latest.RecordedAt) {
			latest = r
		}
	}
	return &latest, nil
}

// LatestDriverLocations makes the memory store double as a driver registry,
// the fallback when neither Redis nor Postgres is configured. Drivers are
// listed in id order so registry iteration is stable.
func (m *MemoryStore) LatestDriverLocations(ctx context.Context) ([]registry.DriverLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.actors))
	for id, a := range m.actors {
		if a.IsDriver {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]registry.DriverLocation, 0, len(ids))
	for _, id := range ids {
		recs := m.locations[id]
		if len(recs) == 0 {
			continue
		}
		latest := recs[0]
		for _, r := range recs[1:] {
			if !r.RecordedAt.Before(latest.RecordedAt) {
				latest = r
			}
		}
		out = append(out, registry.DriverLocation{DriverID: id, Lat: latest.Lat, Lon: latest.Lon})
	}
	return out, nil
}

func (m *MemoryStore) InsertOpen(ctx context.Context, e *models.Engagement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.engagements {
		if existing.CustomerID == e.CustomerID && existing.Status == models.StatusOpen {
			return ErrOpenExists
		}
	}
	m.engagements[e.ID] = *e
	return nil
}

func (m *MemoryStore) CloseOpenFor(ctx context.Context, actorID string, at time.Time) (*models.Engagement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var target *models.Engagement
	for id := range m.engagements {
		e := m.engagements[id]
		if e.Status != models.StatusOpen {
			continue
		}
		if e.CustomerID != actorID && e.DriverID != actorID {
			continue
		}
		if target == nil || e.CreatedAt.Before(target.CreatedAt) {
			candidate := e
			target = &candidate
		}
	}
	if target == nil {
		return nil, ErrNoOpenEngagement
	}
	closedAt := at
	if closedAt.Before(target.CreatedAt) {
		closedAt = target.CreatedAt
	}
	target.Status = models.StatusClosed
	target.ClosedAt = &closedAt
	m.engagements[target.ID] = *target
	return target, nil
}

func (m *MemoryStore) HasOpenByCustomer(ctx context.Context, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.engagements {
		if e.CustomerID == customerID && e.Status == models.StatusOpen {
			return true, nil
		}
	}
	return false, nil
}

// GetEngagement is a test helper; the engine never reads engagements by id.
func (m *MemoryStore) GetEngagement(id string) (models.Engagement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engagements[id]
	return e, ok
}
