package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/delivery-dispatch/internal/matcher"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine() (*Engine, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	e := New(store, store, store, matcher.New(store), testLogger())
	return e, store
}

func addActor(t *testing.T, store *storage.MemoryStore, id, username string, isDriver bool) {
	t.Helper()
	a := &models.Actor{ID: id, Username: username, IsDriver: isDriver, CreatedAt: time.Now().UTC()}
	if isDriver {
		a.Plate = "XYZ-" + id
	}
	if err := store.CreateActor(context.Background(), a); err != nil {
		t.Fatalf("create actor: %v", err)
	}
}

func addLocation(t *testing.T, store *storage.MemoryStore, actorID string, lat, lon float64) {
	t.Helper()
	rec := &models.LocationRecord{
		ID:         "loc-" + actorID,
		ActorID:    actorID,
		Address:    "somewhere",
		Lat:        lat,
		Lon:        lon,
		RecordedAt: time.Now().UTC(),
	}
	if err := store.AppendLocation(context.Background(), rec); err != nil {
		t.Fatalf("append location: %v", err)
	}
}

func TestCreateHappyPath(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)

	// ~2.3 km and ~5.0 km north of the pickup point.
	addActor(t, store, "near", "bob", true)
	addLocation(t, store, "near", 4.6108+2.3/111.19, -74.1569)
	addActor(t, store, "zfar", "carol", true)
	addLocation(t, store, "zfar", 4.6108+5.0/111.19, -74.1569)

	res, err := e.Create(context.Background(), "cust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Driver.ID != "near" {
		t.Fatalf("expected nearest driver, got %s", res.Driver.ID)
	}
	if res.Driver.Plate == "" {
		t.Fatalf("expected driver plate in response")
	}
	if math.Abs(res.Engagement.DistanceKm-2.3) > 0.02 {
		t.Fatalf("expected ~2.3 km, got %f", res.Engagement.DistanceKm)
	}
	if res.Engagement.EstimatedMin != 4 {
		t.Fatalf("expected 4 minutes, got %d", res.Engagement.EstimatedMin)
	}
	if res.Engagement.Status != models.StatusOpen {
		t.Fatalf("expected open status, got %s", res.Engagement.Status)
	}
	if res.Engagement.Pickup.Lat != 4.6108 || res.Engagement.Pickup.Lon != -74.1569 {
		t.Fatalf("pickup snapshot mismatch: %+v", res.Engagement.Pickup)
	}
}

func TestCreateRoleViolation(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "drv", "dave", true)
	// Role is checked first, before the missing location would matter.
	if _, err := e.Create(context.Background(), "drv"); !errors.Is(err, ErrRoleViolation) {
		t.Fatalf("expected ErrRoleViolation, got %v", err)
	}
}

func TestCreateNoLocation(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	if _, err := e.Create(context.Background(), "cust"); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("expected ErrNoLocation, got %v", err)
	}
}

func TestCreateNoDriverAvailable(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)
	// A driver with no location record does not qualify.
	addActor(t, store, "drv", "dave", true)
	if _, err := e.Create(context.Background(), "cust"); !errors.Is(err, ErrNoDriverAvailable) {
		t.Fatalf("expected ErrNoDriverAvailable, got %v", err)
	}
}

type fixedMatcher struct{ m matcher.Match }

func (f fixedMatcher) Nearest(ctx context.Context, lat, lon float64) (matcher.Match, error) {
	return f.m, nil
}

func TestCreateStaleRegistryEntry(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)
	// The registry hands back an actor that no longer exists.
	e.Matcher = fixedMatcher{m: matcher.Match{DriverID: "ghost", DistanceKm: 1}}
	if _, err := e.Create(context.Background(), "cust"); !errors.Is(err, ErrNoDriverAvailable) {
		t.Fatalf("expected ErrNoDriverAvailable, got %v", err)
	}
}

func TestCreateAlreadyEngaged(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)
	addActor(t, store, "drv", "dave", true)
	addLocation(t, store, "drv", 4.62, -74.15)

	if _, err := e.Create(context.Background(), "cust"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := e.Create(context.Background(), "cust"); !errors.Is(err, ErrAlreadyEngaged) {
		t.Fatalf("expected ErrAlreadyEngaged, got %v", err)
	}
}

func TestCreateConcurrentSingleWinner(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)
	addActor(t, store, "drv", "dave", true)
	addLocation(t, store, "drv", 4.62, -74.15)

	const n = 2
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Create(context.Background(), "cust")
		}(i)
	}
	wg.Wait()

	var created, engaged int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrAlreadyEngaged):
			engaged++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 || engaged != 1 {
		t.Fatalf("expected exactly one winner, got created=%d engaged=%d", created, engaged)
	}
}

func TestCloseByCustomerAndByDriver(t *testing.T) {
	for _, closer := range []string{"cust", "drv"} {
		e, store := newTestEngine()
		addActor(t, store, "cust", "alice", false)
		addLocation(t, store, "cust", 4.6108, -74.1569)
		addActor(t, store, "drv", "dave", true)
		addLocation(t, store, "drv", 4.62, -74.15)

		res, err := e.Create(context.Background(), "cust")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		closed, err := e.Close(context.Background(), closer)
		if err != nil {
			t.Fatalf("close by %s: %v", closer, err)
		}
		if closed.ID != res.Engagement.ID {
			t.Fatalf("closed the wrong engagement")
		}
		if closed.Status != models.StatusClosed || closed.ClosedAt == nil {
			t.Fatalf("expected closed with timestamp, got %+v", closed)
		}
		if closed.ClosedAt.Before(closed.CreatedAt) {
			t.Fatalf("closed_at %v before created_at %v", closed.ClosedAt, closed.CreatedAt)
		}
	}
}

func TestCloseNoActiveEngagement(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	if _, err := e.Close(context.Background(), "cust"); !errors.Is(err, ErrNoActiveEngagement) {
		t.Fatalf("expected ErrNoActiveEngagement, got %v", err)
	}
}

func TestCloseConcurrentExactlyOnce(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)
	addActor(t, store, "drv", "dave", true)
	addLocation(t, store, "drv", 4.62, -74.15)

	res, err := e.Create(context.Background(), "cust")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	results := make([]*models.Engagement, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, actor := range []string{"cust", "drv"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			results[i], errs[i] = e.Close(context.Background(), actor)
		}(i, actor)
	}
	wg.Wait()

	var closed, missed int
	var winner *models.Engagement
	for i := range errs {
		switch {
		case errs[i] == nil:
			closed++
			winner = results[i]
		case errors.Is(errs[i], ErrNoActiveEngagement):
			missed++
		default:
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	if closed != 1 || missed != 1 {
		t.Fatalf("expected exactly one close, got closed=%d missed=%d", closed, missed)
	}

	persisted, ok := store.GetEngagement(res.Engagement.ID)
	if !ok {
		t.Fatalf("engagement not persisted")
	}
	if persisted.ClosedAt == nil || !persisted.ClosedAt.Equal(*winner.ClosedAt) {
		t.Fatalf("persisted closed_at %v does not match response %v", persisted.ClosedAt, winner.ClosedAt)
	}
}

func TestReengagementAfterClose(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)
	addActor(t, store, "drv", "dave", true)
	addLocation(t, store, "drv", 4.62, -74.15)

	if _, err := e.Create(context.Background(), "cust"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := e.Close(context.Background(), "cust"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Create(context.Background(), "cust"); err != nil {
		t.Fatalf("create after close should succeed, got %v", err)
	}
}

func TestPickupSnapshotImmutable(t *testing.T) {
	e, store := newTestEngine()
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)
	addActor(t, store, "drv", "dave", true)
	addLocation(t, store, "drv", 4.62, -74.15)

	res, err := e.Create(context.Background(), "cust")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A later move must not rewrite the frozen snapshot.
	rec := &models.LocationRecord{
		ID: "loc-cust-2", ActorID: "cust", Address: "elsewhere",
		Lat: 5.0, Lon: -75.0, RecordedAt: time.Now().UTC(),
	}
	if err := store.AppendLocation(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	persisted, ok := store.GetEngagement(res.Engagement.ID)
	if !ok {
		t.Fatalf("engagement not persisted")
	}
	if persisted.Pickup.Lat != 4.6108 || persisted.Pickup.Lon != -74.1569 {
		t.Fatalf("snapshot changed: %+v", persisted.Pickup)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	offers []models.Offer
}

func (r *recordingNotifier) Offer(driverID string, offer models.Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, offer)
	return nil
}

func TestCreateNotifiesMatchedDriver(t *testing.T) {
	e, store := newTestEngine()
	n := &recordingNotifier{}
	e.Notifier = n
	addActor(t, store, "cust", "alice", false)
	addLocation(t, store, "cust", 4.6108, -74.1569)
	addActor(t, store, "drv", "dave", true)
	addLocation(t, store, "drv", 4.62, -74.15)

	res, err := e.Create(context.Background(), "cust")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(n.offers) != 1 {
		t.Fatalf("expected one offer, got %d", len(n.offers))
	}
	if n.offers[0].EngagementID != res.Engagement.ID {
		t.Fatalf("offer for wrong engagement")
	}
}
