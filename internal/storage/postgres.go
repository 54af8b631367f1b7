package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/registry"
)

const pgUniqueViolation = "23505"

// PostgresStore is the durable source of truth. The open-engagement
// uniqueness lives in a partial unique index (migrations/001_init.sql), and
// closing is one conditional UPDATE, so the request layer stays stateless
// and horizontally scalable.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateActor(ctx context.Context, a *models.Actor) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO actors(id, username, is_driver, plate, created_at) VALUES($1,$2,$3,$4,$5)`,
		a.ID, a.Username, a.IsDriver, a.Plate, a.CreatedAt)
	return err
}

func (p *PostgresStore) GetActor(ctx context.Context, id string) (*models.Actor, error) {
	var a models.Actor
	err := p.db.QueryRowContext(ctx,
		`SELECT id, username, is_driver, plate, created_at FROM actors WHERE id = $1`, id).
		Scan(&a.ID, &a.Username, &a.IsDriver, &a.Plate, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) AppendLocation(ctx context.Context, rec *models.LocationRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO location_records(id, actor_id, address, latitude, longitude, recorded_at) VALUES($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.ActorID, rec.Address, rec.Lat, rec.Lon, rec.RecordedAt)
	return err
}

func (p *PostgresStore) LatestLocation(ctx context.Context, actorID string) (*models.LocationRecord, error) {
	var rec models.LocationRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT id, actor_id, address, latitude, longitude, recorded_at
		 FROM location_records WHERE actor_id = $1
		 ORDER BY recorded_at DESC LIMIT 1`, actorID).
		Scan(&rec.ID, &rec.ActorID, &rec.Address, &rec.Lat, &rec.Lon, &rec.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoLocation
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestDriverLocations projects the newest record per driver. DISTINCT ON
// with the matching ORDER BY picks exactly one row per actor; drivers with
// no records simply don't appear.
func (p *PostgresStore) LatestDriverLocations(ctx context.Context) ([]registry.DriverLocation, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT ON (l.actor_id) l.actor_id, l.latitude, l.longitude
		 FROM location_records l
		 JOIN actors a ON a.id = l.actor_id
		 WHERE a.is_driver
		 ORDER BY l.actor_id, l.recorded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []registry.DriverLocation{}
	for rows.Next() {
		var d registry.DriverLocation
		if err := rows.Scan(&d.DriverID, &d.Lat, &d.Lon); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) InsertOpen(ctx context.Context, e *models.Engagement) error {
	pickup, err := json.Marshal(e.Pickup)
	if err != nil {
		return fmt.Errorf("marshal pickup snapshot: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO engagements(id, customer_id, driver_id, pickup, distance_km, estimated_minutes, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.CustomerID, e.DriverID, pickup, e.DistanceKm, e.EstimatedMin, e.Status, e.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		// Lost the race on the partial unique index.
		return ErrOpenExists
	}
	return err
}

// CloseOpenFor closes the actor's oldest open engagement in one statement.
// The outer status predicate is what makes a concurrent double close resolve
// to exactly one winner: the loser's UPDATE matches zero rows after the
// winner commits.
func (p *PostgresStore) CloseOpenFor(ctx context.Context, actorID string, at time.Time) (*models.Engagement, error) {
	var (
		e      models.Engagement
		pickup []byte
	)
	err := p.db.QueryRowContext(ctx,
		`UPDATE engagements
		 SET status = $3, closed_at = GREATEST($2::timestamptz, created_at)
		 WHERE status = $4 AND id = (
		 	SELECT id FROM engagements
		 	WHERE status = $4 AND (customer_id = $1 OR driver_id = $1)
		 	ORDER BY created_at
		 	LIMIT 1
		 )
		 RETURNING id, customer_id, driver_id, pickup, distance_km, estimated_minutes, status, created_at, closed_at`,
		actorID, at, models.StatusClosed, models.StatusOpen).
		Scan(&e.ID, &e.CustomerID, &e.DriverID, &pickup, &e.DistanceKm, &e.EstimatedMin, &e.Status, &e.CreatedAt, &e.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOpenEngagement
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pickup, &e.Pickup); err != nil {
		return nil, fmt.Errorf("unmarshal pickup snapshot: %w", err)
	}
	return &e, nil
}

func (p *PostgresStore) HasOpenByCustomer(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM engagements WHERE customer_id = $1 AND status = $2)`,
		customerID, models.StatusOpen).Scan(&exists)
	return exists, err
}
