package registry

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-dispatch/internal/models"
)

// RedisGeo implements Registry on top of Redis GEO commands. GEOADD keeps
// only the newest position per member, which matches the latest-record-per-
// driver contract. Positions are written either directly by the API process
// or by the Kafka consumer projecting location events.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, ev models.LocationEvent) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: ev.Lon,
		Latitude:  ev.Lat,
		Name:      ev.ActorID,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(ev.ActorID), map[string]interface{}{
		"address":     ev.Address,
		"recorded_at": ev.RecordedAt.Format(time.RFC3339),
	}).Err()
}

// LatestDriverLocations lists every driver in the geo set with its stored
// position. Member order follows the sorted-set score, which is stable for
// a fixed snapshot, so matcher tie-breaking stays deterministic.
func (r *RedisGeo) LatestDriverLocations(ctx context.Context) ([]DriverLocation, error) {
	members, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []DriverLocation{}, nil
	}
	positions, err := r.client.GeoPos(ctx, r.key, members...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DriverLocation, 0, len(members))
	for i, m := range members {
		if i >= len(positions) || positions[i] == nil {
			continue
		}
		out = append(out, DriverLocation{
			DriverID: m,
			Lat:      positions[i].Latitude,
			Lon:      positions[i].Longitude,
		})
	}
	return out, nil
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
