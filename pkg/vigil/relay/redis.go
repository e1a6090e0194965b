package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chosenoffset/vigil/pkg/vigil"
)

const (
	latestKeyPrefix = "vigil:latest:"
	alertSetKey     = "vigil:alerts:recent"
	maxCachedAlerts = 100
)

// RedisCache mirrors the live feed into Redis: the latest reading per
// sensor under a string key and the recent alerts in a sorted set scored
// by creation time, so dashboards and other services can read current
// plant state without subscribing to the engine.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection. ttl bounds
// how long a latest-reading snapshot outlives its sensor going quiet.
func NewRedisCache(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "redis-cache"),
	}, nil
}

// Run drains the subscription until it closes or ctx is canceled. Cache
// write failures are logged and skipped.
func (c *RedisCache) Run(ctx context.Context, sub *vigil.Subscription) {
	readings := sub.Readings()
	alerts := sub.Alerts()
	for readings != nil || alerts != nil {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			if err := c.storeReading(ctx, r); err != nil {
				c.logger.Warn("reading cache write failed", "sensor", r.SensorID, "error", err)
			}
		case a, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			if err := c.storeAlert(ctx, a); err != nil {
				c.logger.Warn("alert cache write failed", "alert_id", a.ID, "error", err)
			}
		}
	}
}

func (c *RedisCache) storeReading(ctx context.Context, r vigil.SensorReading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, latestKeyPrefix+r.SensorID, payload, c.ttl).Err()
}

func (c *RedisCache) storeAlert(ctx context.Context, a vigil.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, alertSetKey, redis.Z{
		Score:  float64(a.CreatedAt.UnixMilli()),
		Member: payload,
	})
	pipe.ZRemRangeByRank(ctx, alertSetKey, 0, -int64(maxCachedAlerts)-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Latest returns the cached latest reading for a sensor, or false when the
// sensor has no fresh snapshot.
func (c *RedisCache) Latest(ctx context.Context, sensorID string) (vigil.SensorReading, bool, error) {
	var r vigil.SensorReading
	payload, err := c.client.Get(ctx, latestKeyPrefix+sensorID).Bytes()
	if err == redis.Nil {
		return r, false, nil
	}
	if err != nil {
		return r, false, fmt.Errorf("get latest reading: %w", err)
	}
	if err := json.Unmarshal(payload, &r); err != nil {
		return r, false, fmt.Errorf("decode latest reading: %w", err)
	}
	return r, true, nil
}

// RecentAlerts returns up to limit cached alerts, newest first.
func (c *RedisCache) RecentAlerts(ctx context.Context, limit int) ([]vigil.Alert, error) {
	if limit <= 0 || limit > maxCachedAlerts {
		limit = maxCachedAlerts
	}
	members, err := c.client.ZRevRange(ctx, alertSetKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get recent alerts: %w", err)
	}
	alerts := make([]vigil.Alert, 0, len(members))
	for _, m := range members {
		var a vigil.Alert
		if err := json.Unmarshal([]byte(m), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Close releases the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
