package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kirinyoku/flight-wizard/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

type Cache struct {
	rdb *redis.Client
	sf  singleflight.Group
}

func New(client *redis.Client) *Cache {
	return &Cache{rdb: client}
}

func (c *Cache) GetString(ctx context.Context, key string) (string, bool, error) {
	s, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return s, true, nil
}

func (c *Cache) SetString(
	ctx context.Context,
	key string,
	val string,
	ttl time.Duration,
) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T

	s, ok, err := c.GetString(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}

	var out T
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return zero, false, err
	}

	return out, true, nil
}

func SetJSON(
	ctx context.Context,
	c *Cache,
	key string,
	val any,
	ttl time.Duration,
) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.SetString(ctx, key, string(b), ttl)
}

// GetOrSetJSON returns the cached value under key, loading and storing it on
// a miss. Concurrent misses for one key share a single load.
func GetOrSetJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	if v, ok, err := GetJSON[T](ctx, c, key); err != nil || ok {
		return v, err
	}

	vAny, err, _ := c.sf.Do(key, func() (any, error) {
		if v2, ok2, err2 := GetJSON[T](ctx, c, key); err2 != nil || ok2 {
			return v2, err2
		}
		v3, err3 := loader(ctx)
		if err3 != nil {
			return nil, err3
		}
		_ = SetJSON(ctx, c, key, v3, ttl)
		return v3, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	v, ok := vAny.(T)
	if !ok {
		var zero T
		return zero, errors.New("type assertion failed")
	}

	return v, nil
}

// SeatMapCache caches rendered seat maps per flight number. Taken seats
// depend only on the number, so one entry serves every session.
type SeatMapCache struct {
	cache *Cache
	ttl   time.Duration
}

func NewSeatMapCache(cache *Cache, ttl time.Duration) *SeatMapCache {
	return &SeatMapCache{cache: cache, ttl: ttl}
}

func (s *SeatMapCache) SeatMap(
	ctx context.Context,
	flightNumber string,
	load func(ctx context.Context) ([]domain.SeatWithStatus, error),
) ([]domain.SeatWithStatus, error) {
	return GetOrSetJSON(ctx, s.cache, KeySeatMap(flightNumber), s.ttl, load)
}
