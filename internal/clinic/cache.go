package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

// ErrCacheMiss is returned by a Cache when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
}

// NewRedisCache adapts a go-redis client to Cache.
func NewRedisCache(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedDirectory fronts ScheduleConfig with a read-through cache. Cache
// failures fall through to the wrapped directory. Schedules are edited
// outside this service, so an edit shows up once the entry's TTL lapses.
type CachedDirectory struct {
	Directory
	cache Cache
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCachedDirectory(inner Directory, cache Cache, ttl time.Duration, log zerolog.Logger) *CachedDirectory {
	return &CachedDirectory{Directory: inner, cache: cache, ttl: ttl, log: log}
}

func scheduleKey(clinicID string) string {
	return fmt.Sprintf("schedule:config:%s", clinicID)
}

func (d *CachedDirectory) ScheduleConfig(ctx context.Context, clinicID string) (schedule.ScheduleConfig, error) {
	key := scheduleKey(clinicID)

	raw, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var cfg schedule.ScheduleConfig
		if jerr := json.Unmarshal(raw, &cfg); jerr == nil {
			return cfg, nil
		}
		d.log.Warn().Str("clinic_id", clinicID).Msg("discarding undecodable cached schedule config")
	case !errors.Is(err, ErrCacheMiss):
		d.log.Warn().Err(err).Str("clinic_id", clinicID).Msg("schedule cache read failed")
	}

	cfg, err := d.Directory.ScheduleConfig(ctx, clinicID)
	if err != nil {
		return schedule.ScheduleConfig{}, err
	}

	if data, jerr := json.Marshal(cfg); jerr == nil {
		if serr := d.cache.Set(ctx, key, data, d.ttl); serr != nil {
			d.log.Warn().Err(serr).Str("clinic_id", clinicID).Msg("schedule cache write failed")
		}
	}
	return cfg, nil
}
