package cache

import (
	"context"
	"errors"
	"time"

	rcache "github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared by every replica through Redis. Values go
// through go-redis/cache, optionally fronted by a per-process TinyLFU tier.
type RedisStore struct {
	rdb  *redis.Client
	data *rcache.Cache
}

var _ Store = (*RedisStore)(nil)

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	// URL is a redis:// or rediss:// URL.
	URL string
	// LocalCacheSize enables an in-process TinyLFU tier of this many entries.
	// Invalidations do not reach other replicas' local tiers, so entries there
	// are bounded by LocalCacheTTL instead. Zero disables the tier.
	LocalCacheSize int
	LocalCacheTTL  time.Duration
	// DialTimeout bounds the initial ping.
	DialTimeout time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)

	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	// check redis connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return newRedisStore(rdb, opts), nil
}

func newRedisStore(rdb *redis.Client, opts RedisOptions) *RedisStore {
	co := &rcache.Options{Redis: rdb}
	if opts.LocalCacheSize > 0 {
		ttl := opts.LocalCacheTTL
		if ttl <= 0 {
			ttl = time.Second
		}
		co.LocalCache = rcache.NewTinyLFU(opts.LocalCacheSize, ttl)
	}
	return &RedisStore{rdb: rdb, data: rcache.New(co)}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.data.Get(ctx, key, &val)
	if errors.Is(err, rcache.ErrCacheMiss) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return s.data.Set(&rcache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: val,
		TTL:   ttl,
	})
}

func (s *RedisStore) Purge(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.data.Delete(ctx, k); err != nil && !errors.Is(err, rcache.ErrCacheMiss) {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
