package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// generationKey holds the shared generation counter.
const generationKey = "generation"

// Redis is a cache shared by every process pointed at the same server. The
// generation counter lives in Redis so that an ingestion run in one process
// invalidates the others.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to the server at url and verifies the connection.
func NewRedis(ctx context.Context, url, prefix string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "cache: connect to redis at %s", opts.Addr)
	}

	zap.L().Info("cache: connected to redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
	)
	return NewRedisFromClient(rdb, prefix, ttl), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: get %s", key)
	}
	return val, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, val []byte) error {
	if err := r.client.Set(ctx, r.key(key), string(val), r.ttl).Err(); err != nil {
		return eris.Wrapf(err, "cache: set %s", key)
	}
	return nil
}

// Generation implements Cache. A missing counter is generation zero.
func (r *Redis) Generation(ctx context.Context) (uint64, error) {
	val, err := r.client.Get(ctx, r.key(generationKey)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "cache: get generation")
	}
	gen, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "cache: parse generation %q", val)
	}
	return gen, nil
}

// Invalidate implements Cache. Entries of older generations are left to
// expire through their TTL.
func (r *Redis) Invalidate(ctx context.Context) (uint64, error) {
	gen, err := r.client.Incr(ctx, r.key(generationKey)).Result()
	if err != nil {
		return 0, eris.Wrap(err, "cache: bump generation")
	}
	return uint64(gen), nil
}

// Close implements Cache.
func (r *Redis) Close() error {
	return r.client.Close()
}
