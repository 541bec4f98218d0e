package altergolden

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
)

// ErrStoreMiss is returned by BackingStore.Get when the key does not exist.
// Callers treat a miss as "use a default and let hydration fill it in",
// never as a failure.
var ErrStoreMiss = errors.New("key not found in backing store")

// BackingStore is the durable half of every cache namespace: a network
// key-value store holding opaque values with server-side TTLs. It owns no
// data of its own; it's a transport to the external store shared by every
// bot process.
//
// Delete reports whether the key existed at the moment of deletion. That
// single bit is what the cross-process scheduler's delete-then-act ordering
// is built on, so implementations must source it from an atomic
// delete (redis DEL's removed-key count).
type BackingStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (existed bool, err error)
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisStore implements BackingStore over a redis client, scoping every
// key under a configured prefix so multiple deployments can share one
// redis instance.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a RedisStore from the given config. The connection
// is established lazily; call Ping to verify reachability.
func NewRedisStore(cfg *RedisConfig, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(
		&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
		},
	)
	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger.With(loggerNameKey, "redis_store"),
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStoreMiss
	}
	if err != nil {
		s.logger.DebugContext(ctx, "get failed", "key", key, tint.Err(err))
		return nil, err
	}
	return b, nil
}

func (s *RedisStore) Set(
	ctx context.Context,
	key string,
	value []byte,
	ttl time.Duration,
) error {
	if ttl < 0 {
		ttl = 0
	}
	err := s.client.Set(ctx, s.key(key), value, ttl).Err()
	if err != nil {
		s.logger.DebugContext(
			ctx,
			"set failed",
			"key", key,
			"ttl", ttl,
			tint.Err(err),
		)
	}
	return err
}

// Delete removes the key and reports whether it existed. Redis DEL is
// atomic, so when several processes race to delete the same key, exactly
// one of them sees existed=true.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		s.logger.DebugContext(ctx, "delete failed", "key", key, tint.Err(err))
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
