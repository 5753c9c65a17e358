package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luminetv/tsproxy/internal/logger"
)

// renewScript extends the TTL of key only while it still holds our value.
// Used for the ownership heartbeat: a worker must never refresh a lock
// another worker has since acquired.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end`)

// releaseScript deletes key only while it still holds our value.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`)

// RedisStore implements Store on a Redis client. Every operation runs under
// a bounded timeout and transient failures are retried with a doubling
// backoff; a single failed call never propagates a panic or kills a loop.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
	retries int
	logger  *logger.Logger
}

// Options configures the Redis-backed store.
type Options struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	Retries  int
}

// NewRedisStore connects to Redis and pings it once to fail fast on
// misconfiguration.
func NewRedisStore(ctx context.Context, opts Options, log *logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	if opts.Retries <= 0 {
		opts.Retries = 1
	}

	return &RedisStore{
		client:  client,
		timeout: opts.Timeout,
		retries: opts.Retries,
		logger:  log.WithComponent("coordinator"),
	}, nil
}

// withRetry runs op under the per-call timeout, retrying transient errors
// with a doubling sleep. Context cancellation and redis.Nil are never
// retried.
func (s *RedisStore) withRetry(ctx context.Context, name string, op func(context.Context) error) error {
	backoff := 50 * time.Millisecond
	var err error

	for attempt := 0; attempt < s.retries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = op(opCtx)
		cancel()

		if err == nil || errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return err
		}

		s.logger.Debug("store operation failed, retrying",
			slog.String("op", name),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	s.logger.Warn("store operation exhausted retries",
		slog.String("op", name),
		slog.String("error", err.Error()))
	return err
}

func (s *RedisStore) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.withRetry(ctx, "hash_set", func(ctx context.Context) error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key, args...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.withRetry(ctx, "hash_get_all", func(ctx context.Context) error {
		res, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *RedisStore) HashDel(ctx context.Context, key string, fields ...string) error {
	return s.withRetry(ctx, "hash_del", func(ctx context.Context) error {
		return s.client.HDel(ctx, key, fields...).Err()
	})
}

func (s *RedisStore) AtomicAcquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var acquired bool
	err := s.withRetry(ctx, "atomic_acquire", func(ctx context.Context) error {
		ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		acquired = ok
		return nil
	})
	return acquired, err
}

func (s *RedisStore) Renew(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var renewed bool
	err := s.withRetry(ctx, "renew", func(ctx context.Context) error {
		res, err := renewScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
		if err != nil {
			return err
		}
		renewed = res == 1
		return nil
	})
	return renewed, err
}

func (s *RedisStore) Release(ctx context.Context, key, value string) (bool, error) {
	var released bool
	err := s.withRetry(ctx, "release", func(ctx context.Context) error {
		res, err := releaseScript.Run(ctx, s.client, []string{key}, value).Int64()
		if err != nil {
			return err
		}
		released = res == 1
		return nil
	})
	return released, err
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := s.withRetry(ctx, "get", func(ctx context.Context) error {
		res, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return out, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.withRetry(ctx, "set", func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *RedisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.withRetry(ctx, "set_add", func(ctx context.Context) error {
		return s.client.SAdd(ctx, key, args...).Err()
	})
}

func (s *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.withRetry(ctx, "set_remove", func(ctx context.Context) error {
		return s.client.SRem(ctx, key, args...).Err()
	})
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.withRetry(ctx, "set_members", func(ctx context.Context) error {
		res, err := s.client.SMembers(ctx, key).Result()
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (s *RedisStore) SetCard(ctx context.Context, key string) (int64, error) {
	var out int64
	err := s.withRetry(ctx, "set_card", func(ctx context.Context) error {
		res, err := s.client.SCard(ctx, key).Result()
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (s *RedisStore) BlobPut(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.withRetry(ctx, "blob_put", func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *RedisStore) BlobGet(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.withRetry(ctx, "blob_get", func(ctx context.Context) error {
		res, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return out, err
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.withRetry(ctx, "scan", func(ctx context.Context) error {
		keys = keys[:0]
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	return keys, err
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.withRetry(ctx, "expire", func(ctx context.Context) error {
		return s.client.Expire(ctx, key, ttl).Err()
	})
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	return s.withRetry(ctx, "delete", func(ctx context.Context) error {
		return s.client.Del(ctx, keys...).Err()
	})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
