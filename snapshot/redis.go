package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/gomodule/redigo/redis"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "uniswap-v2-analyzer:snapshot"

// RedisStore keeps the snapshot under a single redis key, so a SET replaces
// it atomically.
type RedisStore struct {
	rp  *redis.Pool
	key string
}

func NewRedisStore(rp *redis.Pool, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rp: rp, key: key}
}

// NewRedisPool returns a pool dialing redisURL on demand.
func NewRedisPool(redisURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle: 2,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, redisURL)
		},
	}
}

func (r *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	conn, err := r.rp.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()

	b, err := redis.Bytes(conn.Do("GET", r.key))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return Decode(b)
}

func (r *RedisStore) Persist(ctx context.Context, s *Snapshot) error {
	b, err := Encode(s)
	if err != nil {
		return err
	}
	conn, err := r.rp.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("SET", r.key, b); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Close releases the pool's connections.
func (r *RedisStore) Close() error {
	return r.rp.Close()
}
