package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCursorKey = "ledger:poll_cursor"

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Key overrides the cursor key, e.g. to namespace per ledger.
	Key string
}

// Redis persists the cursor in Redis so the poller survives restarts.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to Redis and verifies reachability.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisWithClient(client, cfg.Key), nil
}

// NewRedisWithClient wraps an existing client, e.g. a test client.
func NewRedisWithClient(client *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultCursorKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Load(ctx context.Context) (uint64, bool, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load cursor: %w", err)
	}

	block, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cursor %q: %w", val, err)
	}
	return block, true, nil
}

func (r *Redis) Save(ctx context.Context, block uint64) error {
	if err := r.client.Set(ctx, r.key, strconv.FormatUint(block, 10), 0).Err(); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
