package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qbsync/backend/internal/domain/shared"
)

// DefaultLedgerPrefix namespaces ledger keys in Redis
const DefaultLedgerPrefix = "qbsync:ledger:"

// RedisLedger implements shared.IdempotencyStore on Redis, so the ledger
// survives restarts and is shared by the server and the CLI
type RedisLedger struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisLedger connects to Redis and verifies the connection
func NewRedisLedger(cfg RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLedger{
		client:    client,
		keyPrefix: DefaultLedgerPrefix,
	}, nil
}

// NewRedisLedgerWithClient creates a ledger on an existing client
func NewRedisLedgerWithClient(client *redis.Client, keyPrefix string) *RedisLedger {
	if keyPrefix == "" {
		keyPrefix = DefaultLedgerPrefix
	}
	return &RedisLedger{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// MarkProcessed records a key with a TTL using SETNX.
// Returns true if the key was newly recorded, false if it already existed.
func (l *RedisLedger) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark ledger key: %w", err)
	}
	return ok, nil
}

// IsProcessed checks whether key is recorded
func (l *RedisLedger) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ledger key: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis client
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

// Client returns the underlying Redis client, used by health checks
func (l *RedisLedger) Client() *redis.Client {
	return l.client
}

var _ shared.IdempotencyStore = (*RedisLedger)(nil)
