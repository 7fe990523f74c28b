// Package redis is a Redis-backed submission journal for deployments where
// several engine instances share one diagnostic store.
package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/journal"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefixAttempt     = "scrobble:attempt:"
	keySchemaVersion     = "scrobble:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Redis has no native prefix iteration, so attempt IDs are tracked in a
	// set for listing.
	keySetAttempts = "scrobble:attempts:index"

	opTimeout = 5 * time.Second
)

// RedisConfig holds the connection settings for the journal store.
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys, for multi-tenant
	// setups. If empty, keys use the default "scrobble:" namespace.
	KeyPrefix string
}

type RedisJournal struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ journal.ISubmissionJournal = (*RedisJournal)(nil)

func NewRedisJournal(cfg *RedisConfig, logger *zap.Logger) (*RedisJournal, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rj := &RedisJournal{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rj.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis journal initialized", "address", cfg.Address, "db", cfg.DB)

	return rj, nil
}

func (r *RedisJournal) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisJournal) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

func (r *RedisJournal) RecordAttempt(attempt *journal.Attempt) error {
	if attempt == nil {
		return fmt.Errorf("cannot record nil attempt")
	}
	if attempt.ID == "" {
		return fmt.Errorf("attempt ID cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("journal is closed")
	}

	data, err := journal.MarshalAttempt(attempt.StampedNow())
	if err != nil {
		return fmt.Errorf("failed to marshal Attempt: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefixKey(keyPrefixAttempt+attempt.ID), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetAttempts), attempt.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store Attempt: %w", err)
	}
	return nil
}

func (r *RedisJournal) GetAttempt(id string) (*journal.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("journal is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefixKey(keyPrefixAttempt+id)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Attempt: %w", err)
	}

	return journal.UnmarshalAttempt(data)
}

func (r *RedisJournal) ListAttempts() ([]*journal.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("journal is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ids, err := r.client.SMembers(ctx, r.prefixKey(keySetAttempts)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt IDs: %w", err)
	}

	attempts := make([]*journal.Attempt, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.prefixKey(keyPrefixAttempt+id)).Bytes()
		if err == redis.Nil {
			// Index entry without a value; stale, skip it.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load Attempt %s: %w", id, err)
		}

		attempt, err := journal.UnmarshalAttempt(data)
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal Attempt, skipping",
				"id", id, "error", err)
			continue
		}
		attempts = append(attempts, attempt)
	}

	sort.Slice(attempts, func(i, j int) bool {
		if attempts[i].CreatedAtUnix == attempts[j].CreatedAtUnix {
			return attempts[i].ID < attempts[j].ID
		}
		return attempts[i].CreatedAtUnix < attempts[j].CreatedAtUnix
	})
	return attempts, nil
}

func (r *RedisJournal) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis journal closed")
	return nil
}

func (r *RedisJournal) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("journal is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.client.Ping(ctx).Err()
}
