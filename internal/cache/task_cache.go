// Package cache provides the Redis-backed cache for per-clinician open task lists.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/domain"
)

const (
	keyPrefix  = "triage:tasks:"
	defaultTTL = 30 * time.Second
)

// TaskCache caches open task listings in Redis
type TaskCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *logrus.Logger
}

// cachedTaskList is the value stored per clinician
type cachedTaskList struct {
	Tasks    []*domain.ReviewTask `json:"tasks"`
	CachedAt time.Time            `json:"cached_at"`
}

// NewTaskCache connects to Redis and verifies the connection
func NewTaskCache(ctx context.Context, config domain.CacheConfig, logger *logrus.Logger) (*TaskCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewTaskCacheWithClient(client, config.TaskListTTL, logger), nil
}

// NewTaskCacheWithClient wraps an existing client
func NewTaskCacheWithClient(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *TaskCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TaskCache{redis: client, ttl: ttl, log: logger}
}

func taskListKey(clinicianID string) string {
	return keyPrefix + clinicianID
}

// GetTaskList returns the cached listing and whether it was present
func (c *TaskCache) GetTaskList(ctx context.Context, clinicianID string) ([]*domain.ReviewTask, bool, error) {
	key := taskListKey(clinicianID)

	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get task list cache: %w", err)
	}

	var cached cachedTaskList
	if err := json.Unmarshal(val, &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		c.log.WithField("clinician_id", clinicianID).Warn("Dropped corrupted task list cache entry")
		return nil, false, nil
	}
	if cached.Tasks == nil {
		cached.Tasks = []*domain.ReviewTask{}
	}
	return cached.Tasks, true, nil
}

// SetTaskList stores the listing with the configured TTL
func (c *TaskCache) SetTaskList(ctx context.Context, clinicianID string, tasks []*domain.ReviewTask) error {
	data, err := json.Marshal(cachedTaskList{Tasks: tasks, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal task list: %w", err)
	}
	return c.redis.Set(ctx, taskListKey(clinicianID), data, c.ttl).Err()
}

// InvalidateTaskList drops the cached listing
func (c *TaskCache) InvalidateTaskList(ctx context.Context, clinicianID string) error {
	return c.redis.Del(ctx, taskListKey(clinicianID)).Err()
}

// Health pings Redis
func (c *TaskCache) Health(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *TaskCache) Close() error {
	return c.redis.Close()
}
