package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/triage-review-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func setupRedis(t *testing.T) string {
	if url := os.Getenv("TEST_REDIS_URL"); url != "" {
		return url
	}
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestTaskListKey(t *testing.T) {
	assert.Equal(t, "triage:tasks:doc-house", taskListKey("doc-house"))
}

func TestNewTaskCacheRejectsBadURL(t *testing.T) {
	_, err := NewTaskCache(context.Background(), domain.CacheConfig{RedisURL: "not a url"}, testLogger())
	assert.Error(t, err)
}

func TestTaskCacheRoundTrip(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	cache, err := NewTaskCache(ctx, domain.CacheConfig{RedisURL: url, TaskListTTL: time.Minute}, testLogger())
	require.NoError(t, err)
	defer cache.Close()
	require.NoError(t, cache.Health(ctx))

	_, ok, err := cache.GetTaskList(ctx, "doc-house")
	require.NoError(t, err)
	assert.False(t, ok)

	due := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	tasks := []*domain.ReviewTask{{
		ID:           "t-1",
		SubjectID:    "p-1",
		AssessmentID: "a-1",
		AssigneeID:   "doc-house",
		Priority:     domain.PriorityHigh,
		Status:       domain.TaskOpen,
		DueDate:      due,
	}}
	require.NoError(t, cache.SetTaskList(ctx, "doc-house", tasks))

	got, ok, err := cache.GetTaskList(ctx, "doc-house")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "t-1", got[0].ID)
	assert.True(t, got[0].DueDate.Equal(due))

	ttl, err := cache.redis.TTL(ctx, taskListKey("doc-house")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	// Empty listings are cached as hits
	require.NoError(t, cache.SetTaskList(ctx, "doc-empty", nil))
	got, ok, err = cache.GetTaskList(ctx, "doc-empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)

	require.NoError(t, cache.InvalidateTaskList(ctx, "doc-house"))
	_, ok, err = cache.GetTaskList(ctx, "doc-house")
	require.NoError(t, err)
	assert.False(t, ok)

	// Corrupted entries read as a miss and are removed
	require.NoError(t, cache.redis.Set(ctx, taskListKey("doc-bad"), "{", time.Minute).Err())
	_, ok, err = cache.GetTaskList(ctx, "doc-bad")
	require.NoError(t, err)
	assert.False(t, ok)
	exists, err := cache.redis.Exists(ctx, taskListKey("doc-bad")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
