//go:build integration

package redis_test

import (
	"context"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"

	redisqueue "github.com/xraph/courier/queue/redis"
)

func TestAgainstRealRedis(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: strings.TrimPrefix(addr, "redis://")})
	t.Cleanup(func() { _ = rdb.Close() })

	q := redisqueue.New(rdb, redisqueue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, q.Connect(ctx))

	jobID, err := q.Enqueue(ctx, newJob(), 0)
	require.NoError(t, err)

	job := dequeue(t, q)
	assert.Equal(t, jobID, job.ID)
	require.NoError(t, q.Ack(ctx, job))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}
