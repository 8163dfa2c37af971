package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/metrics"
)

func newQueue(t *testing.T, maxLength int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "", maxLength), mr
}

func TestPushPopOldestFirst(t *testing.T) {
	q, _ := newQueue(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	later := alerts.NewJob("t1", 2, true, base.Add(time.Second))
	earlier := alerts.NewJob("t2", 5, false, base)
	require.NoError(t, q.Submit(ctx, later))
	require.NoError(t, q.Submit(ctx, earlier))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, earlier.ID, first.ID)
	assert.Equal(t, "t2", first.TenantID)
	assert.Equal(t, 5, first.EventCount)

	second, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, later.ID, second.ID)
	assert.True(t, second.HasCron)
}

func TestPopTimesOut(t *testing.T) {
	q, _ := newQueue(t, 0)

	_, err := q.Pop(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPushRespectsMaxLength(t *testing.T) {
	q, _ := newQueue(t, 2)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Push(ctx, alerts.NewJob("t", 1, false, now)))
	require.NoError(t, q.Push(ctx, alerts.NewJob("t", 1, false, now)))
	assert.ErrorIs(t, q.Push(ctx, alerts.NewJob("t", 1, false, now)), alerts.ErrQueueFull)
}

func TestConsume(t *testing.T) {
	q, _ := newQueue(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := alerts.NewJob("t1", 1, false, time.Now())
	require.NoError(t, q.Push(ctx, job))

	var (
		mu  sync.Mutex
		got []alerts.Job
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Consume(ctx, func(j alerts.Job) {
			mu.Lock()
			got = append(got, j)
			mu.Unlock()
			cancel()
		}, metrics.NewCollector(config.MetricsConfig{}), zap.NewNop())
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, job.ID, got[0].ID)
}
