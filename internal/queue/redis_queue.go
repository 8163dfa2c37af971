package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/metrics"
)

var ErrTimeout = errors.New("queue timeout")

const (
	DefaultQueueName = "agentpulse:alert_jobs"
	queueLabel       = "redis"
)

// RedisQueue hands alert jobs from API replicas to cmd/worker through a
// sorted set scored by enqueue time, so the oldest job is popped first.
type RedisQueue struct {
	client    *redis.Client
	queueName string
	maxLength int64
}

func NewRedisQueue(client *redis.Client, queueName string, maxLength int) *RedisQueue {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &RedisQueue{
		client:    client,
		queueName: queueName,
		maxLength: int64(maxLength),
	}
}

func (q *RedisQueue) Push(ctx context.Context, job alerts.Job) error {
	if q.maxLength > 0 {
		n, err := q.Length(ctx)
		if err != nil {
			return err
		}
		if n >= q.maxLength {
			return alerts.ErrQueueFull
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.ZAdd(ctx, q.queueName, redis.Z{
		Score:  float64(job.EnqueuedAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

// Submit makes the queue an alerts.Submitter.
func (q *RedisQueue) Submit(ctx context.Context, job alerts.Job) error {
	return q.Push(ctx, job)
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*alerts.Job, error) {
	result, err := q.client.BZPopMin(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	member, ok := result.Member.(string)
	if !ok {
		return nil, errors.New("invalid result from queue")
	}

	var job alerts.Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.queueName).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Consume pops jobs and hands them to handle until ctx is done.
func (q *RedisQueue) Consume(ctx context.Context, handle func(alerts.Job), collector *metrics.Collector, logger *zap.Logger) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := q.Pop(ctx, 5*time.Second)
		switch {
		case err == nil:
			backoff = time.Second
			handle(*job)
			if n, err := q.Length(ctx); err == nil {
				collector.SetQueueDepth(queueLabel, int(n))
			}
		case errors.Is(err, ErrTimeout):
		case ctx.Err() != nil:
			return
		default:
			logger.Error("Failed to pop alert job", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}
