// Package scheduler runs detached alert evaluations on a fixed set of
// workers fed by a bounded in-process queue.
package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/metrics"
)

// Handler processes one job. It owns its context and error handling.
type Handler func(job alerts.Job)

const queueLabel = "memory"

type Pool struct {
	size    int
	handler Handler
	metrics *metrics.Collector
	logger  *zap.Logger

	mu        sync.RWMutex
	workQueue chan alerts.Job
	closed    bool
	workers   []*Worker
	wg        sync.WaitGroup
}

func NewPool(size, queueSize int, handler Handler, collector *metrics.Collector, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:      size,
		handler:   handler,
		metrics:   collector,
		logger:    logger,
		workQueue: make(chan alerts.Job, queueSize),
	}
}

// Start launches the workers. Cancelling ctx stops them without draining.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting alert workers", zap.Int("worker_count", p.size), zap.Int("queue_size", cap(p.workQueue)))

	p.workers = make([]*Worker, p.size)
	for i := 0; i < p.size; i++ {
		worker := NewWorker(i, p.workQueue, p.run, p.logger)
		p.workers[i] = worker
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(worker)
	}
}

// Submit enqueues job without blocking. A full or stopped pool drops it and
// returns alerts.ErrQueueFull.
func (p *Pool) Submit(_ context.Context, job alerts.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.metrics.RecordAlertJob("dropped", 0)
		return alerts.ErrQueueFull
	}

	select {
	case p.workQueue <- job:
		p.metrics.SetQueueDepth(queueLabel, len(p.workQueue))
		return nil
	default:
		p.metrics.RecordAlertJob("dropped", 0)
		p.logger.Warn("Work queue full, dropping alert job",
			zap.String("tenant_id", job.TenantID),
			zap.String("job_id", job.ID),
		)
		return alerts.ErrQueueFull
	}
}

// Stop refuses new jobs, lets the workers finish what is queued and waits.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workQueue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Alert workers stopped")
}

func (p *Pool) run(job alerts.Job) {
	p.handler(job)
	p.metrics.SetQueueDepth(queueLabel, len(p.workQueue))
}
