package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
)

type Worker struct {
	id        int
	workQueue <-chan alerts.Job
	handle    Handler
	logger    *zap.Logger
}

func NewWorker(id int, workQueue <-chan alerts.Job, handle Handler, logger *zap.Logger) *Worker {
	return &Worker{
		id:        id,
		workQueue: workQueue,
		handle:    handle,
		logger:    logger.With(zap.Int("worker_id", id)),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker stopped")
			return
		case job, ok := <-w.workQueue:
			if !ok {
				w.logger.Debug("Work queue closed")
				return
			}
			w.logger.Debug("Processing alert job",
				zap.String("tenant_id", job.TenantID),
				zap.String("job_id", job.ID),
			)
			w.handle(job)
		}
	}
}
