package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by a Submitter that dropped the job.
var ErrQueueFull = errors.New("alert queue full")

// Job asks for one evaluation pass over a tenant's rules after a batch landed.
type Job struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	HasCron    bool      `json:"has_cron"`
	EventCount int       `json:"event_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewJob(tenantID string, eventCount int, hasCron bool, now time.Time) Job {
	return Job{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		HasCron:    hasCron,
		EventCount: eventCount,
		EnqueuedAt: now,
	}
}

// Submitter hands a job to whatever runs evaluations. It must not block on
// the evaluation itself.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
}
