package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/phrazzld/redaction-api/internal/redact"
	"github.com/phrazzld/redaction-api/internal/store"
)

// StageObserver feeds stage runs into the metrics and records a RetryState
// row for every retry.
type StageObserver struct {
	metrics *Metrics
	retries store.RetryStateStore
	logger  *slog.Logger
	now     func() time.Time
}

var _ queue.Observer = (*StageObserver)(nil)

func NewStageObserver(metrics *Metrics, retries store.RetryStateStore, logger *slog.Logger) *StageObserver {
	return &StageObserver{
		metrics: metrics,
		retries: retries,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (o *StageObserver) StageStarted(_ context.Context, job queue.Job) {
	o.metrics.Started(job.Stage)
}

func (o *StageObserver) StageSucceeded(_ context.Context, job queue.Job, elapsed time.Duration) {
	o.metrics.Succeeded(job.Stage, elapsed)
}

func (o *StageObserver) StageRetrying(ctx context.Context, job queue.Job, err error, delay time.Duration) {
	o.metrics.Retried(job.Stage)
	o.record(ctx, job, err, delay)
}

func (o *StageObserver) StageFailed(ctx context.Context, job queue.Job, err error) {
	o.metrics.Failed(job.Stage)
	o.record(ctx, job, err, 0)
}

func (o *StageObserver) record(ctx context.Context, job queue.Job, err error, delay time.Duration) {
	if o.retries == nil {
		return
	}
	taskID, perr := uuid.Parse(job.TaskID)
	if perr != nil {
		return
	}
	now := o.now()
	state := &domain.RetryState{
		TaskID:         taskID,
		Stage:          job.Stage,
		Attempts:       job.Attempt,
		LastError:      redact.Error(err),
		NextEligibleAt: now.Add(delay),
		UpdatedAt:      now,
	}
	if rerr := o.retries.Record(ctx, state); rerr != nil {
		o.logger.WarnContext(ctx, "failed to record retry state",
			"task_id", job.TaskID, "stage", job.Stage, "error", rerr)
	}
}
