package processor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/pipeline"
	"github.com/phrazzld/redaction-api/internal/redact"
	"github.com/phrazzld/redaction-api/internal/store"
)

// RedactionStores are the stores the redaction executor writes.
type RedactionStores struct {
	Tasks      store.TaskStore
	Jobs       store.JobStore
	Redactions store.RedactionStore
	Retries    store.RetryStateStore
}

// RedactionExecutor runs fetch, redact and format for processor-mode tasks.
type RedactionExecutor struct {
	base
	jobs       store.JobStore
	redactions store.RedactionStore
	stages     Stages
	blobs      pipeline.BlobStore
	scheduler  *Scheduler
}

var _ Executor = (*RedactionExecutor)(nil)

func NewRedactionExecutor(
	tx store.Transactor,
	stores RedactionStores,
	stages Stages,
	blobs pipeline.BlobStore,
	scheduler *Scheduler,
	policy RetryPolicy,
	logger *slog.Logger,
) *RedactionExecutor {
	return &RedactionExecutor{
		base:       newBase(tx, stores.Tasks, stores.Retries, policy, logger.With("executor", RedactionProcessor)),
		jobs:       stores.Jobs,
		redactions: stores.Redactions,
		stages:     stages,
		blobs:      blobs,
		scheduler:  scheduler,
	}
}

func (e *RedactionExecutor) Name() string { return RedactionProcessor }

func (e *RedactionExecutor) Claim(ctx context.Context) (*domain.Task, error) {
	return e.claim(ctx, func(ctx context.Context, tasks store.TaskStore, maxRetries int, now time.Time) (*domain.Task, error) {
		return tasks.NextPending(ctx, maxRetries, now)
	})
}

func (e *RedactionExecutor) Begin(ctx context.Context, task *domain.Task) (uuid.UUID, error) {
	job, err := domain.NewJob(task.ID)
	if err != nil {
		return uuid.Nil, err
	}
	err = e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return e.jobs.WithTx(tx).Create(ctx, job)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job.ID, nil
}

// output is what a successful run persists.
type output struct {
	file      *domain.File
	redaction *domain.Redaction
}

func (e *RedactionExecutor) Execute(ctx context.Context, task *domain.Task, jobID uuid.UUID) error {
	var job *domain.Job
	err := e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		jobs := e.jobs.WithTx(tx)
		var err error
		if job, err = jobs.GetByID(ctx, jobID); err != nil {
			return err
		}
		if err := job.Start(); err != nil {
			return err
		}
		return jobs.Transition(ctx, job, domain.ExecutionCreated)
	})
	if err != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	logger := e.logger.With("task_id", task.ID, "job_id", job.ID)
	out, runErr := e.run(ctx, task, job)
	if runErr != nil {
		logger.Warn("redaction failed", "error", redact.Error(runErr))
		return e.fail(ctx, task, job, runErr)
	}

	next := domain.TaskStatusDone
	if task.CallbackURL != "" {
		next = domain.TaskStatusPending
	}
	err = e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		redactions := e.redactions.WithTx(tx)
		if err := redactions.SaveFile(ctx, out.file); err != nil {
			return err
		}
		if err := redactions.SaveRedaction(ctx, out.redaction); err != nil {
			return err
		}
		if err := job.Succeed(); err != nil {
			return err
		}
		if err := e.jobs.WithTx(tx).Transition(ctx, job, domain.ExecutionStarted); err != nil {
			return err
		}
		return e.tasks.WithTx(tx).UpdateStatus(ctx, task.ID, next, nil, "")
	})
	if err != nil {
		return fmt.Errorf("failed to record job %s success: %w", job.ID, err)
	}

	logger.Info("redaction finished", "task_status", next)
	if next == domain.TaskStatusPending {
		e.scheduler.Check(CallbackProcessor)
	}
	return nil
}

// run performs the stage work outside any transaction.
func (e *RedactionExecutor) run(ctx context.Context, task *domain.Task, job *domain.Job) (*output, error) {
	content, err := e.stages.Fetch(ctx, task.Document)
	if err != nil {
		return nil, err
	}
	storageID, err := e.blobs.Save(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to store fetched document: %w", err)
	}

	redacted, err := e.stages.RedactDocument(ctx, task.JurisdictionID, task.CaseID, task.DocumentID, content, task.Renderer)
	if err != nil {
		return nil, err
	}
	doc, err := e.stages.FormatDocument(ctx, task.DocumentID, task.Renderer, task.TargetBlobURL,
		func(context.Context) ([]byte, error) { return redacted, nil })
	if err != nil {
		return nil, err
	}
	if err := e.stages.SaveResult(ctx, task.JurisdictionID, task.CaseID, doc); err != nil {
		return nil, fmt.Errorf("failed to save result: %w", err)
	}

	now := e.now()
	file := &domain.File{
		ID:          domain.NewID(),
		TaskID:      task.ID,
		ContentHash: storageID,
		MimeType:    http.DetectContentType(content),
		Size:        int64(len(content)),
		StorageID:   storageID,
		CreatedAt:   now,
	}
	red := &domain.Redaction{
		ID:        domain.NewID(),
		TaskID:    task.ID,
		JobID:     job.ID,
		FileID:    file.ID,
		Renderer:  task.Renderer,
		CreatedAt: now,
	}
	if doc.AttachmentType == domain.AttachmentLink {
		red.ExternalLink = doc.URL
	} else {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		if red.ContentStorageID, err = e.blobs.Save(ctx, raw); err != nil {
			return nil, fmt.Errorf("failed to store result: %w", err)
		}
	}
	return &output{file: file, redaction: red}, nil
}

func (e *RedactionExecutor) fail(ctx context.Context, task *domain.Task, job *domain.Job, cause error) error {
	var status domain.TaskStatus
	err := e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		jobs := e.jobs.WithTx(tx)
		if err := job.Fail(redact.Error(cause)); err != nil {
			return err
		}
		if err := jobs.Transition(ctx, job, domain.ExecutionStarted); err != nil {
			return err
		}
		attempts, err := jobs.CountForTask(ctx, task.ID)
		if err != nil {
			return err
		}
		status, err = e.release(ctx, tx, task, RedactionProcessor, attempts, cause)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record job %s failure: %w", job.ID, err)
	}
	e.logger.Info("task released", "task_id", task.ID, "task_status", status)
	return nil
}

func (e *RedactionExecutor) Abort(ctx context.Context, task *domain.Task, jobID uuid.UUID, cause error) error {
	err := e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		jobs := e.jobs.WithTx(tx)
		job, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if !job.Status.IsTerminal() {
			from := job.Status
			if err := job.Fail(redact.Error(cause)); err != nil {
				return err
			}
			if err := jobs.Transition(ctx, job, from); err != nil {
				return err
			}
		}
		attempts, err := jobs.CountForTask(ctx, task.ID)
		if err != nil {
			return err
		}
		return e.releaseClaimed(ctx, tx, task.ID, RedactionProcessor, attempts, cause)
	})
	if err != nil {
		return fmt.Errorf("failed to abort job %s: %w", jobID, err)
	}
	return nil
}
