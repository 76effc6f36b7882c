package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/pipeline"
	"github.com/phrazzld/redaction-api/internal/redact"
	"github.com/phrazzld/redaction-api/internal/store"
)

// claimAttempts bounds how often Claim retries after losing a race for the
// task it selected.
const claimAttempts = 3

// Stages is the part of the pipeline the executors run in-process.
type Stages interface {
	Fetch(ctx context.Context, doc domain.Document) ([]byte, error)
	RedactDocument(ctx context.Context, jurisdictionID, caseID, documentID string, content []byte, renderer domain.Renderer) ([]byte, error)
	FormatDocument(ctx context.Context, documentID string, renderer domain.Renderer, target string, load func(context.Context) ([]byte, error)) (*domain.Document, error)
	SaveResult(ctx context.Context, jurisdictionID, caseID string, doc *domain.Document) error
	WebhookBody(ctx context.Context, jurisdictionID, caseID, documentID string, doc *domain.Document, errs domain.ProcessingErrors) (*domain.RedactionResult, error)
}

// Poster delivers webhook bodies.
type Poster interface {
	Post(ctx context.Context, url string, body any) (int, string, error)
}

var (
	_ Stages = (*pipeline.Pipeline)(nil)
	_ Poster = (*pipeline.Notifier)(nil)
)

// RetryPolicy decides what happens to a task after a failed attempt.
type RetryPolicy struct {
	// MaxRetries is the number of attempts a task gets per processor.
	MaxRetries int
	// Interval is the delay before a failed task is eligible again.
	Interval time.Duration
}

// base holds what both executors and the reconciler share.
type base struct {
	tx      store.Transactor
	tasks   store.TaskStore
	retries store.RetryStateStore
	policy  RetryPolicy
	logger  *slog.Logger
	now     func() time.Time
}

func newBase(tx store.Transactor, tasks store.TaskStore, retries store.RetryStateStore, policy RetryPolicy, logger *slog.Logger) base {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 3
	}
	return base{
		tx:      tx,
		tasks:   tasks,
		retries: retries,
		policy:  policy,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type selectFn func(ctx context.Context, tasks store.TaskStore, maxRetries int, now time.Time) (*domain.Task, error)

// claim runs selection and the conditional claim in one transaction, so two
// processors racing for the same task cannot both win it.
func (b *base) claim(ctx context.Context, next selectFn) (*domain.Task, error) {
	for range claimAttempts {
		var claimed *domain.Task
		err := b.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			tasks := b.tasks.WithTx(tx)
			now := b.now()
			task, err := next(ctx, tasks, b.policy.MaxRetries, now)
			if err != nil || task == nil {
				return err
			}
			if err := tasks.Claim(ctx, task.ID, now); err != nil {
				return err
			}
			task.Status = domain.TaskStatusClaimed
			task.ClaimedAt = &now
			claimed = task
			return nil
		})
		if errors.Is(err, store.ErrAlreadyClaimed) {
			continue
		}
		return claimed, err
	}
	return nil, nil
}

// releaseClaimed applies the retry policy to the task of an abandoned
// execution. Tasks no longer claimed were settled by someone else.
func (b *base) releaseClaimed(ctx context.Context, tx *sql.Tx, taskID uuid.UUID, stage string, attempts int, cause error) error {
	task, err := b.tasks.WithTx(tx).GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusClaimed {
		return nil
	}
	_, err = b.release(ctx, tx, task, stage, attempts, cause)
	return err
}

// release moves a task whose attempt failed back to pending with a retry
// delay, or to error once its attempts are used up or the failure cannot
// succeed on retry. It records the attempt as a RetryState row.
func (b *base) release(ctx context.Context, tx *sql.Tx, task *domain.Task, stage string, attempts int, cause error) (domain.TaskStatus, error) {
	now := b.now()
	msg := redact.Error(cause)

	status := domain.TaskStatusError
	var retryAfter *time.Time
	nextEligible := now
	if attempts < b.policy.MaxRetries && !pipeline.IsTerminal(cause) {
		status = domain.TaskStatusPending
		nextEligible = now.Add(b.policy.Interval)
		retryAfter = &nextEligible
	}

	if err := b.tasks.WithTx(tx).UpdateStatus(ctx, task.ID, status, retryAfter, msg); err != nil {
		return "", fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}
	state := &domain.RetryState{
		TaskID:         task.ID,
		Stage:          stage,
		Attempts:       attempts,
		LastError:      msg,
		NextEligibleAt: nextEligible,
		UpdatedAt:      now,
	}
	if err := b.retries.WithTx(tx).Record(ctx, state); err != nil {
		return "", fmt.Errorf("failed to record retry state: %w", err)
	}
	return status, nil
}
