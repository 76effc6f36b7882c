package processor

import (
	"context"
	"database/sql"
	"encoding/json"
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

// CallbackStores are the stores the callback executor reads and writes.
type CallbackStores struct {
	Tasks      store.TaskStore
	Callbacks  store.CallbackStore
	Redactions store.RedactionStore
	Retries    store.RetryStateStore
}

// CallbackExecutor delivers the webhook of tasks whose redaction succeeded.
type CallbackExecutor struct {
	base
	callbacks  store.CallbackStore
	redactions store.RedactionStore
	stages     Stages
	blobs      pipeline.BlobStore
	poster     Poster
}

var _ Executor = (*CallbackExecutor)(nil)

func NewCallbackExecutor(
	tx store.Transactor,
	stores CallbackStores,
	stages Stages,
	blobs pipeline.BlobStore,
	poster Poster,
	policy RetryPolicy,
	logger *slog.Logger,
) *CallbackExecutor {
	return &CallbackExecutor{
		base:       newBase(tx, stores.Tasks, stores.Retries, policy, logger.With("executor", CallbackProcessor)),
		callbacks:  stores.Callbacks,
		redactions: stores.Redactions,
		stages:     stages,
		blobs:      blobs,
		poster:     poster,
	}
}

func (e *CallbackExecutor) Name() string { return CallbackProcessor }

func (e *CallbackExecutor) Claim(ctx context.Context) (*domain.Task, error) {
	return e.claim(ctx, func(ctx context.Context, tasks store.TaskStore, maxRetries int, now time.Time) (*domain.Task, error) {
		return tasks.NextCallback(ctx, maxRetries, now)
	})
}

func (e *CallbackExecutor) Begin(ctx context.Context, task *domain.Task) (uuid.UUID, error) {
	cb, err := domain.NewCallback(task.ID)
	if err != nil {
		return uuid.Nil, err
	}
	err = e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return e.callbacks.WithTx(tx).Create(ctx, cb)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create callback: %w", err)
	}
	return cb.ID, nil
}

func (e *CallbackExecutor) Execute(ctx context.Context, task *domain.Task, callbackID uuid.UUID) error {
	var cb *domain.Callback
	err := e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		callbacks := e.callbacks.WithTx(tx)
		var err error
		if cb, err = callbacks.GetByID(ctx, callbackID); err != nil {
			return err
		}
		if err := cb.Start(); err != nil {
			return err
		}
		return callbacks.Transition(ctx, cb, domain.ExecutionCreated)
	})
	if err != nil {
		return fmt.Errorf("failed to start callback %s: %w", callbackID, err)
	}

	logger := e.logger.With("task_id", task.ID, "callback_id", cb.ID)
	code, response, err := e.deliver(ctx, task)
	if err != nil {
		logger.Warn("callback could not be sent", "error", redact.Error(err))
		return e.settle(ctx, task, cb, 0, "", err)
	}
	if !domain.IsSuccessCode(code) {
		var cause error = &pipeline.HTTPError{StatusCode: code, URL: redact.String(task.CallbackURL)}
		if code == 0 {
			cause = fmt.Errorf("callback delivery failed: %s", response)
		}
		logger.Warn("callback rejected", "status_code", code)
		return e.settle(ctx, task, cb, code, response, cause)
	}
	logger.Info("callback delivered", "status_code", code)
	return e.settle(ctx, task, cb, code, response, nil)
}

// deliver posts the webhook body built from the task's latest redaction.
func (e *CallbackExecutor) deliver(ctx context.Context, task *domain.Task) (int, string, error) {
	doc, err := e.resultDocument(ctx, task)
	if err != nil {
		return 0, "", err
	}
	body, err := e.stages.WebhookBody(ctx, task.JurisdictionID, task.CaseID, task.DocumentID, doc, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to build webhook body: %w", err)
	}
	return e.poster.Post(ctx, task.CallbackURL, body)
}

func (e *CallbackExecutor) resultDocument(ctx context.Context, task *domain.Task) (*domain.Document, error) {
	red, err := e.redactions.LatestForTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load redaction: %w", err)
	}
	if red.ExternalLink != "" {
		doc := domain.NewLinkDocument(task.DocumentID, red.ExternalLink)
		return &doc, nil
	}
	raw, err := e.blobs.Load(ctx, red.ContentStorageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load redacted document: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("redacted document is empty")
	}
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode redacted document: %w", err)
	}
	return &doc, nil
}

// settle records the callback outcome and moves the task on. A nil cause
// means the webhook was delivered.
func (e *CallbackExecutor) settle(ctx context.Context, task *domain.Task, cb *domain.Callback, code int, response string, cause error) error {
	var status domain.TaskStatus
	err := e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		callbacks := e.callbacks.WithTx(tx)
		if cause != nil && code == 0 && response == "" {
			if err := cb.Fail(redact.Error(cause)); err != nil {
				return err
			}
		} else if err := cb.Complete(code, response, cause == nil); err != nil {
			return err
		}
		if err := callbacks.Transition(ctx, cb, domain.ExecutionStarted); err != nil {
			return err
		}

		if cause == nil {
			status = domain.TaskStatusDone
			return e.tasks.WithTx(tx).UpdateStatus(ctx, task.ID, status, nil, "")
		}
		attempts, err := callbacks.CountForTask(ctx, task.ID)
		if err != nil {
			return err
		}
		status, err = e.release(ctx, tx, task, CallbackProcessor, attempts, cause)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record callback %s outcome: %w", cb.ID, err)
	}
	e.logger.Debug("callback settled", "task_id", task.ID, "task_status", status)
	return nil
}

func (e *CallbackExecutor) Abort(ctx context.Context, task *domain.Task, callbackID uuid.UUID, cause error) error {
	err := e.tx.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		callbacks := e.callbacks.WithTx(tx)
		cb, err := callbacks.GetByID(ctx, callbackID)
		if err != nil {
			return err
		}
		if !cb.Status.IsTerminal() {
			from := cb.Status
			if err := cb.Fail(redact.Error(cause)); err != nil {
				return err
			}
			if err := callbacks.Transition(ctx, cb, from); err != nil {
				return err
			}
		}
		attempts, err := callbacks.CountForTask(ctx, task.ID)
		if err != nil {
			return err
		}
		return e.releaseClaimed(ctx, tx, task.ID, CallbackProcessor, attempts, cause)
	})
	if err != nil {
		return fmt.Errorf("failed to abort callback %s: %w", callbackID, err)
	}
	return nil
}
