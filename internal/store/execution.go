package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
)

// JobStore defines persistence for redaction attempts.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error

	// GetByID returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Transition writes the job's current status, but only if the stored
	// status is still from. Returns ErrUpdateFailed otherwise, which is how
	// a late finisher loses to the reconciler (or the other way round).
	Transition(ctx context.Context, job *domain.Job, from domain.ExecutionStatus) error

	// CountForTask counts all attempts for a task.
	CountForTask(ctx context.Context, taskID uuid.UUID) (int, error)

	// ListStale returns jobs still started and last updated before the cutoff.
	ListStale(ctx context.Context, updatedBefore time.Time) ([]*domain.Job, error)

	WithTx(tx *sql.Tx) JobStore
}

// CallbackStore defines persistence for webhook delivery attempts.
type CallbackStore interface {
	Create(ctx context.Context, cb *domain.Callback) error

	// GetByID returns ErrCallbackNotFound if the callback does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Callback, error)

	// Transition has the same conditional semantics as JobStore.Transition.
	Transition(ctx context.Context, cb *domain.Callback, from domain.ExecutionStatus) error

	CountForTask(ctx context.Context, taskID uuid.UUID) (int, error)

	ListStale(ctx context.Context, updatedBefore time.Time) ([]*domain.Callback, error)

	WithTx(tx *sql.Tx) CallbackStore
}
