package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
)

// TaskStore defines persistence for Task rows and the transitions of the
// claim protocol.
type TaskStore interface {
	// Create saves a new task. Returns validation errors for invalid tasks.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListByCase returns a case's tasks oldest first.
	ListByCase(ctx context.Context, jurisdictionID, caseID string) ([]*domain.Task, error)

	// NextPending selects and row-locks the oldest processor-mode task that
	// is pending, past its retry_after, has fewer than maxRetries jobs and no
	// successful job. Rows locked by another transaction are skipped.
	// Returns nil, nil when there is no eligible task. Must run in a
	// transaction for the lock to mean anything.
	NextPending(ctx context.Context, maxRetries int, now time.Time) (*domain.Task, error)

	// NextCallback is NextPending for webhook delivery: the task needs a
	// callback URL and a successful job, and is limited by callback count.
	NextCallback(ctx context.Context, maxRetries int, now time.Time) (*domain.Task, error)

	// Claim moves a pending task to claimed with a conditional update.
	// Returns ErrAlreadyClaimed when the task is no longer pending.
	Claim(ctx context.Context, id uuid.UUID, at time.Time) error

	// UpdateStatus records a transition out of claimed (or the chain's
	// terminal transition). retryAfter is only meaningful for pending.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, retryAfter *time.Time, lastError string) error

	// MarkDispatched stamps the time a chain was scheduled for the task.
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error

	// ResetOrphans returns claimed tasks with no execution record created
	// since the claim, and claimed before the cutoff, to pending.
	ResetOrphans(ctx context.Context, claimedBefore time.Time) (int64, error)

	// HandOffStaleChains switches pending chain-mode tasks dispatched before
	// the cutoff to processor mode and returns them. Tasks never dispatched
	// are still waiting for their case's chain and are left alone.
	HandOffStaleChains(ctx context.Context, dispatchedBefore time.Time) ([]*domain.Task, error)

	// ListUndispatchedChains returns pending chain-mode tasks created before
	// the cutoff that no chain was ever scheduled for, oldest first.
	ListUndispatchedChains(ctx context.Context, createdBefore time.Time) ([]*domain.Task, error)

	// WithTx returns a TaskStore that uses the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}
