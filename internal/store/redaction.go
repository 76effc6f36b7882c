package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
)

// RedactionStore persists fetched inputs and produced outputs.
type RedactionStore interface {
	SaveFile(ctx context.Context, file *domain.File) error
	SaveRedaction(ctx context.Context, r *domain.Redaction) error

	// LatestForTask returns the most recent redaction for a task, or
	// ErrRedactionNotFound.
	LatestForTask(ctx context.Context, taskID uuid.UUID) (*domain.Redaction, error)

	WithTx(tx *sql.Tx) RedactionStore
}

// DocumentStatusStore persists experiment status rows written by Finalize.
type DocumentStatusStore interface {
	Save(ctx context.Context, status *domain.DocumentStatus) error
	ListByCase(ctx context.Context, jurisdictionID, caseID string) ([]*domain.DocumentStatus, error)
}

// RetryStateStore keeps one retry record per task and stage.
type RetryStateStore interface {
	// Record upserts the state, replacing attempts, last error and next
	// eligible time.
	Record(ctx context.Context, state *domain.RetryState) error

	// Get returns ErrRetryNotFound when the stage never retried.
	Get(ctx context.Context, taskID uuid.UUID, stage string) (*domain.RetryState, error)

	WithTx(tx *sql.Tx) RetryStateStore
}
