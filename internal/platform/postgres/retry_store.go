package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

// PostgresRetryStateStore implements store.RetryStateStore.
type PostgresRetryStateStore struct {
	db store.DBTX
}

func NewPostgresRetryStateStore(db store.DBTX) *PostgresRetryStateStore {
	return &PostgresRetryStateStore{db: db}
}

var _ store.RetryStateStore = (*PostgresRetryStateStore)(nil)

func (s *PostgresRetryStateStore) WithTx(tx *sql.Tx) store.RetryStateStore {
	return &PostgresRetryStateStore{db: tx}
}

func (s *PostgresRetryStateStore) Record(ctx context.Context, rs *domain.RetryState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retry_states (task_id, stage, attempts, last_error, next_eligible_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id, stage) DO UPDATE
		SET attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			next_eligible_at = EXCLUDED.next_eligible_at,
			updated_at = EXCLUDED.updated_at`,
		rs.TaskID, rs.Stage, rs.Attempts, rs.LastError, rs.NextEligibleAt, rs.UpdatedAt)
	return MapError(err)
}

func (s *PostgresRetryStateStore) Get(ctx context.Context, taskID uuid.UUID, stage string) (*domain.RetryState, error) {
	var rs domain.RetryState
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, stage, attempts, last_error, next_eligible_at, updated_at
		FROM retry_states WHERE task_id = $1 AND stage = $2`, taskID, stage).
		Scan(&rs.TaskID, &rs.Stage, &rs.Attempts, &rs.LastError, &rs.NextEligibleAt, &rs.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err, store.ErrRetryNotFound)
	}
	return &rs, nil
}
