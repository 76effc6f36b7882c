package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

const jobColumns = `id, task_id, status, error_message, created_at, updated_at`

// PostgresJobStore implements store.JobStore using PostgreSQL.
type PostgresJobStore struct {
	db store.DBTX
}

func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

var _ store.JobStore = (*PostgresJobStore)(nil)

func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{db: tx}
}

// Create inserts a job. A second unfinished job for the same task violates
// idx_jobs_one_active and maps to store.ErrDuplicate.
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.TaskID, job.Status, nullString(job.ErrorMessage), job.CreatedAt, job.UpdatedAt)
	return MapError(err)
}

func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var (
		j      domain.Job
		errMsg sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.TaskID, &j.Status, &errMsg, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err, store.ErrJobNotFound)
	}
	j.ErrorMessage = errMsg.String
	return &j, nil
}

func (s *PostgresJobStore) Transition(ctx context.Context, job *domain.Job, from domain.ExecutionStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1 AND status = $5`,
		job.ID, job.Status, nullString(job.ErrorMessage), job.UpdatedAt, from)
	if err != nil {
		return MapError(err)
	}
	return checkRowsAffected(result, fmt.Errorf("%w: job %s is no longer %s", store.ErrUpdateFailed, job.ID, from))
}

func (s *PostgresJobStore) CountForTask(ctx context.Context, taskID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE task_id = $1`, taskID).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

func (s *PostgresJobStore) ListStale(ctx context.Context, updatedBefore time.Time) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('created', 'started') AND updated_at < $1
		ORDER BY updated_at ASC`, updatedBefore)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		var (
			j      domain.Job
			errMsg sql.NullString
		)
		if err := rows.Scan(&j.ID, &j.TaskID, &j.Status, &errMsg, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		j.ErrorMessage = errMsg.String
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}
