package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
	"github.com/phrazzld/redaction-api/internal/store"
)

const taskColumns = `id, jurisdiction_id, case_id, document_id, document, callback_url, target_blob_url,
	renderer, mode, status, retry_after, claimed_at, dispatched_at, last_error, created_at, updated_at`

// PostgresTaskStore implements store.TaskStore using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx}
}

// Create inserts a new task.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	doc, err := json.Marshal(task.Document)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		task.ID, task.JurisdictionID, task.CaseID, task.DocumentID, string(doc),
		nullString(task.CallbackURL), nullString(task.TargetBlobURL),
		task.Renderer, task.Mode, task.Status,
		task.RetryAfter, task.ClaimedAt, task.DispatchedAt, nullString(task.LastError),
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to create task",
			"task_id", task.ID,
			"error", err)
		return MapError(err)
	}
	return nil
}

func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, mapNotFound(err, store.ErrTaskNotFound)
	}
	return t, nil
}

func (s *PostgresTaskStore) ListByCase(ctx context.Context, jurisdictionID, caseID string) ([]*domain.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE jurisdiction_id = $1 AND case_id = $2
		ORDER BY created_at ASC`, jurisdictionID, caseID)
}

func (s *PostgresTaskStore) NextPending(ctx context.Context, maxRetries int, now time.Time) (*domain.Task, error) {
	return s.next(ctx, `
		SELECT `+taskColumns+` FROM tasks t
		WHERE t.mode = 'processor' AND t.status = 'pending'
			AND (t.retry_after IS NULL OR t.retry_after <= $1)
			AND (SELECT COUNT(*) FROM jobs j WHERE j.task_id = t.id) < $2
			AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.task_id = t.id AND j.status = 'success')
		ORDER BY t.created_at ASC
		LIMIT 1
		FOR UPDATE OF t SKIP LOCKED`, now, maxRetries)
}

func (s *PostgresTaskStore) NextCallback(ctx context.Context, maxRetries int, now time.Time) (*domain.Task, error) {
	return s.next(ctx, `
		SELECT `+taskColumns+` FROM tasks t
		WHERE t.mode = 'processor' AND t.status = 'pending'
			AND t.callback_url IS NOT NULL
			AND (t.retry_after IS NULL OR t.retry_after <= $1)
			AND EXISTS (SELECT 1 FROM jobs j WHERE j.task_id = t.id AND j.status = 'success')
			AND (SELECT COUNT(*) FROM callbacks c WHERE c.task_id = t.id) < $2
			AND NOT EXISTS (SELECT 1 FROM callbacks c WHERE c.task_id = t.id AND c.status = 'success')
		ORDER BY t.created_at ASC
		LIMIT 1
		FOR UPDATE OF t SKIP LOCKED`, now, maxRetries)
}

func (s *PostgresTaskStore) next(ctx context.Context, query string, args ...any) (*domain.Task, error) {
	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return tasks[0], nil
}

// Claim is the conditional half of the claim protocol: it only succeeds for
// a task that is still pending.
func (s *PostgresTaskStore) Claim(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'claimed', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return MapError(err)
	}
	return checkRowsAffected(result, store.ErrAlreadyClaimed)
}

func (s *PostgresTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	retryAfter *time.Time,
	lastError string,
) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $2, retry_after = $3, last_error = COALESCE($4, last_error), updated_at = $5
		WHERE id = $1`,
		id, status, retryAfter, nullString(lastError), time.Now().UTC())
	if err != nil {
		logger.FromContext(ctx).Error("failed to update task status",
			"task_id", id,
			"status", status,
			"error", err)
		return MapError(err)
	}
	return checkRowsAffected(result, store.ErrTaskNotFound)
}

func (s *PostgresTaskStore) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET dispatched_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return MapError(err)
	}
	return checkRowsAffected(result, store.ErrTaskNotFound)
}

func (s *PostgresTaskStore) ResetOrphans(ctx context.Context, claimedBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks t SET status = 'pending', updated_at = $2
		WHERE t.status = 'claimed' AND t.claimed_at < $1
			AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.task_id = t.id AND j.created_at >= t.claimed_at)
			AND NOT EXISTS (SELECT 1 FROM callbacks c WHERE c.task_id = t.id AND c.created_at >= t.claimed_at)`,
		claimedBefore, time.Now().UTC())
	if err != nil {
		return 0, MapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (s *PostgresTaskStore) HandOffStaleChains(ctx context.Context, dispatchedBefore time.Time) ([]*domain.Task, error) {
	return s.queryTasks(ctx, `
		UPDATE tasks SET mode = 'processor', updated_at = $2
		WHERE mode = 'chain' AND status = 'pending'
			AND dispatched_at IS NOT NULL AND dispatched_at < $1
		RETURNING `+taskColumns, dispatchedBefore, time.Now().UTC())
}

func (s *PostgresTaskStore) ListUndispatchedChains(ctx context.Context, createdBefore time.Time) ([]*domain.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE mode = 'chain' AND status = 'pending'
			AND dispatched_at IS NULL AND created_at < $1
		ORDER BY created_at, id`, createdBefore)
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                                   domain.Task
		doc                                 []byte
		callbackURL, targetBlobURL, lastErr sql.NullString
		retryAfter, claimedAt, dispatchedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.JurisdictionID, &t.CaseID, &t.DocumentID, &doc, &callbackURL, &targetBlobURL,
		&t.Renderer, &t.Mode, &t.Status, &retryAfter, &claimedAt, &dispatchedAt, &lastErr,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &t.Document); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	t.CallbackURL = callbackURL.String
	t.TargetBlobURL = targetBlobURL.String
	t.LastError = lastErr.String
	t.RetryAfter = timePtr(retryAfter)
	t.ClaimedAt = timePtr(claimedAt)
	t.DispatchedAt = timePtr(dispatchedAt)
	return &t, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
