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

const callbackColumns = `id, task_id, status, response_code, response, error_message, created_at, updated_at`

// PostgresCallbackStore implements store.CallbackStore using PostgreSQL.
type PostgresCallbackStore struct {
	db store.DBTX
}

func NewPostgresCallbackStore(db store.DBTX) *PostgresCallbackStore {
	return &PostgresCallbackStore{db: db}
}

var _ store.CallbackStore = (*PostgresCallbackStore)(nil)

func (s *PostgresCallbackStore) WithTx(tx *sql.Tx) store.CallbackStore {
	return &PostgresCallbackStore{db: tx}
}

func (s *PostgresCallbackStore) Create(ctx context.Context, cb *domain.Callback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO callbacks (`+callbackColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cb.ID, cb.TaskID, cb.Status, cb.ResponseCode, nullString(cb.Response), nullString(cb.ErrorMessage),
		cb.CreatedAt, cb.UpdatedAt)
	return MapError(err)
}

func (s *PostgresCallbackStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Callback, error) {
	cb, err := scanCallback(s.db.QueryRowContext(ctx, `SELECT `+callbackColumns+` FROM callbacks WHERE id = $1`, id))
	if err != nil {
		return nil, mapNotFound(err, store.ErrCallbackNotFound)
	}
	return cb, nil
}

func (s *PostgresCallbackStore) Transition(ctx context.Context, cb *domain.Callback, from domain.ExecutionStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE callbacks
		SET status = $2, response_code = $3, response = $4, error_message = $5, updated_at = $6
		WHERE id = $1 AND status = $7`,
		cb.ID, cb.Status, cb.ResponseCode, nullString(cb.Response), nullString(cb.ErrorMessage), cb.UpdatedAt, from)
	if err != nil {
		return MapError(err)
	}
	return checkRowsAffected(result, fmt.Errorf("%w: callback %s is no longer %s", store.ErrUpdateFailed, cb.ID, from))
}

func (s *PostgresCallbackStore) CountForTask(ctx context.Context, taskID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM callbacks WHERE task_id = $1`, taskID).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

func (s *PostgresCallbackStore) ListStale(ctx context.Context, updatedBefore time.Time) ([]*domain.Callback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+callbackColumns+` FROM callbacks
		WHERE status IN ('created', 'started') AND updated_at < $1
		ORDER BY updated_at ASC`, updatedBefore)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var cbs []*domain.Callback
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan callback row: %w", err)
		}
		cbs = append(cbs, cb)
	}
	return cbs, rows.Err()
}

func scanCallback(row rowScanner) (*domain.Callback, error) {
	var (
		cb               domain.Callback
		response, errMsg sql.NullString
	)
	err := row.Scan(&cb.ID, &cb.TaskID, &cb.Status, &cb.ResponseCode, &response, &errMsg, &cb.CreatedAt, &cb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cb.Response = response.String
	cb.ErrorMessage = errMsg.String
	return &cb, nil
}
