package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

// PostgresRedactionStore implements store.RedactionStore using PostgreSQL.
type PostgresRedactionStore struct {
	db store.DBTX
}

func NewPostgresRedactionStore(db store.DBTX) *PostgresRedactionStore {
	return &PostgresRedactionStore{db: db}
}

var _ store.RedactionStore = (*PostgresRedactionStore)(nil)

func (s *PostgresRedactionStore) WithTx(tx *sql.Tx) store.RedactionStore {
	return &PostgresRedactionStore{db: tx}
}

func (s *PostgresRedactionStore) SaveFile(ctx context.Context, f *domain.File) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, task_id, content_hash, mime_type, size, storage_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.TaskID, f.ContentHash, f.MimeType, f.Size, f.StorageID, f.CreatedAt)
	return MapError(err)
}

func (s *PostgresRedactionStore) SaveRedaction(ctx context.Context, r *domain.Redaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO redactions (id, task_id, job_id, file_id, renderer, external_link, content_storage_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.TaskID, r.JobID, r.FileID, r.Renderer,
		nullString(r.ExternalLink), nullString(r.ContentStorageID), r.CreatedAt)
	return MapError(err)
}

func (s *PostgresRedactionStore) LatestForTask(ctx context.Context, taskID uuid.UUID) (*domain.Redaction, error) {
	var (
		r             domain.Redaction
		link, storage sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, job_id, file_id, renderer, external_link, content_storage_id, created_at
		FROM redactions WHERE task_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, taskID).
		Scan(&r.ID, &r.TaskID, &r.JobID, &r.FileID, &r.Renderer, &link, &storage, &r.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err, store.ErrRedactionNotFound)
	}
	r.ExternalLink = link.String
	r.ContentStorageID = storage.String
	return &r, nil
}
