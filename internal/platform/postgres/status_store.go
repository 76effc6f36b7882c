package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

// PostgresDocumentStatusStore implements store.DocumentStatusStore.
type PostgresDocumentStatusStore struct {
	db store.DBTX
}

func NewPostgresDocumentStatusStore(db store.DBTX) *PostgresDocumentStatusStore {
	return &PostgresDocumentStatusStore{db: db}
}

var _ store.DocumentStatusStore = (*PostgresDocumentStatusStore)(nil)

func (s *PostgresDocumentStatusStore) Save(ctx context.Context, ds *domain.DocumentStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_statuses (id, jurisdiction_id, case_id, document_id, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ds.ID, ds.JurisdictionID, ds.CaseID, ds.DocumentID, ds.Status, nullString(ds.Error), ds.CreatedAt)
	return MapError(err)
}

func (s *PostgresDocumentStatusStore) ListByCase(ctx context.Context, jurisdictionID, caseID string) ([]*domain.DocumentStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, jurisdiction_id, case_id, document_id, status, error, created_at
		FROM document_statuses
		WHERE jurisdiction_id = $1 AND case_id = $2
		ORDER BY created_at ASC`, jurisdictionID, caseID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.DocumentStatus
	for rows.Next() {
		var (
			ds     domain.DocumentStatus
			errMsg sql.NullString
		)
		if err := rows.Scan(&ds.ID, &ds.JurisdictionID, &ds.CaseID, &ds.DocumentID, &ds.Status, &errMsg, &ds.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document status row: %w", err)
		}
		ds.Error = errMsg.String
		out = append(out, &ds)
	}
	return out, rows.Err()
}
