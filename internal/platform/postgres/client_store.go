package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/store"
)

// PostgresClientStore implements store.ClientStore.
type PostgresClientStore struct {
	db store.DBTX
}

func NewPostgresClientStore(db store.DBTX) *PostgresClientStore {
	return &PostgresClientStore{db: db}
}

var _ store.ClientStore = (*PostgresClientStore)(nil)

func (s *PostgresClientStore) Create(ctx context.Context, c *domain.Client) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, secret_hash, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.SecretHash, c.Scope(), c.CreatedAt)
	return MapError(err)
}

func (s *PostgresClientStore) GetByID(ctx context.Context, clientID string) (*domain.Client, error) {
	var (
		c      domain.Client
		scopes string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, secret_hash, scopes, created_at FROM clients WHERE id = $1`, clientID).
		Scan(&c.ID, &c.Name, &c.SecretHash, &scopes, &c.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err, store.ErrClientNotFound)
	}
	c.Scopes = strings.Fields(scopes)
	return &c, nil
}

func (s *PostgresClientStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING`, jti, expiresAt)
	return MapError(err)
}

func (s *PostgresClientStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&revoked)
	if err != nil {
		return false, MapError(err)
	}
	return revoked, nil
}
