package store

import (
	"context"
	"time"

	"github.com/phrazzld/redaction-api/internal/domain"
)

// ClientStore persists API clients and revoked token ids.
type ClientStore interface {
	// Create returns ErrDuplicate if the client id is taken.
	Create(ctx context.Context, client *domain.Client) error

	// GetByID returns ErrClientNotFound if the client does not exist.
	GetByID(ctx context.Context, clientID string) (*domain.Client, error)

	// Revoke records a token id as revoked until it would have expired.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error

	IsRevoked(ctx context.Context, jti string) (bool, error)
}
