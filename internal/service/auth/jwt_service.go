package auth

import (
	"context"
	"time"
)

// JWTService defines operations for managing client access tokens.
type JWTService interface {
	// GenerateToken creates a signed access token for a client with the
	// given space-separated scope.
	GenerateToken(ctx context.Context, clientID, scope string) (*Token, error)

	// ValidateToken validates the provided access token string and extracts the claims.
	// Returns the claims if the token is valid, or an error if validation
	// fails (expired, invalid signature, etc.).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Token is a signed access token and the claims it carries.
type Token struct {
	Value  string
	Claims Claims
}

// Claims represents the claims carried by an access token.
type Claims struct {
	// Subject is the client id the token was issued to.
	Subject string `json:"sub,omitempty"`

	// Scope is the space-separated list of granted scopes.
	Scope string `json:"scope,omitempty"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
