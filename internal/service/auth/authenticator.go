package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/redaction-api/internal/store"
)

// Authentication methods.
const (
	MethodNone              = "none"
	MethodPreshared         = "preshared"
	MethodClientCredentials = "client_credentials"
)

// Principal is the caller behind an authenticated request.
type Principal struct {
	ClientID string
	Scope    string

	// TokenID and ExpiresAt are set only for issued tokens.
	TokenID   string
	ExpiresAt time.Time
}

// Authenticator turns a bearer credential into a Principal.
type Authenticator interface {
	// Authenticate returns ErrMissingToken for an empty credential and
	// ErrInvalidToken, ErrExpiredToken or ErrRevokedToken for a rejected one.
	Authenticate(ctx context.Context, bearer string) (*Principal, error)
}

// AuthenticatorDeps are what the configured method needs. Unused fields may
// be nil.
type AuthenticatorDeps struct {
	PresharedHashes []string
	JWT             JWTService
	Clients         store.ClientStore
	Verifier        PasswordVerifier
}

// NewAuthenticator returns the Authenticator for an auth method.
func NewAuthenticator(method string, deps AuthenticatorDeps) (Authenticator, error) {
	switch method {
	case MethodNone, "":
		return anonymousAuthenticator{}, nil
	case MethodPreshared:
		if len(deps.PresharedHashes) == 0 {
			return nil, errors.New("preshared authentication needs at least one hash")
		}
		verifier := deps.Verifier
		if verifier == nil {
			verifier = NewBcryptVerifier()
		}
		return &presharedAuthenticator{hashes: deps.PresharedHashes, verifier: verifier}, nil
	case MethodClientCredentials:
		if deps.JWT == nil || deps.Clients == nil {
			return nil, errors.New("client credentials authentication needs a JWT service and a client store")
		}
		return &tokenAuthenticator{jwt: deps.JWT, clients: deps.Clients}, nil
	default:
		return nil, fmt.Errorf("unknown auth method %q", method)
	}
}

type anonymousAuthenticator struct{}

func (anonymousAuthenticator) Authenticate(context.Context, string) (*Principal, error) {
	return &Principal{ClientID: "anonymous"}, nil
}

// presharedAuthenticator accepts any secret matching one of the configured
// bcrypt hashes.
type presharedAuthenticator struct {
	hashes   []string
	verifier PasswordVerifier
}

func (a *presharedAuthenticator) Authenticate(_ context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, ErrMissingToken
	}
	for i, h := range a.hashes {
		if a.verifier.Compare(h, bearer) == nil {
			return &Principal{ClientID: fmt.Sprintf("preshared-%d", i)}, nil
		}
	}
	return nil, ErrInvalidToken
}

// tokenAuthenticator validates issued tokens and consults the revocation
// list on every request.
type tokenAuthenticator struct {
	jwt     JWTService
	clients store.ClientStore
}

func (a *tokenAuthenticator) Authenticate(ctx context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, ErrMissingToken
	}
	claims, err := a.jwt.ValidateToken(ctx, bearer)
	if err != nil {
		return nil, err
	}
	revoked, err := a.clients.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevokedToken
	}
	return &Principal{
		ClientID:  claims.Subject,
		Scope:     claims.Scope,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}
