package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/phrazzld/redaction-api/internal/store"
)

// TokenService implements the OAuth2 client credentials grant.
type TokenService interface {
	// Issue checks a client's secret and returns a token for the requested
	// scope, or for every granted scope when scope is empty.
	Issue(ctx context.Context, clientID, secret, scope string) (*Token, error)

	// Revoke blacklists the token a principal authenticated with until it
	// would have expired.
	Revoke(ctx context.Context, p *Principal) error
}

type tokenService struct {
	clients  store.ClientStore
	jwt      JWTService
	verifier PasswordVerifier
	logger   *slog.Logger
}

// NewTokenService creates a TokenService.
func NewTokenService(clients store.ClientStore, jwt JWTService, verifier PasswordVerifier, logger *slog.Logger) (TokenService, error) {
	if clients == nil {
		return nil, errors.New("clients cannot be nil")
	}
	if jwt == nil {
		return nil, errors.New("jwt cannot be nil")
	}
	if verifier == nil {
		verifier = NewBcryptVerifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &tokenService{
		clients:  clients,
		jwt:      jwt,
		verifier: verifier,
		logger:   logger.With("component", "token_service"),
	}, nil
}

func (s *tokenService) Issue(ctx context.Context, clientID, secret, scope string) (*Token, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if errors.Is(err, store.ErrClientNotFound) {
		s.logger.Debug("token requested for unknown client", "client_id", clientID)
		return nil, ErrInvalidClient
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if err := s.verifier.Compare(client.SecretHash, secret); err != nil {
		s.logger.Debug("client secret mismatch", "client_id", clientID)
		return nil, ErrInvalidClient
	}

	granted := client.Scope()
	if scope != "" {
		for _, requested := range strings.Fields(scope) {
			if !slices.Contains(client.Scopes, requested) {
				return nil, fmt.Errorf("%w: %s", ErrInvalidScope, requested)
			}
		}
		granted = strings.Join(strings.Fields(scope), " ")
	}

	token, err := s.jwt.GenerateToken(ctx, client.ID, granted)
	if err != nil {
		return nil, err
	}
	s.logger.Info("issued client token",
		"client_id", client.ID,
		"token_id", token.Claims.ID,
		"expires_at", token.Claims.ExpiresAt)
	return token, nil
}

func (s *tokenService) Revoke(ctx context.Context, p *Principal) error {
	if p == nil || p.TokenID == "" {
		return ErrInvalidToken
	}
	if err := s.clients.Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	s.logger.Info("revoked client token", "client_id", p.ClientID, "token_id", p.TokenID)
	return nil
}
