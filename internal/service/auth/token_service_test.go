package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/mocks"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenFixture(t *testing.T) (*mocks.Memory, TokenService) {
	t.Helper()
	mem := mocks.NewMemory()
	require.NoError(t, mem.Clients().Create(context.Background(), &domain.Client{
		ID:         "client-1",
		Name:       "Records office",
		SecretHash: mustHash(t, "s3cret"),
		Scopes:     []string{"redact", "status"},
		CreatedAt:  time.Now().UTC(),
	}))
	_, log := logger.NewTestLogger(t)
	svc, err := NewTokenService(mem.Clients(), newTestJWTService(testSecret, time.Hour, time.Now), nil, log)
	require.NoError(t, err)
	return mem, svc
}

func TestNewTokenService(t *testing.T) {
	t.Parallel()
	mem := mocks.NewMemory()

	_, err := NewTokenService(nil, NewMockJWTService(), nil, nil)
	assert.EqualError(t, err, "clients cannot be nil")

	_, err = NewTokenService(mem.Clients(), nil, nil, nil)
	assert.EqualError(t, err, "jwt cannot be nil")
}

func TestTokenServiceIssue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		clientID  string
		secret    string
		scope     string
		wantScope string
		wantErr   error
	}{
		{name: "all granted scopes", clientID: "client-1", secret: "s3cret", wantScope: "redact status"},
		{name: "narrowed scope", clientID: "client-1", secret: "s3cret", scope: "  status ", wantScope: "status"},
		{name: "scope not granted", clientID: "client-1", secret: "s3cret", scope: "redact admin", wantErr: ErrInvalidScope},
		{name: "wrong secret", clientID: "client-1", secret: "guess", wantErr: ErrInvalidClient},
		{name: "unknown client", clientID: "client-2", secret: "s3cret", wantErr: ErrInvalidClient},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, svc := newTokenFixture(t)

			token, err := svc.Issue(context.Background(), tc.clientID, tc.secret, tc.scope)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, token)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, token.Value)
			assert.Equal(t, tc.clientID, token.Claims.Subject)
			assert.Equal(t, tc.wantScope, token.Claims.Scope)
		})
	}
}

func TestTokenServiceIssueSigningFailure(t *testing.T) {
	t.Parallel()
	mem, _ := newTokenFixture(t)
	jwtSvc := NewMockJWTService()
	jwtSvc.TokenError = errors.New("signer down")

	svc, err := NewTokenService(mem.Clients(), jwtSvc, nil, nil)
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), "client-1", "s3cret", "")
	assert.EqualError(t, err, "signer down")
}

func TestTokenServiceRevoke(t *testing.T) {
	t.Parallel()
	mem, svc := newTokenFixture(t)

	assert.ErrorIs(t, svc.Revoke(context.Background(), nil), ErrInvalidToken)
	assert.ErrorIs(t, svc.Revoke(context.Background(), &Principal{ClientID: "preshared-0"}), ErrInvalidToken)

	p := &Principal{ClientID: "client-1", TokenID: "jti-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, svc.Revoke(context.Background(), p))

	revoked, err := mem.Clients().IsRevoked(context.Background(), "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}
