package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/redaction-api/internal/api/shared"
	"github.com/phrazzld/redaction-api/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthenticator struct {
	principal *auth.Principal
	err       error
	got       string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, bearer string) (*auth.Principal, error) {
	s.got = bearer
	return s.principal, s.err
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	principal := &auth.Principal{ClientID: "client-1", Scope: "redact", TokenID: "jti-1"}

	tests := []struct {
		name       string
		header     string
		authErr    error
		wantStatus int
		wantBearer string
	}{
		{name: "valid token", header: "Bearer good", wantStatus: http.StatusOK, wantBearer: "good"},
		{name: "lower case scheme", header: "bearer good", wantStatus: http.StatusOK, wantBearer: "good"},
		{name: "no header", authErr: auth.ErrMissingToken, wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer old", authErr: auth.ErrExpiredToken, wantStatus: http.StatusUnauthorized, wantBearer: "old"},
		{name: "revoked", header: "Bearer gone", authErr: auth.ErrRevokedToken, wantStatus: http.StatusUnauthorized, wantBearer: "gone"},
		{name: "invalid", header: "Bearer bad", authErr: auth.ErrInvalidToken, wantStatus: http.StatusUnauthorized, wantBearer: "bad"},
		{name: "store failure", header: "Bearer x", authErr: errors.New("redis down"), wantStatus: http.StatusInternalServerError, wantBearer: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stub := &stubAuthenticator{err: tt.authErr}
			if tt.authErr == nil {
				stub.principal = principal
			}
			var seen *auth.Principal
			h := NewAuthMiddleware(stub).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, ok := GetPrincipal(r)
				require.True(t, ok)
				seen = p
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/redact/j/c", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBearer, stub.got)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, principal, seen)
			} else {
				assert.Nil(t, seen)
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestAuthenticateAnonymous(t *testing.T) {
	t.Parallel()

	authenticator, err := auth.NewAuthenticator(auth.MethodNone, auth.AuthenticatorDeps{})
	require.NoError(t, err)

	var clientID string
	h := NewAuthMiddleware(authenticator).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := GetPrincipal(r)
		clientID = p.ClientID
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", clientID)
}

func TestGetPrincipalMissing(t *testing.T) {
	t.Parallel()

	_, ok := GetPrincipal(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestRequireScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		principal  *auth.Principal
		wantStatus int
	}{
		{name: "no principal", wantStatus: http.StatusUnauthorized},
		{name: "preshared caller", principal: &auth.Principal{ClientID: "preshared-0"}, wantStatus: http.StatusOK},
		{name: "token with scope", principal: &auth.Principal{ClientID: "c", TokenID: "j", Scope: "status redact"}, wantStatus: http.StatusOK},
		{name: "token without scope", principal: &auth.Principal{ClientID: "c", TokenID: "j", Scope: "status"}, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := RequireScope("redact")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/redact", nil)
			if tt.principal != nil {
				req = req.WithContext(context.WithValue(req.Context(), shared.PrincipalKey, tt.principal))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
