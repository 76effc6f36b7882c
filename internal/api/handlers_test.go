package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/redaction-api/internal/api/middleware"
	"github.com/phrazzld/redaction-api/internal/api/shared"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/service"
	"github.com/phrazzld/redaction-api/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedactionService struct {
	SubmitFn func(ctx context.Context, req domain.RedactionRequest) ([]domain.RedactionResult, error)
	StatusFn func(ctx context.Context, jurisdictionID, caseID string) (*domain.RedactionStatus, error)
}

func (f *fakeRedactionService) Submit(ctx context.Context, req domain.RedactionRequest) ([]domain.RedactionResult, error) {
	return f.SubmitFn(ctx, req)
}

func (f *fakeRedactionService) Status(ctx context.Context, jurisdictionID, caseID string) (*domain.RedactionStatus, error) {
	return f.StatusFn(ctx, jurisdictionID, caseID)
}

type fakeTokenService struct {
	IssueFn  func(ctx context.Context, clientID, secret, scope string) (*auth.Token, error)
	RevokeFn func(ctx context.Context, p *auth.Principal) error
}

func (f *fakeTokenService) Issue(ctx context.Context, clientID, secret, scope string) (*auth.Token, error) {
	return f.IssueFn(ctx, clientID, secret, scope)
}

func (f *fakeTokenService) Revoke(ctx context.Context, p *auth.Principal) error {
	return f.RevokeFn(ctx, p)
}

const validRequestBody = `{
	"jurisdictionId": "j1",
	"caseId": "c1",
	"subjects": [{"role": "accused", "subject": {"subjectId": "s1", "name": "John Smith"}}],
	"objects": [{"document": {"attachmentType": "TEXT", "documentId": "d1", "content": "John Smith was seen"},
	             "callbackUrl": "https://example.com/hook"}]
}`

func TestRedactionHandlerCreate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantError  string
	}{
		{name: "accepted", body: validRequestBody, wantStatus: http.StatusAccepted},
		{name: "malformed json", body: `{"caseId":`, wantStatus: http.StatusBadRequest, wantError: "Invalid request format"},
		{
			name:       "missing objects",
			body:       `{"jurisdictionId":"j1","caseId":"c1","subjects":[{"role":"accused","subject":{"subjectId":"s1","name":"A"}}]}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid Objects: required field",
		},
		{
			name:       "unsupported attachment",
			body:       strings.Replace(validRequestBody, `"TEXT"`, `"DOCX"`, 1),
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid Objects[0].Document.AttachmentType: invalid value",
		},
		{
			name:       "duplicate document",
			body:       validRequestBody,
			submitErr:  service.ErrDuplicateDocument,
			wantStatus: http.StatusBadRequest,
			wantError:  "Each document may appear only once per request",
		},
		{
			name:       "service failure",
			body:       validRequestBody,
			submitErr:  errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to submit redaction request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var submitted *domain.RedactionRequest
			svc := &fakeRedactionService{
				SubmitFn: func(_ context.Context, req domain.RedactionRequest) ([]domain.RedactionResult, error) {
					submitted = &req
					if tt.submitErr != nil {
						return nil, tt.submitErr
					}
					return []domain.RedactionResult{{
						JurisdictionID:  req.JurisdictionID,
						CaseID:          req.CaseID,
						InputDocumentID: "d1",
						MaskedSubjects:  []domain.MaskedSubject{},
						Status:          domain.ResultQueued,
					}}, nil
				},
			}
			h := NewRedactionHandler(svc)

			rec := httptest.NewRecorder()
			h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/redact", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				var resp shared.ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, tt.wantError, resp.Error)
				return
			}

			require.NotNil(t, submitted)
			assert.Equal(t, "s1", submitted.Subjects[0].Subject.SubjectID)
			var results []domain.RedactionResult
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&results))
			require.Len(t, results, 1)
			assert.Equal(t, domain.ResultQueued, results[0].Status)
			assert.Equal(t, "d1", results[0].InputDocumentID)
		})
	}
}

func TestRedactionHandlerStatus(t *testing.T) {
	t.Parallel()

	svc := &fakeRedactionService{
		StatusFn: func(_ context.Context, jurisdictionID, caseID string) (*domain.RedactionStatus, error) {
			if caseID == "broken" {
				return nil, errors.New("redis: connection refused")
			}
			return &domain.RedactionStatus{
				JurisdictionID: jurisdictionID,
				CaseID:         caseID,
				Requests:       []domain.RedactionResult{},
			}, nil
		},
	}
	r := chi.NewRouter()
	r.Get("/api/v1/redact/{jurisdictionId}/{caseId}", NewRedactionHandler(svc).Status)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/redact/j1/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jurisdictionId":"j1","caseId":"c1","requests":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/redact/j1/broken", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}

func TestOAuthHandlerToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	issued := &auth.Token{
		Value:  "signed.jwt.value",
		Claims: auth.Claims{Subject: "client-1", Scope: "redact", ExpiresAt: now.Add(time.Hour), ID: "jti-1"},
	}

	form := func(v url.Values) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth2/token", strings.NewReader(v.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req
	}

	tests := []struct {
		name       string
		req        func() *http.Request
		issueErr   error
		wantStatus int
		wantCode   string
		wantCreds  [2]string
	}{
		{
			name: "form body",
			req: func() *http.Request {
				return form(url.Values{"grant_type": {"client_credentials"}, "client_id": {"client-1"}, "client_secret": {"s3cret"}})
			},
			wantStatus: http.StatusOK,
			wantCreds:  [2]string{"client-1", "s3cret"},
		},
		{
			name: "basic auth",
			req: func() *http.Request {
				req := form(url.Values{"grant_type": {"client_credentials"}})
				req.SetBasicAuth("client-1", "basic-secret")
				return req
			},
			wantStatus: http.StatusOK,
			wantCreds:  [2]string{"client-1", "basic-secret"},
		},
		{
			name: "json body",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth2/token",
					strings.NewReader(`{"grant_type":"client_credentials","client_id":"client-1","client_secret":"s3cret"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantStatus: http.StatusOK,
			wantCreds:  [2]string{"client-1", "s3cret"},
		},
		{
			name: "unsupported grant",
			req: func() *http.Request {
				return form(url.Values{"grant_type": {"password"}, "client_id": {"client-1"}, "client_secret": {"x"}})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "unsupported_grant_type",
		},
		{
			name:       "missing credentials",
			req:        func() *http.Request { return form(url.Values{"grant_type": {"client_credentials"}}) },
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_client",
		},
		{
			name: "wrong secret",
			req: func() *http.Request {
				return form(url.Values{"grant_type": {"client_credentials"}, "client_id": {"client-1"}, "client_secret": {"bad"}})
			},
			issueErr:   auth.ErrInvalidClient,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_client",
			wantCreds:  [2]string{"client-1", "bad"},
		},
		{
			name: "scope not granted",
			req: func() *http.Request {
				return form(url.Values{"grant_type": {"client_credentials"}, "client_id": {"client-1"}, "client_secret": {"s3cret"}, "scope": {"admin"}})
			},
			issueErr:   auth.ErrInvalidScope,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_scope",
			wantCreds:  [2]string{"client-1", "s3cret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotCreds [2]string
			h := NewOAuthHandler(&fakeTokenService{
				IssueFn: func(_ context.Context, clientID, secret, _ string) (*auth.Token, error) {
					gotCreds = [2]string{clientID, secret}
					if tt.issueErr != nil {
						return nil, tt.issueErr
					}
					return issued, nil
				},
			})
			h.now = func() time.Time { return now }

			rec := httptest.NewRecorder()
			h.Token(rec, tt.req())

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			assert.Equal(t, tt.wantCreds, gotCreds)

			if tt.wantCode != "" {
				var resp OAuthErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, tt.wantCode, resp.Error)
				return
			}
			var resp TokenResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, TokenResponse{
				AccessToken: "signed.jwt.value",
				TokenType:   "Bearer",
				ExpiresIn:   3600,
				Scope:       "redact",
			}, resp)
		})
	}
}

func TestOAuthHandlerRevoke(t *testing.T) {
	t.Parallel()

	withPrincipal := func(p *auth.Principal) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth2/revoke", nil)
		if p == nil {
			return req
		}
		return req.WithContext(context.WithValue(req.Context(), shared.PrincipalKey, p))
	}

	var revoked *auth.Principal
	h := NewOAuthHandler(&fakeTokenService{
		RevokeFn: func(_ context.Context, p *auth.Principal) error {
			if p.TokenID == "" {
				return auth.ErrInvalidToken
			}
			revoked = p
			return nil
		},
	})

	rec := httptest.NewRecorder()
	h.Revoke(rec, withPrincipal(nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Revoke(rec, withPrincipal(&auth.Principal{ClientID: "preshared-0"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	token := &auth.Principal{ClientID: "client-1", TokenID: "jti-1"}
	rec = httptest.NewRecorder()
	h.Revoke(rec, withPrincipal(token))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, token, revoked)

	_, ok := middleware.GetPrincipal(withPrincipal(token))
	assert.True(t, ok)
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(time.Second, HealthCheck{"postgres", ok}, HealthCheck{"redis", ok}).
		Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"detail":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewHealthHandler(time.Second, HealthCheck{"postgres", ok}, HealthCheck{"redis", down}).
		Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis unavailable")
}

func TestNotImplemented(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NotImplemented(rec, httptest.NewRequest(http.MethodPost, "/api/v1/experiments/review/exposure", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
