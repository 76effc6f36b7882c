package api

import (
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/phrazzld/redaction-api/internal/api/middleware"
	"github.com/phrazzld/redaction-api/internal/api/shared"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
	"github.com/phrazzld/redaction-api/internal/service/auth"
)

const grantClientCredentials = "client_credentials"

// OAuthHandler implements the OAuth2 token and revocation endpoints.
type OAuthHandler struct {
	tokens auth.TokenService
	now    func() time.Time
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(tokens auth.TokenService) *OAuthHandler {
	return &OAuthHandler{tokens: tokens, now: time.Now}
}

// Token issues an access token with the client credentials grant.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	req, err := parseTokenRequest(w, r)
	if err != nil {
		h.oauthError(w, r, http.StatusBadRequest, "invalid_request", "Malformed token request", err)
		return
	}
	if req.GrantType != grantClientCredentials {
		h.oauthError(w, r, http.StatusBadRequest, "unsupported_grant_type", "Only client_credentials is supported", nil)
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		h.oauthError(w, r, http.StatusUnauthorized, "invalid_client", "Client credentials are required", nil)
		return
	}

	token, err := h.tokens.Issue(r.Context(), req.ClientID, req.ClientSecret, req.Scope)
	switch {
	case errors.Is(err, auth.ErrInvalidClient):
		h.oauthError(w, r, http.StatusUnauthorized, "invalid_client", "Invalid client credentials", err)
		return
	case errors.Is(err, auth.ErrInvalidScope):
		h.oauthError(w, r, http.StatusBadRequest, "invalid_scope", GetSafeErrorMessage(err), err)
		return
	case err != nil:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}

	expiresIn := token.Claims.ExpiresAt.Sub(h.now()).Round(time.Second)
	shared.RespondWithJSON(w, r, http.StatusOK, TokenResponse{
		AccessToken: token.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresIn / time.Second),
		Scope:       token.Claims.Scope,
	})
}

// Revoke blacklists the token the request was authenticated with.
func (h *OAuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := h.tokens.Revoke(r.Context(), p); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Only issued tokens can be revoked")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to revoke token", err)
		return
	}
	logger.FromContext(r.Context()).Info("token revoked by client", "client_id", p.ClientID)
	w.WriteHeader(http.StatusOK)
}

func (h *OAuthHandler) oauthError(w http.ResponseWriter, r *http.Request, status int, code, description string, err error) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
	}
	logger.FromContext(r.Context()).Debug("token request rejected",
		"error_code", code,
		"cause", errString(err))
	shared.RespondWithJSON(w, r, status, OAuthErrorResponse{Error: code, ErrorDescription: description})
}

// parseTokenRequest reads a form or JSON body. HTTP Basic credentials take
// precedence over body credentials.
func parseTokenRequest(w http.ResponseWriter, r *http.Request) (TokenRequest, error) {
	var req TokenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := shared.DecodeJSON(w, r, &req); err != nil {
			return req, err
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req = TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			Scope:        r.PostForm.Get("scope"),
		}
	}
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID, req.ClientSecret = id, secret
	}
	return req, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
