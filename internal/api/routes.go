package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/redaction-api/internal/api/middleware"
)

// Route tags name every endpoint of the API.
const (
	TagHealth         = "health"
	TagRedactCreate   = "redact.create"
	TagRedactStatus   = "redact.status"
	TagOAuthToken     = "oauth2.token"
	TagOAuthRevoke    = "oauth2.revoke"
	TagReviewExposure = "review.exposure"
	TagReviewOutcome  = "review.outcome"
	TagMetrics        = "metrics"
)

// ScopeRedact grants access to the redaction endpoints.
const ScopeRedact = "redact"

// Route is one entry of the static route table.
type Route struct {
	Tag    string
	Method string
	Paths  []string
	// Auth routes run behind the authentication middleware.
	Auth bool
	// Scope, when set, is required of issued tokens.
	Scope string
}

// Routes is the API surface. Every tag must be bound to a handler.
var Routes = []Route{
	{Tag: TagHealth, Method: http.MethodGet, Paths: []string{"/health", "/api/v1/health"}},
	{Tag: TagRedactCreate, Method: http.MethodPost, Paths: []string{"/api/v1/redact"}, Auth: true, Scope: ScopeRedact},
	{Tag: TagRedactStatus, Method: http.MethodGet, Paths: []string{"/api/v1/redact/{jurisdictionId}/{caseId}"}, Auth: true, Scope: ScopeRedact},
	{Tag: TagOAuthToken, Method: http.MethodPost, Paths: []string{"/api/v1/oauth2/token"}},
	{Tag: TagOAuthRevoke, Method: http.MethodPost, Paths: []string{"/api/v1/oauth2/revoke"}, Auth: true},
	{Tag: TagReviewExposure, Method: http.MethodPost, Paths: []string{"/api/v1/experiments/review/exposure"}, Auth: true},
	{Tag: TagReviewOutcome, Method: http.MethodPost, Paths: []string{"/api/v1/experiments/review/outcome"}, Auth: true},
	{Tag: TagMetrics, Method: http.MethodGet, Paths: []string{"/metrics"}},
}

// Mount registers every route of Routes on r. Handlers are looked up by tag;
// a tag with no handler is an error. instrument, when non-nil, wraps each
// handler with its tag.
func Mount(
	r chi.Router,
	handlers map[string]http.Handler,
	authMiddleware *middleware.AuthMiddleware,
	instrument func(tag string, h http.Handler) http.Handler,
) error {
	for _, route := range Routes {
		h, ok := handlers[route.Tag]
		if !ok || h == nil {
			return fmt.Errorf("no handler registered for route %q", route.Tag)
		}
		if route.Scope != "" {
			h = middleware.RequireScope(route.Scope)(h)
		}
		if route.Auth {
			if authMiddleware == nil {
				return fmt.Errorf("route %q requires authentication but no authenticator is configured", route.Tag)
			}
			h = authMiddleware.Authenticate(h)
		}
		if instrument != nil {
			h = instrument(route.Tag, h)
		}
		for _, path := range route.Paths {
			r.Method(route.Method, path, h)
		}
	}
	for tag := range handlers {
		if !knownTag(tag) {
			return fmt.Errorf("handler registered for unknown route %q", tag)
		}
	}
	return nil
}

func knownTag(tag string) bool {
	for _, route := range Routes {
		if route.Tag == tag {
			return true
		}
	}
	return false
}
