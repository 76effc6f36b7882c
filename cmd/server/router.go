package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/redaction-api/internal/api"
	apiMiddleware "github.com/phrazzld/redaction-api/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	httpMetrics, err := apiMiddleware.NewHTTPMetrics(app.registry)
	if err != nil {
		return nil, err
	}

	redactionHandler := api.NewRedactionHandler(app.redactions)
	health := api.NewHealthHandler(0,
		api.HealthCheck{Name: "postgres", Pinger: api.PingFunc(app.db.PingContext)},
		api.HealthCheck{Name: "redis", Pinger: api.PingFunc(func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		})},
	)

	handlers := map[string]http.Handler{
		api.TagHealth:         http.HandlerFunc(health.Health),
		api.TagRedactCreate:   http.HandlerFunc(redactionHandler.Create),
		api.TagRedactStatus:   http.HandlerFunc(redactionHandler.Status),
		api.TagOAuthToken:     http.HandlerFunc(api.NotImplemented),
		api.TagOAuthRevoke:    http.HandlerFunc(api.NotImplemented),
		api.TagReviewExposure: http.HandlerFunc(api.NotImplemented),
		api.TagReviewOutcome:  http.HandlerFunc(api.NotImplemented),
		api.TagMetrics:        promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{Registry: app.registry}),
	}
	if app.tokens != nil {
		oauth := api.NewOAuthHandler(app.tokens)
		handlers[api.TagOAuthToken] = http.HandlerFunc(oauth.Token)
		handlers[api.TagOAuthRevoke] = http.HandlerFunc(oauth.Revoke)
	}

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.authenticator)
	if err := api.Mount(r, handlers, authMiddleware, httpMetrics.Instrument); err != nil {
		return nil, err
	}
	return r, nil
}
