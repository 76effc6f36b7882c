package api

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/redaction-api/internal/api/shared"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthCheck is one named dependency of the health endpoint.
type HealthCheck struct {
	Name   string
	Pinger Pinger
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler that pings every check.
func NewHealthHandler(timeout time.Duration, checks ...HealthCheck) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// Health responds 200 when every dependency answers and 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, c.Name+" unavailable", err,
				shared.WithElevatedLogLevel())
			return
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Detail: "ok"})
}
