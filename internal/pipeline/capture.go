package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/phrazzld/redaction-api/internal/redact"
)

// Exception classes recorded on ProcessingErrors.
const (
	ClassHTTPError       = "HTTPError"
	ClassTimeout         = "Timeout"
	ClassConnectionError = "ConnectionError"
	ClassValueError      = "ValueError"
)

// ErrInvalidInput marks failures caused by the request rather than the
// environment. They are never retried.
var ErrInvalidInput = errors.New("invalid input")

// HTTPError is a response with a status outside 2xx.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s for url: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Retryable reports whether the status may succeed later.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ErrorClass names the kind of failure for a ProcessingError.
func ErrorClass(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ClassHTTPError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	if isValueError(err) {
		return ClassValueError
	}
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) {
		return ClassConnectionError
	}
	return typeName(err)
}

func isValueError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidFormat) ||
		errors.Is(err, domain.ErrUnsupportedAttachment) ||
		errors.Is(err, domain.ErrInvalidRenderer)
}

// typeName returns the bare type name of the innermost wrapped error.
func typeName(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// IsTerminal reports whether retrying err is pointless.
func IsTerminal(err error) bool {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return !httpErr.Retryable()
	}
	return isValueError(err)
}

// NewProcessingError records err against a stage. Secrets in the message
// (signed URLs, credentials) are masked since it ends up in webhook bodies.
func NewProcessingError(stage string, err error) domain.ProcessingError {
	return domain.ProcessingError{
		Message:   redact.Error(err),
		Task:      stage,
		Exception: ErrorClass(err),
	}
}

// Capture runs op for one attempt of a stage. A failure that can still be
// retried comes back as an error for the queue to retry. A failure on the
// last attempt, or one retrying cannot fix, comes back as a ProcessingError
// to carry down the chain.
func Capture[T any](stage string, job queue.Job, op func() (T, error)) (T, *domain.ProcessingError, error) {
	out, err := op()
	if err == nil {
		return out, nil, nil
	}
	if !job.LastAttempt() && !IsTerminal(err) {
		return out, nil, err
	}
	pe := NewProcessingError(stage, err)
	var zero T
	return zero, &pe, nil
}
