package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// These errors represent conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Unexpected errors are wrapped in service-specific error types
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrInvalidRequest indicates a redaction request that cannot be turned
	// into tasks, such as an unknown renderer or a document without content.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidRequest = errors.New("invalid redaction request")

	// ErrDuplicateDocument indicates a request that names the same document
	// twice. API layer should map this to HTTP 400 Bad Request.
	ErrDuplicateDocument = errors.New("document submitted more than once")
)
