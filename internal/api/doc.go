// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It adapts HTTP to the redaction service and the
// OAuth2 token service.
package api
