// Package service contains the application use cases that sit between the
// HTTP handlers and the stores: accepting redaction requests, reporting case
// status and issuing client tokens (in the auth subpackage).
//
// Services receive their dependencies through constructor injection and
// depend on store interfaces, never on a concrete database. Expected
// conditions are returned as sentinel errors; everything else is wrapped in
// a service error type that records the failed operation. The API layer maps
// both to HTTP status codes.
package service
