// Package events carries task lifecycle notifications between components
// that should not depend on each other.
//
// The service emits an event when it creates tasks; the processors register
// a handler that turns those events into wake-ups. Handlers run
// synchronously on the emitting goroutine, so they must be quick.
package events
