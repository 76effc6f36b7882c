// Package mocks provides in-memory implementations of the store interfaces
// for tests.
//
// A single Memory value holds every table; the store views it hands out
// (Tasks, Jobs, Callbacks, ...) share its lock, so conditional updates such
// as Claim behave as they do in Postgres when several goroutines race.
//
// Usage:
//
//	mem := mocks.NewMemory()
//	tasks := mem.Tasks()
//	require.NoError(t, tasks.Create(ctx, task))
//
// Failures are injected per operation through the Err fields:
//
//	mem.Tasks().CreateErr = errors.New("boom")
package mocks
