// Package kv defines the key/value session contract used for case-scoped data,
// deferred work lists and stage blobs.
//
// A Session buffers writes and commits them atomically when the transaction
// that opened it returns without error. Reads are not buffered: they observe
// the server state at the time of the call, not the session's pending writes.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by reads of a key that does not exist.
var ErrNotFound = errors.New("key not found")

// Session is one transactional unit of work against the key/value store.
type Session interface {
	// Set buffers a string write.
	Set(ctx context.Context, key string, value []byte)

	// Get returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// SAdd buffers the addition of members to a set.
	SAdd(ctx context.Context, key string, members ...string)

	SMembers(ctx context.Context, key string) ([]string, error)

	// HSet buffers field writes to a hash.
	HSet(ctx context.Context, key string, values map[string]string)

	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// ExpireAt buffers an absolute expiry for a key.
	ExpireAt(ctx context.Context, key string, at time.Time)

	// Enqueue buffers an append to the tail of a list.
	Enqueue(ctx context.Context, key string, value string)

	// Peek returns the head of a list without removing it. ok is false
	// when the list is empty.
	Peek(ctx context.Context, key string) (value string, ok bool, err error)

	// Remove deletes the first occurrence of value from a list immediately,
	// outside the buffered writes. It reports whether value was present.
	Remove(ctx context.Context, key string, value string) (bool, error)

	// SetNX writes value immediately if key does not exist, expiring it at
	// expireAt. It reports whether the write happened.
	SetNX(ctx context.Context, key string, value []byte, expireAt time.Time) (bool, error)

	// DeleteIf deletes key immediately if it holds value. It reports whether
	// the key was deleted.
	DeleteIf(ctx context.Context, key string, value []byte) (bool, error)

	// Time returns the server clock.
	Time(ctx context.Context) (time.Time, error)
}

// Store opens sessions.
type Store interface {
	// Tx runs fn with a fresh session. Buffered writes are committed when fn
	// returns nil and discarded otherwise.
	Tx(ctx context.Context, fn func(Session) error) error

	Ping(ctx context.Context) error
}
