package domain

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7. It falls back to a random UUID only
// if the system clock or entropy source is unavailable.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
