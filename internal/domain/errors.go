package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrUnsupportedAttachment is returned for document encodings the fetch
	// stage cannot read.
	ErrUnsupportedAttachment = errors.New("unsupported attachment type")

	// ErrInvalidRenderer is returned when a renderer name is not recognised.
	ErrInvalidRenderer = errors.New("invalid renderer")

	// ErrInvalidTransition is returned when a status change would move a
	// record backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)
