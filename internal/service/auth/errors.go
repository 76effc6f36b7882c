package auth

import "errors"

// Common authentication service errors
var (
	// ErrInvalidToken indicates the token format is invalid or signature doesn't match
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrTokenNotYetValid indicates the token is not yet valid (nbf claim in the future)
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	// ErrMissingToken indicates a token was expected but not provided
	ErrMissingToken = errors.New("authentication token is missing")

	// ErrRevokedToken indicates the token id was revoked before expiry
	ErrRevokedToken = errors.New("authentication token has been revoked")

	// ErrInvalidClient indicates an unknown client or a wrong client secret.
	// The two are not distinguished.
	ErrInvalidClient = errors.New("invalid client credentials")

	// ErrInvalidScope indicates a requested scope the client was not granted
	ErrInvalidScope = errors.New("requested scope exceeds client grant")
)
