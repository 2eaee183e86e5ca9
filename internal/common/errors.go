// Package common defines the sentinel errors shared by the stores, the
// WebSocket gateway and the HTTP handlers. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Credential errors.
	ErrDuplicateUsername = errors.New("username already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidCredential = errors.New("invalid credential")

	// Backend failure of any store operation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Missing or malformed fields on register/login or on a chat event.
	ErrMalformedInput = errors.New("malformed input")
)
