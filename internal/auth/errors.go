package auth

import "errors"

// Sentinel errors for credential verification.
var (
	// ErrMissingCredential indicates that no bearer credential was provided.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential indicates a malformed, tampered, or expired credential.
	ErrInvalidCredential = errors.New("invalid credential")
)
