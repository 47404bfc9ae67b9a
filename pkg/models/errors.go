package models

import "errors"

var (
	// ErrForbidden is returned when a user touches a conversation it does not own.
	ErrForbidden = errors.New("forbidden: resource belongs to another user")

	// ErrProviderUnavailable is returned when no model candidate validates.
	ErrProviderUnavailable = errors.New("no language model provider available")

	// ErrSecretMissing is returned when a candidate's api_key_ref cannot be resolved.
	ErrSecretMissing = errors.New("secret not found")

	// ErrInvalidInput marks caller mistakes that map to 400.
	ErrInvalidInput = errors.New("invalid input")
)
