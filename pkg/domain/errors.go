package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrServerSideUpdateUnsupported is returned by a store that cannot apply a Delta atomically on the server.
// The repository reacts by switching to the lock, load and replace path.
var ErrServerSideUpdateUnsupported = errors.New("server-side session update unsupported")

// ErrInvalidPrincipal is returned when a principal attribute is set to a non-string value.
var ErrInvalidPrincipal = errors.New("principal name must be a string")

// ErrInvalidMode is returned when a flush or save mode cannot be parsed.
var ErrInvalidMode = errors.New("invalid mode")
