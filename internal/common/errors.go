package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Local store taxonomy.
	ErrConstraintViolation = errors.New("constraint violation")
	ErrSchemaMigration     = errors.New("schema migration failure")
	ErrCorruptLocalState   = errors.New("corrupt local state")
	ErrNotReady            = errors.New("store not ready")

	// Transport taxonomy. Every remote failure wraps ErrTransportFailure.
	ErrTransportFailure = errors.New("transport failure")

	// Reconciler flow control.
	ErrPendingMutations = errors.New("outbox not drained")

	// Auth errors.
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
)
