package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotReady indicates a component was used before it was initialized
	ErrNotReady = errors.New("not ready")

	// ErrFailedPrecondition indicates a dependency (model, store) could not be initialized
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrDimensionMismatch indicates an embedding does not match the configured dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")
)
