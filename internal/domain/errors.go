package domain

import "errors"

// Shared sentinel errors. Callers classify with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates a malformed argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence indicates a storage write failed. A scoring decision
	// returned alongside ErrPersistence is still valid; the persistence
	// side effect is retryable.
	ErrPersistence = errors.New("persistence failed")
)
