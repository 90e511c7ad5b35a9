package models

import "errors"

// Domain errors shared by storage, ingestion and search.
var (
	// ErrNotFound indicates a requested document, record or query does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a status change outside the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation indicates a document has no embeddable text.
	ErrValidation = errors.New("document has no embeddable text")

	// ErrInvalidInput indicates a malformed request (query, field type, feedback).
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage indicates the record store could not be reached or failed to persist.
	ErrStorage = errors.New("storage unavailable")

	// ErrDimensionMismatch indicates a vector whose length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
