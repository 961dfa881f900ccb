package models

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when a draft fails validation. Nothing is written.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyApplied is returned when a correction has already been applied.
	ErrAlreadyApplied = errors.New("correction already applied")
)
