package domain

import "errors"

var (
	// ErrValidation marks malformed entries or records handed to the engine.
	ErrValidation = errors.New("validation error")
	// ErrInvalidArgument marks rejected producer input.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	// ErrConflict is returned for duplicate ids and writes against terminal entries.
	ErrConflict = errors.New("conflict")
)
