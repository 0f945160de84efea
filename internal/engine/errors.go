package engine

import (
	"errors"

	"github.com/seantiz/hourglass/internal/registry"
)

var (
	// ErrNotFound is returned for status and cancel calls on unknown ids.
	ErrNotFound = registry.ErrNotFound

	// ErrExceedsLimit is returned when a requested wait is longer than the
	// configured ceiling. No operation is created.
	ErrExceedsLimit = errors.New("requested wait exceeds maximum duration")

	// ErrInvalidKind is returned for negative durations, zero deadlines and
	// unknown kind types.
	ErrInvalidKind = errors.New("invalid operation kind")

	// ErrTooManyActive is returned when a non-blocking start would exceed
	// the configured number of live operations.
	ErrTooManyActive = errors.New("too many active operations")
)
