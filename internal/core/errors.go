package core

import "errors"

// Domain errors surfaced to callers of the balance cache.
var (
	// ErrPeriodNotClosed is returned when a recompute targets an open,
	// non-special period without a journal-scoped override.
	ErrPeriodNotClosed = errors.New("cannot calculate for an open period")

	ErrUnknownPeriod = errors.New("unknown period")
	ErrEmptyScope    = errors.New("no periods requested")
)
