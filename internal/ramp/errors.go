package ramp

import "errors"

var (
	// ErrInvalidPlan is wrapped by every plan validation failure.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrAlreadyStarted is returned when Execute is called twice on a Run.
	ErrAlreadyStarted = errors.New("run already started")

	// ErrCancelled is returned by Execute when the run ended before its
	// schedule was exhausted because of an external stop.
	ErrCancelled = errors.New("run cancelled")

	// ErrVULimit is returned by spawn when the VU pool is full.
	ErrVULimit = errors.New("vu limit reached")
)
