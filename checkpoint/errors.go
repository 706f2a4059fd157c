package checkpoint

import "errors"

var (
	// ErrNotFound is returned when no checkpoint exists for the given thread / id.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrInvalid is returned by Put for checkpoints missing required fields.
	ErrInvalid = errors.New("invalid checkpoint")
)
