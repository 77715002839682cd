package core

import "errors"

// Error taxonomy for the service. The gateway maps these to HTTP statuses
// with errors.Is; components wrap them with context via fmt.Errorf and %w.
var (
	// ErrUnsupportedFormat indicates an audio format outside the whitelist.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrNotFound indicates an unknown profile, job, or artifact id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates an operation invalid for the entity's current status.
	ErrInvalidState = errors.New("operation invalid for current status")
	// ErrQueueFull indicates the inference admission queue is at capacity.
	ErrQueueFull = errors.New("inference queue is full")
	// ErrEmptyText indicates blank synthesis input.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrTextTooLong indicates synthesis input above the configured ceiling.
	ErrTextTooLong = errors.New("text exceeds maximum length")
	// ErrInvalidAudio indicates an unreadable, silent, or too-short reference sample.
	ErrInvalidAudio = errors.New("invalid reference audio")
	// ErrModelExecution indicates a failure inside the model runtime. Never
	// retried automatically: most causes are deterministic for a given input.
	ErrModelExecution = errors.New("model execution failed")
	// ErrStorage indicates a disk or backend I/O failure.
	ErrStorage = errors.New("storage failure")
)
