package queue

import "errors"

var (
	// ErrCorruptState is returned when a state file cannot be parsed. It is
	// fatal: the files are never reset automatically.
	ErrCorruptState = errors.New("queue state corrupt")

	// ErrLocked is returned when another process holds the state directory.
	ErrLocked = errors.New("queue state locked by another process")

	// ErrInvalidTransition is returned for a state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid queue transition")

	// ErrUnknownPath is returned for a path that was never enqueued.
	ErrUnknownPath = errors.New("path not in queue")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("queue store closed")
)
