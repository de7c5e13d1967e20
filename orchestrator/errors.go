package orchestrator

import "errors"

var (
	// ErrInvalidRoot is returned when the discovery root is not a directory.
	ErrInvalidRoot = errors.New("invalid discovery root")

	// ErrQueueRequired is returned when a queue store is not provided.
	ErrQueueRequired = errors.New("queue store required")

	// ErrProcessorRequired is returned when a unit processor is not provided.
	ErrProcessorRequired = errors.New("unit processor required")

	// ErrDiscovererRequired is returned when a discoverer is not provided.
	ErrDiscovererRequired = errors.New("discoverer required")

	// ErrIncomplete is returned by verification when completed paths have missing chunks.
	ErrIncomplete = errors.New("completed paths have missing chunks")

	// ErrNotCompleted is returned for a path verification cannot check
	// because it has no completed checkpoint.
	ErrNotCompleted = errors.New("path is not completed")
)
