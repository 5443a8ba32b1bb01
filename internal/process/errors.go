package process

import "errors"

var (
	// ErrLaunchFailure wraps failures to spawn a service process.
	ErrLaunchFailure = errors.New("launch failure")
	// ErrWorkerNotFound is returned when discovery finds no process carrying
	// the worker signature within the discovery timeout.
	ErrWorkerNotFound = errors.New("worker not found")
)
