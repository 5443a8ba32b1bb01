package detector

import "context"

// Detector is a strategy that determines if a service is alive.
// Implementations check an HTTP endpoint, a PID, or a container runtime.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the service is detected as running.
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
