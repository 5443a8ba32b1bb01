package supervisor

import (
	"errors"
	"fmt"

	"github.com/loykin/spokevisor/internal/process"
	"github.com/loykin/spokevisor/internal/service"
)

var (
	ErrUnknownService     = errors.New("unknown service")
	ErrDependencyNotReady = errors.New("dependency not ready")
	// ErrTransitionInProgress is returned when a service is stopping.
	ErrTransitionInProgress = errors.New("transition in progress")
	ErrLaunchFailure        = process.ErrLaunchFailure
	ErrExitedDuringStartup  = errors.New("process exited during startup")
	ErrHealthCheckTimeout   = errors.New("health check timed out")
	ErrWorkerNotFound       = process.ErrWorkerNotFound
	// ErrRestartBudgetExceeded is recorded when auto restart gives up.
	ErrRestartBudgetExceeded = errors.New("restart budget exceeded")
	// ErrStartAborted is reported by a start operation that was overtaken by
	// a stop before it could commit.
	ErrStartAborted = errors.New("start aborted by stop")
	// ErrNoSettings is returned by auto-start operations when no settings
	// store is configured.
	ErrNoSettings = errors.New("no settings store configured")
)

// DependencyNotReadyError names the dependency that blocked a start.
type DependencyNotReadyError struct {
	Key        string
	Dependency string
	State      service.State
}

func (e *DependencyNotReadyError) Error() string {
	return fmt.Sprintf("cannot start %s: dependency %s is %s", e.Key, e.Dependency, e.State)
}

func (e *DependencyNotReadyError) Is(target error) bool { return target == ErrDependencyNotReady }

func unknown(key string) error { return fmt.Errorf("%w: %s", ErrUnknownService, key) }
