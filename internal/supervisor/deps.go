package supervisor

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/loykin/spokevisor/internal/container"
	"github.com/loykin/spokevisor/internal/health"
	"github.com/loykin/spokevisor/internal/ledger"
	"github.com/loykin/spokevisor/internal/process"
	"github.com/loykin/spokevisor/internal/service"
	"github.com/loykin/spokevisor/internal/store"
)

// Proc is a spawned process.
type Proc interface {
	PID() int
	Done() <-chan struct{}
	ExitCode() int
}

// Spawner launches and terminates process-kind services.
type Spawner interface {
	// Prepare clears leftovers of a previous run. Failures are not fatal.
	Prepare(ctx context.Context, def service.Definition) error
	Spawn(ctx context.Context, def service.Definition) (Proc, error)
	// Discover returns the PID of the real worker process.
	Discover(ctx context.Context, def service.Definition) (int, error)
	Terminate(ctx context.Context, pid int) error
	ClearPort(ctx context.Context, port int) error
}

// Prober answers liveness questions.
type Prober interface {
	Check(ctx context.Context, def service.Definition, pid int) health.Result
	Endpoint(ctx context.Context, url string) bool
	Alive(pid int, startUnix int64) bool
}

// LogReader returns the tail of a service log.
type LogReader interface {
	Tail(key string, lines int) (string, error)
}

// Settings persists the per-service auto-start flag.
type Settings interface {
	SetAutoStart(ctx context.Context, key string, enabled bool) error
	Settings(ctx context.Context) ([]store.Setting, error)
}

// Deps are the collaborators of a Controller. Spawner and Prober are
// required; the rest fall back to inert implementations.
type Deps struct {
	Spawner    Spawner
	Prober     Prober
	Containers container.Runtime
	Ledger     ledger.Ledger
	Settings   Settings
	Logs       LogReader
	Logger     *slog.Logger
	// HTTPClient sends shutdown requests.
	HTTPClient *http.Client
	// StartTime reads a process start time for the ledger. Defaults to
	// detector.StartUnix.
	StartTime func(pid int) int64
}

type launcherSpawner struct{ *process.Launcher }

func (s launcherSpawner) Spawn(ctx context.Context, def service.Definition) (Proc, error) {
	h, err := s.Launcher.Spawn(ctx, def)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// FromLauncher adapts a process.Launcher to Spawner.
func FromLauncher(l *process.Launcher) Spawner { return launcherSpawner{l} }
