package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/spokevisor/internal/locator"
	"github.com/loykin/spokevisor/internal/service"
)

// LogSink hands out the per-service output writer.
type LogSink interface {
	Writer(key string) io.WriteCloser
}

// Launcher spawns and terminates process-kind services.
type Launcher struct {
	DefaultInterpreter string
	// BaseEnv is appended to the supervisor environment for every service.
	BaseEnv []string
	Logs    LogSink
	Locator locator.WorkerLocator

	DiscoveryTimeout  time.Duration
	DiscoveryInterval time.Duration
	// KillGrace is the SIGTERM to SIGKILL delay of a tree kill.
	KillGrace time.Duration

	Logger *slog.Logger
	now    func() time.Time
}

// NewLauncher returns a Launcher with the default discovery bounds.
func NewLauncher(defaultInterp string, logs LogSink, loc locator.WorkerLocator, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		DefaultInterpreter: defaultInterp,
		BaseEnv:            []string{"PYTHONUNBUFFERED=1"},
		Logs:               logs,
		Locator:            loc,
		DiscoveryTimeout:   30 * time.Second,
		DiscoveryInterval:  time.Second,
		KillGrace:          2 * time.Second,
		Logger:             logger,
		now:                time.Now,
	}
}

// Prepare removes leftovers of a previous run: the process tree listening on
// the service port, and for workers every process carrying the signature.
func (l *Launcher) Prepare(ctx context.Context, def service.Definition) error {
	var errs []error
	if def.Port > 0 {
		if err := l.ClearPort(ctx, def.Port); err != nil {
			errs = append(errs, err)
		}
	}
	if def.IsWorker() && l.Locator != nil {
		cands, err := l.Locator.FindAll(ctx, def.Signature())
		if err != nil {
			errs = append(errs, fmt.Errorf("find stale workers: %w", err))
		}
		for _, c := range cands {
			l.Logger.Info("killing stale worker", "service", def.Key, "pid", c.PID)
			if err := KillTree(ctx, c.PID, l.KillGrace); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Spawn starts def in its own process group with stdout and stderr appended
// to the service log after a start banner.
func (l *Launcher) Spawn(_ context.Context, def service.Definition) (*Handle, error) {
	if fi, err := os.Stat(def.WorkDir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: working directory %s not found", ErrLaunchFailure, def.WorkDir)
	}
	exe := ResolveExecutable(def, l.DefaultInterpreter)
	if vb := venvBinary(def); vb != "" && exe != vb {
		l.Logger.Warn("service binary not found, falling back to interpreter",
			"service", def.Key, "venv_path", def.VenvPath, "interpreter", exe)
	}
	cmd := BuildCommand(exe, def, l.BaseEnv)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailure, err)
	}
	sink := l.sink(def.Key)
	_, _ = fmt.Fprintf(sink, "\n--- Starting %s at %s ---\n", def.DisplayName(), l.now().Format("2006-01-02 15:04:05"))
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		_ = sink.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailure, exe, err)
	}
	// the child holds its own copy of the write end
	_ = pw.Close()

	l.Logger.Info("spawned service", "service", def.Key, "pid", cmd.Process.Pid, "exe", exe)
	return watch(cmd, pr, sink), nil
}

func (l *Launcher) sink(key string) io.WriteCloser {
	if l.Logs == nil {
		return nopWriteCloser{io.Discard}
	}
	return l.Logs.Writer(key)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Discover finds the real worker PID by signature, polling until
// DiscoveryTimeout. The spawned handle may itself be the worker, or a shim
// that has since exited.
func (l *Launcher) Discover(ctx context.Context, def service.Definition) (int, error) {
	sig := def.Signature()
	if l.Locator == nil {
		return 0, fmt.Errorf("%w: no locator configured", ErrWorkerNotFound)
	}
	deadline := l.now().Add(l.DiscoveryTimeout)
	for {
		pid, err := l.Locator.Locate(ctx, sig)
		if err == nil {
			return pid, nil
		}
		if !errors.Is(err, locator.ErrNotFound) {
			l.Logger.Debug("worker lookup failed", "service", def.Key, "error", err)
		}
		if !l.now().Before(deadline) {
			return 0, fmt.Errorf("%w: no process matching %q after %s", ErrWorkerNotFound, sig, l.DiscoveryTimeout)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(l.DiscoveryInterval):
		}
	}
}

// Terminate kills the process tree rooted at pid.
func (l *Launcher) Terminate(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	return KillTree(ctx, pid, l.KillGrace)
}

// ClearPort kills every process tree listening on port.
func (l *Launcher) ClearPort(ctx context.Context, port int) error {
	pids, err := ListenerPIDs(ctx, port)
	if err != nil {
		return fmt.Errorf("list listeners on port %d: %w", port, err)
	}
	var errs []error
	for _, pid := range pids {
		l.Logger.Info("killing process occupying port", "port", port, "pid", pid)
		if err := KillTree(ctx, pid, l.KillGrace); err != nil {
			errs = append(errs, fmt.Errorf("port %d pid %d: %w", port, pid, err))
		}
	}
	return errors.Join(errs...)
}
