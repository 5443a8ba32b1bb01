// Package supervisor drives the lifecycle of every configured service: the
// state machine, start and stop, bulk operations, boot recovery and the
// health poll loop with bounded auto restart.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/loykin/spokevisor/internal/container"
	"github.com/loykin/spokevisor/internal/detector"
	"github.com/loykin/spokevisor/internal/ledger"
	"github.com/loykin/spokevisor/internal/logger"
	"github.com/loykin/spokevisor/internal/metrics"
	"github.com/loykin/spokevisor/internal/service"
	"github.com/loykin/spokevisor/internal/store"
)

const exitPollInterval = 200 * time.Millisecond

// Controller owns the runtime of every service in its registry.
type Controller struct {
	reg        *service.Registry
	spawner    Spawner
	prober     Prober
	containers container.Runtime
	ledger     ledger.Ledger
	settings   Settings
	logs       LogReader
	logger     *slog.Logger
	client     *http.Client
	startTime  func(pid int) int64
	opts       Options
	now        func() time.Time

	// tracks background starts so Close can wait for them
	wg sync.WaitGroup
}

// New returns a Controller over reg. The registry must have been built with
// a restart budget matching opts.
func New(reg *service.Registry, deps Deps, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		reg:        reg,
		spawner:    deps.Spawner,
		prober:     deps.Prober,
		containers: deps.Containers,
		ledger:     deps.Ledger,
		settings:   deps.Settings,
		logs:       deps.Logs,
		logger:     deps.Logger,
		client:     deps.HTTPClient,
		startTime:  deps.StartTime,
		opts:       opts,
		now:        time.Now,
	}
	if c.containers == nil {
		c.containers = container.Unavailable{}
	}
	if c.ledger == nil {
		c.ledger = ledger.Nop{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: opts.ShutdownGrace}
	}
	if c.startTime == nil {
		c.startTime = detector.StartUnix
	}
	return c
}

// Registry exposes the service registry.
func (c *Controller) Registry() *service.Registry { return c.reg }

// Options returns the effective options.
func (c *Controller) Options() Options { return c.opts }

func (c *Controller) definition(key string) (service.Definition, error) {
	d, ok := c.reg.Definition(key)
	if !ok {
		return service.Definition{}, unknown(key)
	}
	return d, nil
}

func (c *Controller) transition(key string, rt *service.Runtime, to service.State) {
	from := rt.State
	rt.State = to
	if !to.HoldsPID() {
		rt.PID = 0
		rt.Exited = nil
	}
	metrics.RecordStateTransition(key, from.String(), to.String())
}

// toStopped clears everything that only makes sense while the service holds
// a process.
func (c *Controller) toStopped(key string, rt *service.Runtime, keepBudget bool) {
	c.transition(key, rt, service.StateStopped)
	rt.StartedAt = time.Time{}
	rt.SpawnedByUs = false
	if !keepBudget {
		rt.Restarts.Reset()
	}
}

func (c *Controller) toError(key string, rt *service.Runtime, msg string) {
	c.transition(key, rt, service.StateError)
	rt.Error = msg
	rt.StartedAt = time.Time{}
	rt.SpawnedByUs = false
}

// Start schedules a start of key and returns immediately. Starting a service
// that is already starting or running succeeds without effect. Every
// dependency must be running.
func (c *Controller) Start(key string) (*Op, error) {
	def, err := c.definition(key)
	if err != nil {
		return nil, err
	}
	var (
		gen  uint64
		noop bool
	)
	err = c.reg.Do(func(tx service.Tx) error {
		rt := tx.Runtime(key)
		switch rt.State {
		case service.StateStarting, service.StateRunning:
			noop = true
			return nil
		case service.StateStopping:
			return fmt.Errorf("%w: %s is stopping", ErrTransitionInProgress, key)
		}
		for _, dep := range def.DependsOn {
			if st := tx.Runtime(dep).State; st != service.StateRunning {
				return &DependencyNotReadyError{Key: key, Dependency: dep, State: st}
			}
		}
		c.transition(key, rt, service.StateStarting)
		rt.Error = ""
		rt.Generation++
		gen = rt.Generation
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return Finished(nil), nil
	}

	op := newOp()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		op.finish(c.launch(context.Background(), def, gen))
	}()
	return op, nil
}

// launch runs the start sequence for generation gen and commits the result.
func (c *Controller) launch(ctx context.Context, def service.Definition, gen uint64) error {
	began := c.now()
	var proc Proc

	fail := func(err error, reason string) error {
		return c.failStart(ctx, def, gen, proc, err, reason)
	}

	pid := 0
	if def.IsContainer() {
		if err := c.containers.Start(ctx, def); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrLaunchFailure, err), "launch")
		}
	} else {
		if err := c.spawner.Prepare(ctx, def); err != nil {
			c.logger.Warn("pre-start cleanup incomplete", "service", def.Key, "error", err)
		}
		p, err := c.spawner.Spawn(ctx, def)
		if err != nil {
			return fail(err, "launch")
		}
		proc, pid = p, p.PID()

		// Record the provisional PID so a concurrent stop can kill it.
		var current bool
		_ = c.reg.Do(func(tx service.Tx) error {
			rt := tx.Runtime(def.Key)
			if rt.Generation == gen {
				rt.PID = pid
				rt.Exited = p.Done()
				rt.SpawnedByUs = true
				current = true
			}
			return nil
		})
		if !current {
			c.terminate(ctx, def.Key, pid)
			return ErrStartAborted
		}

		if def.IsNetworked() {
			if err := c.waitHealthy(ctx, def, p); err != nil {
				reason := "health_timeout"
				if errors.Is(err, ErrExitedDuringStartup) {
					reason = "exited"
				}
				return fail(err, reason)
			}
		} else {
			found, err := c.spawner.Discover(ctx, def)
			if err != nil {
				return fail(err, "worker_not_found")
			}
			pid = found
		}
	}

	var committed bool
	_ = c.reg.Do(func(tx service.Tx) error {
		rt := tx.Runtime(def.Key)
		if rt.Generation != gen || rt.State != service.StateStarting {
			return nil
		}
		c.transition(def.Key, rt, service.StateRunning)
		rt.PID = pid
		rt.StartedAt = c.now()
		rt.SpawnedByUs = true
		if proc == nil || pid != proc.PID() {
			// a shim's exit says nothing about the worker
			rt.Exited = nil
		}
		committed = true
		return nil
	})
	if !committed {
		// The stop that overtook us killed the provisional PID; a worker
		// that outlived its shim is ours to clean up.
		switch {
		case def.IsContainer():
			if err := c.containers.Stop(ctx, def); err != nil {
				c.logger.Warn("container stop failed", "service", def.Key, "error", err)
			}
		case proc != nil && pid != proc.PID():
			c.terminate(ctx, def.Key, pid)
		}
		return ErrStartAborted
	}

	if pid > 0 {
		if err := c.ledger.Save(ctx, def.Key, ledger.Entry{PID: pid, StartUnix: c.startTime(pid)}); err != nil {
			c.logger.Warn("ledger save failed", "service", def.Key, "error", err)
		}
	}
	metrics.IncStart(def.Key)
	metrics.ObserveStartupDuration(def.Key, c.now().Sub(began).Seconds())
	c.logger.Info("service running", "service", def.Key, "pid", pid)
	return nil
}

// failStart parks the service in the error state unless a stop overtook the
// start, in which case ErrStartAborted is returned instead of cause.
func (c *Controller) failStart(ctx context.Context, def service.Definition, gen uint64, proc Proc, cause error, reason string) error {
	c.logger.Error("service failed to start", "service", def.Key, "error", cause)
	metrics.IncStartFailure(def.Key, reason)

	var owned bool
	_ = c.reg.Do(func(tx service.Tx) error {
		rt := tx.Runtime(def.Key)
		if rt.Generation != gen {
			return nil
		}
		c.toError(def.Key, rt, cause.Error())
		owned = true
		return nil
	})
	if !owned {
		return ErrStartAborted
	}
	if proc != nil {
		c.terminate(ctx, def.Key, proc.PID())
	}
	if !def.IsContainer() {
		if err := c.ledger.Remove(ctx, def.Key); err != nil {
			c.logger.Warn("ledger remove failed", "service", def.Key, "error", err)
		}
	}
	return cause
}

func (c *Controller) terminate(ctx context.Context, key string, pid int) {
	if pid <= 0 {
		return
	}
	if err := c.spawner.Terminate(ctx, pid); err != nil {
		c.logger.Warn("terminate failed", "service", key, "pid", pid, "error", err)
	}
}

// waitHealthy polls the health endpoint until it answers, the process exits
// or the startup timeout elapses.
func (c *Controller) waitHealthy(ctx context.Context, def service.Definition, p Proc) error {
	deadline := time.NewTimer(c.opts.StartupTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.opts.HealthInterval)
	defer tick.Stop()

	url := def.HealthURL()
	for {
		if c.prober.Endpoint(ctx, url) {
			return nil
		}
		select {
		case <-p.Done():
			return fmt.Errorf("%w: %s exited with code %d", ErrExitedDuringStartup, def.DisplayName(), p.ExitCode())
		case <-deadline.C:
			return fmt.Errorf("%w: %s not healthy after %s", ErrHealthCheckTimeout, def.DisplayName(), c.opts.StartupTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Stop terminates key and waits for it. Stopping a stopped service succeeds
// without effect. The service always ends up stopped, even when termination
// reported errors.
func (c *Controller) Stop(ctx context.Context, key string) error {
	return c.stop(ctx, key, false)
}

func (c *Controller) stop(ctx context.Context, key string, keepBudget bool) error {
	def, err := c.definition(key)
	if err != nil {
		return err
	}
	var (
		pid    int
		exited <-chan struct{}
		gen    uint64
		noop   bool
	)
	err = c.reg.Do(func(tx service.Tx) error {
		rt := tx.Runtime(key)
		switch rt.State {
		case service.StateStopped:
			noop = true
			return nil
		case service.StateStopping:
			return fmt.Errorf("%w: %s is already stopping", ErrTransitionInProgress, key)
		}
		c.transition(key, rt, service.StateStopping)
		rt.Error = ""
		rt.Generation++
		gen = rt.Generation
		pid, exited = rt.PID, rt.Exited
		return nil
	})
	if err != nil || noop {
		return err
	}

	mode := c.shutdown(ctx, def, pid, exited)

	_ = c.reg.Do(func(tx service.Tx) error {
		rt := tx.Runtime(key)
		if rt.Generation == gen {
			c.toStopped(key, rt, keepBudget)
		}
		return nil
	})
	if !def.IsContainer() {
		if err := c.ledger.Remove(ctx, key); err != nil {
			c.logger.Warn("ledger remove failed", "service", key, "error", err)
		}
	}
	metrics.IncStop(key, mode)
	c.logger.Info("service stopped", "service", key, "mode", mode)
	return nil
}

// shutdown asks the service to exit, falls back to a tree kill, and frees
// the port. It returns the stop mode for metrics.
func (c *Controller) shutdown(ctx context.Context, def service.Definition, pid int, exited <-chan struct{}) string {
	if def.IsContainer() {
		if err := c.containers.Stop(ctx, def); err != nil {
			c.logger.Warn("container stop failed", "service", def.Key, "error", err)
		}
		return "container"
	}

	mode := "forced"
	if url := def.ShutdownURL(); url != "" && c.requestShutdown(ctx, def.Key, url) {
		if pid > 0 {
			if c.waitExit(ctx, pid, exited, c.opts.ShutdownGrace) {
				return "graceful"
			}
		} else if c.waitDown(ctx, def.HealthURL(), c.opts.ShutdownGrace) {
			// without a pid the port sweep below is the only kill
			mode = "graceful"
		}
	}
	if pid > 0 {
		c.terminate(ctx, def.Key, pid)
	} else if def.Port == 0 {
		mode = "none"
	}
	if def.Port > 0 {
		if err := c.spawner.ClearPort(ctx, def.Port); err != nil {
			c.logger.Warn("port cleanup failed", "service", def.Key, "port", def.Port, "error", err)
		}
	}
	return mode
}

func (c *Controller) requestShutdown(ctx context.Context, key, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ShutdownGrace)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("shutdown request failed", "service", key, "error", err)
		return false
	}
	_ = resp.Body.Close()
	return true
}

// waitExit waits up to grace for pid to go away. exited, when set, is the
// spawned handle of the same pid.
func (c *Controller) waitExit(ctx context.Context, pid int, exited <-chan struct{}, grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	tick := time.NewTicker(exitPollInterval)
	defer tick.Stop()
	for {
		if exited == nil && !c.prober.Alive(pid, 0) {
			return true
		}
		select {
		case <-exited:
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}

// waitDown waits up to grace for the health endpoint to stop answering.
func (c *Controller) waitDown(ctx context.Context, url string, grace time.Duration) bool {
	if url == "" {
		return false
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	tick := time.NewTicker(exitPollInterval)
	defer tick.Stop()
	for {
		if !c.prober.Endpoint(ctx, url) {
			return true
		}
		select {
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}

// Restart stops key, pauses for the restart delay and starts it again.
func (c *Controller) Restart(ctx context.Context, key string) (*Op, error) {
	if err := c.Stop(ctx, key); err != nil {
		return nil, err
	}
	if err := sleep(ctx, c.opts.RestartDelay); err != nil {
		return nil, err
	}
	return c.Start(key)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current view of key.
func (c *Controller) Status(ctx context.Context, key string) (service.Status, error) {
	def, err := c.definition(key)
	if err != nil {
		return service.Status{}, err
	}
	rt, _ := c.reg.Snapshot(key)
	st := service.NewStatus(def, rt, c.now())
	st.AutoStart = c.autoStartFlags(ctx)[key]
	return st, nil
}

// List returns every service in definition order.
func (c *Controller) List(ctx context.Context) []service.Status {
	flags := c.autoStartFlags(ctx)
	now := c.now()
	out := make([]service.Status, 0, len(c.reg.Keys()))
	for _, d := range c.reg.Definitions() {
		rt, _ := c.reg.Snapshot(d.Key)
		st := service.NewStatus(d, rt, now)
		st.AutoStart = flags[d.Key]
		out = append(out, st)
	}
	return out
}

// Logs returns the last lines of the service log.
func (c *Controller) Logs(key string, lines int) (string, error) {
	if _, err := c.definition(key); err != nil {
		return "", err
	}
	if c.logs == nil {
		return c.noLogs(key), nil
	}
	out, err := c.logs.Tail(key, lines)
	if errors.Is(err, logger.ErrNoLogFile) {
		return c.noLogs(key), nil
	}
	return out, err
}

func (c *Controller) noLogs(key string) string {
	rt, _ := c.reg.Snapshot(key)
	return fmt.Sprintf("No log file yet. Service is %s.", rt.State)
}

// AutoStart returns the persisted auto-start flag of every service.
func (c *Controller) AutoStart(ctx context.Context) (map[string]bool, error) {
	if c.settings == nil {
		return nil, ErrNoSettings
	}
	rows, err := c.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(c.reg.Keys()))
	for _, k := range c.reg.Keys() {
		out[k] = false
	}
	for _, r := range rows {
		if _, ok := out[r.Key]; ok {
			out[r.Key] = r.AutoStart
		}
	}
	return out, nil
}

// SetAutoStart persists the auto-start flag of key.
func (c *Controller) SetAutoStart(ctx context.Context, key string, enabled bool) error {
	if _, err := c.definition(key); err != nil {
		return err
	}
	if c.settings == nil {
		return ErrNoSettings
	}
	return c.settings.SetAutoStart(ctx, key, enabled)
}

func (c *Controller) autoStartFlags(ctx context.Context) map[string]bool {
	if c.settings == nil {
		return nil
	}
	m, err := c.AutoStart(ctx)
	if err != nil {
		c.logger.Warn("read auto-start settings", "error", err)
		return nil
	}
	return m
}

// autoStartKeys returns the keys flagged for auto start, sorted.
func autoStartKeys(m map[string]bool) []string {
	var keys []string
	for k, on := range m {
		if on {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Close waits for in-flight starts to finish.
func (c *Controller) Close() {
	c.wg.Wait()
}

var _ Settings = store.Store(nil)
