// Package spokevisor supervises the spoke services of a hub: it starts them
// in dependency order, watches their health, restarts them within a budget
// and exposes a management API.
package spokevisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/loykin/spokevisor/internal/config"
	"github.com/loykin/spokevisor/internal/container"
	"github.com/loykin/spokevisor/internal/health"
	"github.com/loykin/spokevisor/internal/ledger"
	"github.com/loykin/spokevisor/internal/locator"
	"github.com/loykin/spokevisor/internal/logger"
	"github.com/loykin/spokevisor/internal/metrics"
	"github.com/loykin/spokevisor/internal/process"
	"github.com/loykin/spokevisor/internal/server"
	"github.com/loykin/spokevisor/internal/service"
	"github.com/loykin/spokevisor/internal/store"
	"github.com/loykin/spokevisor/internal/store/factory"
	"github.com/loykin/spokevisor/internal/supervisor"
)

// Re-export core types for external consumers.

type Config = config.Config

type Definition = service.Definition

type Status = service.Status

type State = service.State

const (
	StateStopped  = service.StateStopped
	StateStarting = service.StateStarting
	StateRunning  = service.StateRunning
	StateStopping = service.StateStopping
	StateError    = service.StateError
)

type BulkResult = supervisor.BulkResult

type ContainerRuntime = container.Runtime

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// App is a fully wired supervisor.
type App struct {
	cfg     *Config
	ctrl    *supervisor.Controller
	router  *server.Router
	api     *server.Server
	logger  *slog.Logger
	closers []io.Closer

	shutdownTimeout time.Duration
	withAPI         bool
}

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	containers container.Runtime
	withAPI    bool
}

// Option customizes New.
type Option func(*options)

// WithLogger replaces the logger built from the [logging] section.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithRegistry registers metrics with r and serves them from it.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registerer, o.gatherer = r, r }
}

// WithContainerRuntime replaces the runtime selected by [container].
func WithContainerRuntime(rt ContainerRuntime) Option {
	return func(o *options) { o.containers = rt }
}

// WithoutAPI skips the HTTP server in Run. Handler still works.
func WithoutAPI() Option { return func(o *options) { o.withAPI = false } }

// New wires every component described by cfg. Call Close when done.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	o := options{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		withAPI:    true,
	}
	for _, fn := range opts {
		fn(&o)
	}
	log := o.logger
	if log == nil {
		log = logger.New(cfg.LoggerSettings(), os.Stderr)
	}
	if err := metrics.Register(o.registerer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a := &App{cfg: cfg, logger: log, shutdownTimeout: 30 * time.Second, withAPI: o.withAPI}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	st, err := factory.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, st)

	led, err := a.openLedger(ctx, st)
	if err != nil {
		return nil, err
	}

	rt := o.containers
	if rt == nil {
		rt = a.openContainers(ctx)
	}

	env, err := cfg.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	sopts := cfg.Options()
	loc := &locator.ProcessTable{Shims: cfg.Supervisor.Shims}
	sink := cfg.LogSink()
	launcher := process.NewLauncher(cfg.DefaultInterpreter, sink, loc, log)
	launcher.BaseEnv = append(launcher.BaseEnv, env...)
	launcher.DiscoveryTimeout = sopts.DiscoveryTimeout
	launcher.DiscoveryInterval = sopts.DiscoveryInterval
	if cfg.Supervisor.KillGrace > 0 {
		launcher.KillGrace = cfg.Supervisor.KillGrace
	}

	a.ctrl = supervisor.New(reg, supervisor.Deps{
		Spawner:    supervisor.FromLauncher(launcher),
		Prober:     health.New(sopts.ProbeTimeout, loc, rt, log),
		Containers: rt,
		Ledger:     led,
		Settings:   st,
		Logs:       sink,
		Logger:     log,
	}, sopts)

	a.router = server.NewRouter(a.ctrl, cfg.Server.BasePath).WithMetrics(metrics.HandlerFor(o.gatherer))
	a.api = server.NewServer(cfg.Server.Listen, a.router, log)
	// stops run one after another
	a.shutdownTimeout = time.Duration(len(reg.Keys())+1) * (sopts.ShutdownGrace + launcher.KillGrace)
	ok = true
	return a, nil
}

func (a *App) openLedger(ctx context.Context, st store.Store) (ledger.Ledger, error) {
	lc := a.cfg.Ledger
	switch lc.Type {
	case "sql":
		if lc.DSN == "" || lc.DSN == a.cfg.Store.DSN {
			return ledger.NewSQL(st), nil
		}
		other, err := factory.Open(ctx, lc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open ledger store: %w", err)
		}
		a.closers = append(a.closers, other)
		return ledger.NewSQL(other), nil
	case "redis":
		r, err := ledger.DialRedis(ctx, lc.DSN, lc.Hash)
		if err != nil {
			return nil, fmt.Errorf("open redis ledger: %w", err)
		}
		a.closers = append(a.closers, r)
		return r, nil
	default:
		return ledger.NewFile(a.cfg.PIDFile, a.logger), nil
	}
}

// openContainers never fails: without a runtime, container-kind services
// error on start while process-kind services keep working.
func (a *App) openContainers(ctx context.Context) container.Runtime {
	cc := a.cfg.Container
	switch cc.Runtime {
	case "docker":
		d, err := container.NewDocker(ctx, cc.StopTimeout, a.logger)
		if err != nil {
			a.logger.Warn("docker unavailable", "error", err)
			return container.Unavailable{Err: err}
		}
		a.closers = append(a.closers, d)
		return d
	case "compose":
		return container.NewCompose()
	default:
		return container.Unavailable{}
	}
}

// Controller returns the lifecycle controller.
func (a *App) Controller() *supervisor.Controller { return a.ctrl }

// Handler returns the management API for mounting in another server.
func (a *App) Handler() http.Handler { return a.router.Handler() }

// Run recovers running services, starts the auto-start set and supervises
// the poll loop and the API until ctx is done. Services spawned by this
// process are stopped before Run returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.ctrl.Detect(ctx); err != nil {
		a.logger.Warn("boot detection", "error", err)
	}
	res, err := a.ctrl.StartAuto(ctx)
	if err != nil {
		a.logger.Warn("auto-start", "error", err)
	}
	for _, r := range res {
		if !r.OK {
			a.logger.Warn("auto-start failed", "service", r.Key, "error", r.Message)
		}
	}

	root := suture.New("spokevisor", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: a.logger}).MustHook(),
		Timeout:   10 * time.Second,
	})
	root.Add(a.ctrl)
	if a.withAPI {
		root.Add(a.api)
	}
	err = root.Serve(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	for _, r := range a.ctrl.StopSpawned(stopCtx) {
		if !r.OK {
			a.logger.Warn("shutdown stop failed", "service", r.Key, "error", r.Message)
		}
	}
	a.ctrl.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases stores and runtime clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
