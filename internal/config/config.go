package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/spokevisor/internal/logger"
	"github.com/loykin/spokevisor/internal/restart"
	"github.com/loykin/spokevisor/internal/service"
	"github.com/loykin/spokevisor/internal/supervisor"
)

// EnvPrefix prefixes environment overrides, e.g. SPOKEVISOR_SERVER_LISTEN.
const EnvPrefix = "SPOKEVISOR"

// Config represents the top-level TOML structure.
type Config struct {
	AppsRoot           string   `mapstructure:"apps_root"`
	DefaultInterpreter string   `mapstructure:"default_interpreter"`
	PIDFile            string   `mapstructure:"pid_file"`
	LogDir             string   `mapstructure:"log_dir"`
	Env                []string `mapstructure:"env"`
	EnvFiles           []string `mapstructure:"env_files"`

	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Store      StoreConfig      `mapstructure:"store"`
	Container  ContainerConfig  `mapstructure:"container"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	LogRotate  LogRotateConfig  `mapstructure:"log_rotation"`

	Services []service.Definition `mapstructure:"services"`

	// dir is the directory of the config file; relative paths resolve
	// against it.
	dir string
}

type SupervisorConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	StartupTimeout    time.Duration `mapstructure:"startup_timeout"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`
	DiscoveryTimeout  time.Duration `mapstructure:"discovery_timeout"`
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	BulkStartWait     time.Duration `mapstructure:"bulk_start_wait"`
	UnhealthyGrace    time.Duration `mapstructure:"unhealthy_grace"`
	RestartDelay      time.Duration `mapstructure:"restart_delay"`
	KillGrace         time.Duration `mapstructure:"kill_grace"`
	MaxRestarts       int           `mapstructure:"max_restarts"`
	RestartWindow     time.Duration `mapstructure:"restart_window"`
	// Shims are launcher executables skipped when picking a worker PID.
	Shims []string `mapstructure:"shims"`
}

// LedgerConfig selects the PID ledger backend: file (pid_file), sql (the
// store DSN unless dsn is set) or redis (dsn is a redis URL).
type LedgerConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
	Hash string `mapstructure:"hash"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ContainerConfig selects the container runtime: docker (Engine API) or
// compose (the docker compose CLI).
type ContainerConfig struct {
	Runtime     string        `mapstructure:"runtime"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	o := supervisor.DefaultOptions()
	v.SetDefault("apps_root", ".")
	v.SetDefault("default_interpreter", "python3")
	v.SetDefault("pid_file", "state/service_pids.json")
	v.SetDefault("log_dir", "logs/services")

	v.SetDefault("supervisor.poll_interval", o.PollInterval)
	v.SetDefault("supervisor.probe_timeout", o.ProbeTimeout)
	v.SetDefault("supervisor.startup_timeout", o.StartupTimeout)
	v.SetDefault("supervisor.health_interval", o.HealthInterval)
	v.SetDefault("supervisor.shutdown_grace", o.ShutdownGrace)
	v.SetDefault("supervisor.discovery_timeout", o.DiscoveryTimeout)
	v.SetDefault("supervisor.discovery_interval", o.DiscoveryInterval)
	v.SetDefault("supervisor.bulk_start_wait", o.BulkStartWait)
	v.SetDefault("supervisor.unhealthy_grace", o.UnhealthyGrace)
	v.SetDefault("supervisor.restart_delay", o.RestartDelay)
	v.SetDefault("supervisor.kill_grace", 2*time.Second)
	v.SetDefault("supervisor.max_restarts", o.MaxRestarts)
	v.SetDefault("supervisor.restart_window", o.RestartWindow)

	v.SetDefault("ledger.type", "file")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.hash", "spokevisor:pids")
	v.SetDefault("store.dsn", "state/spokevisor.db")
	v.SetDefault("container.runtime", "docker")
	v.SetDefault("container.stop_timeout", 10*time.Second)
	v.SetDefault("server.listen", "127.0.0.1:8090")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "color")
}

// Load reads the TOML file at path, applies SPOKEVISOR_* overrides, resolves
// relative paths against the file's directory and validates the result.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.dir = filepath.Dir(abs)
	c.resolvePaths()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

func (c *Config) resolvePaths() {
	c.AppsRoot = c.resolve(c.AppsRoot)
	c.PIDFile = c.resolve(c.PIDFile)
	c.LogDir = c.resolve(c.LogDir)
	if isFilePath(c.Store.DSN) {
		c.Store.DSN = c.resolve(c.Store.DSN)
	}
	for i, f := range c.EnvFiles {
		c.EnvFiles[i] = c.resolve(f)
	}
	for i := range c.Services {
		d := &c.Services[i]
		if d.WorkDir != "" && !filepath.IsAbs(d.WorkDir) {
			d.WorkDir = filepath.Join(c.AppsRoot, d.WorkDir)
		}
		if d.Kind == "" {
			d.Kind = service.KindProcess
		}
	}
}

// isFilePath reports whether a store DSN names a plain sqlite file.
func isFilePath(dsn string) bool {
	return dsn != "" && dsn != ":memory:" && !strings.Contains(dsn, "://") && !strings.HasPrefix(dsn, "file:")
}

// Validate checks backend selections and the service graph.
func (c *Config) Validate() error {
	var errs []error
	switch c.Ledger.Type {
	case "file", "sql":
	case "redis":
		if c.Ledger.DSN == "" {
			errs = append(errs, errors.New("ledger: redis requires dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger: unknown type %q", c.Ledger.Type))
	}
	switch c.Container.Runtime {
	case "docker", "compose", "none":
	default:
		errs = append(errs, fmt.Errorf("container: unknown runtime %q", c.Container.Runtime))
	}
	switch c.Logging.Format {
	case "", "text", "json", "color":
	default:
		errs = append(errs, fmt.Errorf("logging: unknown format %q", c.Logging.Format))
	}
	if c.Supervisor.MaxRestarts < 0 {
		errs = append(errs, errors.New("supervisor: max_restarts must not be negative"))
	}
	if len(errs) == 0 {
		if _, err := c.Registry(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry builds the service registry with the configured restart budget.
func (c *Config) Registry() (*service.Registry, error) {
	o := c.Options()
	return service.NewRegistry(c.Services, restart.New(o.MaxRestarts, o.RestartWindow))
}

// Options returns the supervisor tuning.
func (c *Config) Options() supervisor.Options {
	s := c.Supervisor
	return supervisor.Options{
		PollInterval:      s.PollInterval,
		ProbeTimeout:      s.ProbeTimeout,
		StartupTimeout:    s.StartupTimeout,
		HealthInterval:    s.HealthInterval,
		ShutdownGrace:     s.ShutdownGrace,
		DiscoveryTimeout:  s.DiscoveryTimeout,
		DiscoveryInterval: s.DiscoveryInterval,
		BulkStartWait:     s.BulkStartWait,
		UnhealthyGrace:    s.UnhealthyGrace,
		RestartDelay:      s.RestartDelay,
		MaxRestarts:       s.MaxRestarts,
		RestartWindow:     s.RestartWindow,
	}
}

// LogSink returns the per-service output sink.
func (c *Config) LogSink() logger.Sink {
	return logger.Sink{
		Dir:        c.LogDir,
		MaxSizeMB:  c.LogRotate.MaxSizeMB,
		MaxBackups: c.LogRotate.MaxBackups,
		MaxAgeDays: c.LogRotate.MaxAgeDays,
		Compress:   c.LogRotate.Compress,
	}
}

// LoggerSettings returns the diagnostic logger settings.
func (c *Config) LoggerSettings() logger.Settings {
	return logger.Settings{Level: c.Logging.Level, Format: c.Logging.Format}
}

// GlobalEnv merges env_files in order and then the top-level env list,
// later entries overriding earlier ones. The result is sorted by key.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
