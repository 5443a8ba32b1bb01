package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/spokevisor/internal/service"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "spokevisor.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

const sample = `
apps_root = "apps"
default_interpreter = "/usr/bin/python3"

[supervisor]
poll_interval = "5s"
max_restarts = 5
unhealthy_grace = "0s"

[[services]]
key = "db"
kind = "container"
work_dir = "db"
container_service = "postgres"

[[services]]
key = "api"
name = "API"
port = 8101
work_dir = "api"
venv_path = ".venv/bin/python"
start_args = ["-m", "uvicorn", "api:app"]
health_path = "/health"
shutdown_path = "/shutdown"
depends_on = ["db"]
process_group = "core"
env = ["MODE=prod"]

[[services]]
key = "indexer"
work_dir = "/opt/indexer"
start_args = ["-m", "indexer"]
worker_signature = "indexer.main"
`

func TestLoad_Sample(t *testing.T) {
	file := writeConfig(t, sample)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(file)
	if cfg.AppsRoot != filepath.Join(dir, "apps") {
		t.Fatalf("apps_root not resolved: %s", cfg.AppsRoot)
	}
	if cfg.PIDFile != filepath.Join(dir, "state", "service_pids.json") {
		t.Fatalf("pid_file default not resolved: %s", cfg.PIDFile)
	}
	if len(cfg.Services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(cfg.Services))
	}
	db, api, idx := cfg.Services[0], cfg.Services[1], cfg.Services[2]
	if db.Kind != service.KindContainer || db.ContainerService != "postgres" {
		t.Fatalf("unexpected db: %+v", db)
	}
	if api.WorkDir != filepath.Join(dir, "apps", "api") {
		t.Fatalf("work_dir not joined with apps_root: %s", api.WorkDir)
	}
	if api.Kind != service.KindProcess || api.Port != 8101 || api.HealthURL() != "http://127.0.0.1:8101/health" {
		t.Fatalf("unexpected api: %+v", api)
	}
	if len(api.DependsOn) != 1 || api.DependsOn[0] != "db" || api.Env[0] != "MODE=prod" {
		t.Fatalf("unexpected api deps/env: %+v", api)
	}
	if idx.WorkDir != "/opt/indexer" || idx.Signature() != "indexer.main" {
		t.Fatalf("unexpected indexer: %+v", idx)
	}

	o := cfg.Options()
	if o.PollInterval != 5*time.Second || o.MaxRestarts != 5 {
		t.Fatalf("overrides not applied: %+v", o)
	}
	if o.StartupTimeout != 30*time.Second || o.RestartWindow != 10*time.Minute {
		t.Fatalf("defaults not applied: %+v", o)
	}
	if o.UnhealthyGrace != 0 {
		t.Fatalf("explicit zero grace must survive: %v", o.UnhealthyGrace)
	}
	if cfg.Server.Listen != "127.0.0.1:8090" || cfg.Server.BasePath != "/api" {
		t.Fatalf("server defaults: %+v", cfg.Server)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if got := strings.Join(reg.Order(), ","); got != "db,api,indexer" {
		t.Fatalf("order: %s", got)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	file := writeConfig(t, sample)
	t.Setenv("SPOKEVISOR_SERVER_LISTEN", "0.0.0.0:9999")
	t.Setenv("SPOKEVISOR_SUPERVISOR_STARTUP_TIMEOUT", "45s")
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != "0.0.0.0:9999" {
		t.Fatalf("listen override: %s", cfg.Server.Listen)
	}
	if cfg.Options().StartupTimeout != 45*time.Second {
		t.Fatalf("startup_timeout override: %v", cfg.Options().StartupTimeout)
	}
}

func TestLoad_StoreDSN(t *testing.T) {
	file := writeConfig(t, "[store]\ndsn = \"postgres://u:p@localhost/db\"\n")
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "postgres://u:p@localhost/db" {
		t.Fatalf("url dsn must be kept: %s", cfg.Store.DSN)
	}

	file = writeConfig(t, "")
	cfg, err = Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != filepath.Join(filepath.Dir(file), "state", "spokevisor.db") {
		t.Fatalf("sqlite path not resolved: %s", cfg.Store.DSN)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"duplicate", "[[services]]\nkey=\"a\"\nwork_dir=\"a\"\nstart_args=[\"x\"]\n[[services]]\nkey=\"a\"\nwork_dir=\"a\"\nstart_args=[\"x\"]\n", "duplicate service key"},
		{"unknown dep", "[[services]]\nkey=\"a\"\nwork_dir=\"a\"\nstart_args=[\"x\"]\ndepends_on=[\"b\"]\n", "unknown service"},
		{"cycle", "[[services]]\nkey=\"a\"\nwork_dir=\"a\"\nstart_args=[\"x\"]\ndepends_on=[\"b\"]\n[[services]]\nkey=\"b\"\nwork_dir=\"b\"\nstart_args=[\"y\"]\ndepends_on=[\"a\"]\n", "dependency cycle"},
		{"health without port", "[[services]]\nkey=\"a\"\nwork_dir=\"a\"\nhealth_path=\"/h\"\n", "require a port"},
		{"ledger", "[ledger]\ntype=\"etcd\"\n", "unknown type"},
		{"redis without dsn", "[ledger]\ntype=\"redis\"\n", "requires dsn"},
		{"runtime", "[container]\nruntime=\"podman\"\n", "unknown runtime"},
		{"format", "[logging]\nformat=\"xml\"\n", "unknown format"},
		{"syntax", "[[services]\n", "read config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.data))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGlobalEnvMerge(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("A=1\n#comment\nB=two\nTOP=file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	file := filepath.Join(dir, "cfg.toml")
	data := "env_files = [\".env\"]\nenv = [\"TOP=tv\"]\n"
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	env, err := cfg.GlobalEnv()
	if err != nil {
		t.Fatalf("global env: %v", err)
	}
	if got := strings.Join(env, ","); got != "A=1,B=two,TOP=tv" {
		t.Fatalf("unexpected env: %s", got)
	}

	cfg.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	if _, err := cfg.GlobalEnv(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestLogSinkAndLogger(t *testing.T) {
	file := writeConfig(t, "log_dir = \"/var/log/spokes\"\n[log_rotation]\nmax_size_mb = 50\ncompress = true\n[logging]\nlevel = \"debug\"\nformat = \"json\"\n")
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := cfg.LogSink()
	if s.Dir != "/var/log/spokes" || s.MaxSizeMB != 50 || !s.Compress {
		t.Fatalf("unexpected sink: %+v", s)
	}
	if s.Path("api") != "/var/log/spokes/api.log" {
		t.Fatalf("unexpected path: %s", s.Path("api"))
	}
	ls := cfg.LoggerSettings()
	if ls.Level != "debug" || ls.Format != "json" {
		t.Fatalf("unexpected logger settings: %+v", ls)
	}
}
