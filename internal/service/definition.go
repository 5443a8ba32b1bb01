package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind selects how a service is launched.
type Kind string

const (
	KindProcess   Kind = "process"
	KindContainer Kind = "container"
)

// probeHost is where spokes listen; the supervisor only manages local services.
const probeHost = "127.0.0.1"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Definition is the immutable description of a managed service.
type Definition struct {
	Key  string `json:"key" mapstructure:"key"`
	Name string `json:"name" mapstructure:"name"`
	// Port is the listening port. Zero marks a background worker.
	Port    int    `json:"port,omitempty" mapstructure:"port"`
	WorkDir string `json:"work_dir" mapstructure:"work_dir"`
	// Interpreter overrides the supervisor's default interpreter.
	Interpreter string `json:"interpreter,omitempty" mapstructure:"interpreter"`
	// VenvPath is a service-local binary relative to WorkDir, used when present.
	VenvPath     string   `json:"venv_path,omitempty" mapstructure:"venv_path"`
	StartArgs    []string `json:"start_args,omitempty" mapstructure:"start_args"`
	HealthPath   string   `json:"health_path,omitempty" mapstructure:"health_path"`
	ShutdownPath string   `json:"shutdown_path,omitempty" mapstructure:"shutdown_path"`
	DependsOn    []string `json:"depends_on,omitempty" mapstructure:"depends_on"`
	Kind         Kind     `json:"kind" mapstructure:"kind"`

	ContainerService string `json:"container_service,omitempty" mapstructure:"container_service"`
	ContainerProject string `json:"container_project,omitempty" mapstructure:"container_project"`

	// ProcessGroup is a display label only.
	ProcessGroup string   `json:"process_group,omitempty" mapstructure:"process_group"`
	Env          []string `json:"env,omitempty" mapstructure:"env"`
	// WorkerSignature is the command-line substring used to find a worker in
	// the process table. Defaults to the joined start args.
	WorkerSignature string `json:"worker_signature,omitempty" mapstructure:"worker_signature"`
}

// ValidKey reports whether k matches the service key syntax.
func ValidKey(k string) bool { return keyPattern.MatchString(k) }

// IsContainer reports whether the service is delegated to a container runtime.
func (d Definition) IsContainer() bool { return d.Kind == KindContainer }

// IsNetworked reports whether startup and health are confirmed over HTTP.
func (d Definition) IsNetworked() bool {
	return !d.IsContainer() && d.Port > 0 && d.HealthPath != ""
}

// IsWorker reports whether the service is confirmed by process-table lookup.
func (d Definition) IsWorker() bool { return !d.IsContainer() && !d.IsNetworked() }

// HealthURL returns the probe URL, or "" when the service has none.
func (d Definition) HealthURL() string {
	if d.Port <= 0 || d.HealthPath == "" {
		return ""
	}
	return endpoint(d.Port, d.HealthPath)
}

// ShutdownURL returns the graceful shutdown URL, or "".
func (d Definition) ShutdownURL() string {
	if d.Port <= 0 || d.ShutdownPath == "" {
		return ""
	}
	return endpoint(d.Port, d.ShutdownPath)
}

func endpoint(port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("http://%s:%d%s", probeHost, port, path)
}

// Signature returns the command-line substring identifying the worker.
func (d Definition) Signature() string {
	if s := strings.TrimSpace(d.WorkerSignature); s != "" {
		return s
	}
	return strings.Join(d.StartArgs, " ")
}

// DisplayName falls back to the key when Name is empty.
func (d Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Key
}

// Validate checks the definition on its own; cross-service rules live in
// NewRegistry.
func (d Definition) Validate() error {
	if d.Key == "" {
		return errors.New("service key is required")
	}
	if !keyPattern.MatchString(d.Key) {
		return fmt.Errorf("service %q: key may only contain letters, digits, '.', '_' and '-'", d.Key)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("service %q: port %d out of range", d.Key, d.Port)
	}
	if d.Port == 0 && (d.HealthPath != "" || d.ShutdownPath != "") {
		return fmt.Errorf("service %q: health_path and shutdown_path require a port", d.Key)
	}
	switch d.Kind {
	case KindProcess, "":
		if d.WorkDir == "" {
			return fmt.Errorf("service %q: work_dir is required", d.Key)
		}
		if d.IsWorker() && d.Signature() == "" {
			return fmt.Errorf("service %q: worker needs start_args or worker_signature", d.Key)
		}
	case KindContainer:
		if d.ContainerService == "" {
			return fmt.Errorf("service %q: container kind requires container_service", d.Key)
		}
	default:
		return fmt.Errorf("service %q: unknown kind %q", d.Key, d.Kind)
	}
	for _, dep := range d.DependsOn {
		if dep == d.Key {
			return fmt.Errorf("service %q depends on itself", d.Key)
		}
	}
	for _, kv := range d.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("service %q: env entry %q is not KEY=VALUE", d.Key, kv)
		}
	}
	return nil
}
