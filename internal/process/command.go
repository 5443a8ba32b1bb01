package process

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loykin/spokevisor/internal/env"
	"github.com/loykin/spokevisor/internal/service"
)

// FallbackInterpreter is used when neither the service nor the supervisor
// configures one.
const FallbackInterpreter = "python3"

// ResolveExecutable picks the program for def: the service-local binary under
// WorkDir when VenvPath names an existing file, else the service interpreter,
// else defaultInterp.
func ResolveExecutable(def service.Definition, defaultInterp string) string {
	if p := venvBinary(def); p != "" {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	if def.Interpreter != "" {
		return def.Interpreter
	}
	if defaultInterp != "" {
		return defaultInterp
	}
	return FallbackInterpreter
}

// venvBinary returns the absolute service-local binary path, or "".
func venvBinary(def service.Definition) string {
	if def.VenvPath == "" {
		return ""
	}
	if filepath.IsAbs(def.VenvPath) {
		return def.VenvPath
	}
	return filepath.Join(def.WorkDir, def.VenvPath)
}

// BuildCommand returns the command for def without a shell: exe followed by
// the start args, run in WorkDir. The supervisor environment is overlaid with
// base and then the service's own env, with ${VAR} references resolved.
func BuildCommand(exe string, def service.Definition, base []string) *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(exe, def.StartArgs...)
	cmd.Dir = def.WorkDir
	cmd.Env = env.FromOS().Merge(base, def.Env)
	configureSysProcAttr(cmd)
	return cmd
}
