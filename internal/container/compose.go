package container

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/spokevisor/internal/service"
)

// CommandRunner executes a CLI and returns its combined output.
type CommandRunner func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	// #nosec G204
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Compose shells out to `docker compose`. The service WorkDir is the compose
// project directory; ContainerProject, when set, is passed as -p.
type Compose struct {
	Binary  string
	Timeout time.Duration
	run     CommandRunner
}

func NewCompose() *Compose {
	return &Compose{Binary: "docker", Timeout: 30 * time.Second, run: execRunner}
}

func (c *Compose) args(def service.Definition, sub ...string) []string {
	a := []string{"compose"}
	if def.ContainerProject != "" {
		a = append(a, "-p", def.ContainerProject)
	}
	return append(a, sub...)
}

func (c *Compose) exec(ctx context.Context, def service.Definition, sub ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	out, err := c.run(ctx, def.WorkDir, c.Binary, c.args(def, sub...)...)
	if err != nil {
		return out, fmt.Errorf("docker compose %s %s: %w: %s", sub[0], def.ContainerService, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (c *Compose) Start(ctx context.Context, def service.Definition) error {
	_, err := c.exec(ctx, def, "up", "-d", def.ContainerService)
	return err
}

func (c *Compose) Stop(ctx context.Context, def service.Definition) error {
	_, err := c.exec(ctx, def, "stop", def.ContainerService)
	return err
}

type psEntry struct {
	Service string `json:"Service"`
	State   string `json:"State"`
}

func (c *Compose) Running(ctx context.Context, def service.Definition) (bool, error) {
	out, err := c.exec(ctx, def, "ps", "--status", "running", "--format", "json", def.ContainerService)
	if err != nil {
		return false, err
	}
	entries, err := parsePS(out)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Service == def.ContainerService && e.State == "running" {
			return true, nil
		}
	}
	return false, nil
}

// parsePS accepts both output shapes of `ps --format json`: a JSON array
// (older compose) or one object per line.
func parsePS(out []byte) ([]psEntry, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	if out[0] == '[' {
		var entries []psEntry
		if err := json.Unmarshal(out, &entries); err != nil {
			return nil, fmt.Errorf("parse compose ps: %w", err)
		}
		return entries, nil
	}
	var entries []psEntry
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 {
			continue
		}
		var e psEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse compose ps: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, s.Err()
}
