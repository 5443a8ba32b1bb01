package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/loykin/spokevisor/internal/service"
)

const (
	labelComposeService = "com.docker.compose.service"
	labelComposeProject = "com.docker.compose.project"
)

// dockerAPI is the subset of the Engine API client used here.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	Close() error
}

// Docker talks to the Docker Engine API. Containers must already exist
// (created by `docker compose up` or `create`); Start only starts them.
type Docker struct {
	api         dockerAPI
	stopTimeout time.Duration
	logger      *slog.Logger
}

// NewDocker builds a client from the environment (DOCKER_HOST etc.) and
// negotiates the API version.
func NewDocker(ctx context.Context, stopTimeout time.Duration, logger *slog.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cli.NegotiateAPIVersion(nctx)
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("using docker engine API", "api_version", cli.ClientVersion())
	return newDocker(cli, stopTimeout, logger), nil
}

func newDocker(api dockerAPI, stopTimeout time.Duration, logger *slog.Logger) *Docker {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Docker{api: api, stopTimeout: stopTimeout, logger: logger}
}

func composeFilters(def service.Definition) filters.Args {
	args := filters.NewArgs(filters.Arg("label", labelComposeService+"="+def.ContainerService))
	if def.ContainerProject != "" {
		args.Add("label", labelComposeProject+"="+def.ContainerProject)
	}
	return args
}

func (d *Docker) list(ctx context.Context, def service.Definition, all bool) ([]container.Summary, error) {
	cs, err := d.api.ContainerList(ctx, container.ListOptions{All: all, Filters: composeFilters(def)})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return cs, nil
}

func (d *Docker) Start(ctx context.Context, def service.Definition) error {
	cs, err := d.list(ctx, def, true)
	if err != nil {
		return err
	}
	if len(cs) == 0 {
		return fmt.Errorf("%w %q", ErrNoContainer, def.ContainerService)
	}
	for _, c := range cs {
		if c.State == "running" {
			continue
		}
		if err := d.api.ContainerStart(ctx, c.ID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start container %s: %w", shortID(c.ID), err)
		}
		d.logger.Info("started container", "service", def.Key, "container_id", shortID(c.ID))
	}
	return nil
}

func (d *Docker) Stop(ctx context.Context, def service.Definition) error {
	cs, err := d.list(ctx, def, false)
	if err != nil {
		return err
	}
	secs := int(d.stopTimeout.Seconds())
	for _, c := range cs {
		if err := d.api.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &secs}); err != nil {
			return fmt.Errorf("failed to stop container %s: %w", shortID(c.ID), err)
		}
		d.logger.Info("stopped container", "service", def.Key, "container_id", shortID(c.ID))
	}
	return nil
}

func (d *Docker) Running(ctx context.Context, def service.Definition) (bool, error) {
	cs, err := d.list(ctx, def, false)
	if err != nil {
		return false, err
	}
	for _, c := range cs {
		if c.State == "running" {
			return true, nil
		}
	}
	return false, nil
}

func (d *Docker) Close() error { return d.api.Close() }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
