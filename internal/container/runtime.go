// Package container delegates container-kind services to a local container
// runtime. Containers are identified by their compose service label.
package container

import (
	"context"
	"errors"

	"github.com/loykin/spokevisor/internal/service"
)

// ErrNoContainer is returned when no container exists for a compose service.
var ErrNoContainer = errors.New("no container for compose service")

// Runtime starts, stops and queries the containers behind a service.
type Runtime interface {
	Start(ctx context.Context, def service.Definition) error
	Stop(ctx context.Context, def service.Definition) error
	Running(ctx context.Context, def service.Definition) (bool, error)
}

// Unavailable fails every call. It stands in when no runtime could be
// configured so that process-kind services keep working.
type Unavailable struct{ Err error }

func (u Unavailable) err() error {
	if u.Err != nil {
		return u.Err
	}
	return errors.New("container runtime unavailable")
}

func (u Unavailable) Start(context.Context, service.Definition) error { return u.err() }
func (u Unavailable) Stop(context.Context, service.Definition) error  { return u.err() }
func (u Unavailable) Running(context.Context, service.Definition) (bool, error) {
	return false, u.err()
}
