package supervisor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/spokevisor/internal/ledger"
	"github.com/loykin/spokevisor/internal/metrics"
	"github.com/loykin/spokevisor/internal/service"
)

type bootFinding struct {
	running bool
	pid     int
}

// Detect adopts services that survived a supervisor restart. Networked
// services are adopted when their health endpoint answers, containers when
// the runtime reports them running, and workers when the PID in the ledger
// is still alive. Adopted services are not marked as spawned by us. Ledger
// entries of services that were not adopted with a live PID are removed.
func (c *Controller) Detect(ctx context.Context) error {
	entries, err := c.ledger.Load(ctx)
	if err != nil {
		c.logger.Warn("ledger unreadable, adopting by health only", "error", err)
		entries = map[string]ledger.Entry{}
	}

	defs := c.reg.Definitions()
	found := make([]bootFinding, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range defs {
		g.Go(func() error {
			found[i] = c.probeBoot(gctx, d, entries[d.Key])
			return nil
		})
	}
	_ = g.Wait()

	now := c.now()
	for i, d := range defs {
		f := found[i]
		if f.running {
			var adopted bool
			_ = c.reg.Do(func(tx service.Tx) error {
				rt := tx.Runtime(d.Key)
				if rt.State != service.StateStopped {
					return nil
				}
				c.transition(d.Key, rt, service.StateRunning)
				rt.Generation++
				rt.PID = f.pid
				rt.StartedAt = now
				rt.SpawnedByUs = false
				rt.Error = ""
				adopted = true
				return nil
			})
			if adopted {
				metrics.IncAdopted(d.Key)
				c.logger.Info("adopted running service", "service", d.Key, "pid", f.pid)
			}
		}
		if _, ok := entries[d.Key]; ok && f.pid == 0 {
			if err := c.ledger.Remove(ctx, d.Key); err != nil {
				c.logger.Warn("ledger remove failed", "service", d.Key, "error", err)
			}
		}
	}
	return ctx.Err()
}

func (c *Controller) probeBoot(ctx context.Context, d service.Definition, e ledger.Entry) bootFinding {
	alive := e.PID > 0 && c.prober.Alive(e.PID, e.StartUnix)
	switch {
	case d.IsContainer():
		up, err := c.containers.Running(ctx, d)
		if err != nil {
			c.logger.Debug("container query failed", "service", d.Key, "error", err)
		}
		return bootFinding{running: up}
	case d.IsNetworked():
		if !c.prober.Endpoint(ctx, d.HealthURL()) {
			return bootFinding{}
		}
		f := bootFinding{running: true}
		if alive {
			f.pid = e.PID
		}
		return f
	case alive:
		return bootFinding{running: true, pid: e.PID}
	}
	return bootFinding{}
}
