package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/spokevisor/internal/health"
	"github.com/loykin/spokevisor/internal/ledger"
	"github.com/loykin/spokevisor/internal/metrics"
	"github.com/loykin/spokevisor/internal/service"
)

// Serve runs the health poll loop until ctx is canceled. It implements
// suture.Service.
func (c *Controller) Serve(ctx context.Context) error {
	c.logger.Info("health polling started", "interval", c.opts.PollInterval)
	t := time.NewTicker(c.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("health polling stopped")
			return ctx.Err()
		case <-t.C:
			c.Poll(ctx)
		}
	}
}

func (c *Controller) String() string { return "spokevisor-controller" }

// Poll checks every running service once and restarts the unhealthy ones.
func (c *Controller) Poll(ctx context.Context) {
	for _, key := range c.reg.Keys() {
		if ctx.Err() != nil {
			return
		}
		c.pollOne(ctx, key)
	}
}

func (c *Controller) pollOne(ctx context.Context, key string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in health poll", "service", key, "panic", r)
		}
	}()

	def, _ := c.reg.Definition(key)
	rt, _ := c.reg.Snapshot(key)
	if rt.State != service.StateRunning {
		return
	}
	gen := rt.Generation

	res := c.prober.Check(ctx, def, rt.PID)
	metrics.IncHealthCheck(key, res.Healthy)
	if res.Healthy {
		c.trackPID(ctx, key, gen, rt.PID, res)
		return
	}

	if c.opts.UnhealthyGrace > 0 {
		c.logger.Debug("health check failed, re-probing", "service", key, "method", res.Method)
		if sleep(ctx, c.opts.UnhealthyGrace) != nil {
			return
		}
		rt, _ = c.reg.Snapshot(key)
		if rt.State != service.StateRunning || rt.Generation != gen {
			return
		}
		res = c.prober.Check(ctx, def, rt.PID)
		metrics.IncHealthCheck(key, res.Healthy)
		if res.Healthy {
			c.trackPID(ctx, key, gen, rt.PID, res)
			return
		}
	}

	c.logger.Warn("service unhealthy, attempting auto-restart", "service", key, "method", res.Method)
	if err := c.autoRestart(ctx, key, gen); err != nil {
		c.logger.Error("auto-restart failed", "service", key, "error", err)
	}
}

// trackPID follows a worker that was rediscovered under a new PID.
func (c *Controller) trackPID(ctx context.Context, key string, gen uint64, old int, res health.Result) {
	if res.PID <= 0 || res.PID == old {
		return
	}
	var updated bool
	_ = c.reg.Do(func(tx service.Tx) error {
		rt := tx.Runtime(key)
		if rt.Generation == gen && rt.State == service.StateRunning {
			rt.PID = res.PID
			rt.Exited = nil
			updated = true
		}
		return nil
	})
	if !updated {
		return
	}
	c.logger.Info("worker rediscovered", "service", key, "pid", res.PID)
	if err := c.ledger.Save(ctx, key, ledger.Entry{PID: res.PID, StartUnix: c.startTime(res.PID)}); err != nil {
		c.logger.Warn("ledger save failed", "service", key, "error", err)
	}
}

// autoRestart consults the restart budget and either performs a full stop
// and start or parks the service in the error state. The budget survives
// the internal stop.
func (c *Controller) autoRestart(ctx context.Context, key string, gen uint64) error {
	var (
		proceed, allowed bool
		pid              int
		attempts         int
	)
	now := c.now()
	_ = c.reg.Do(func(tx service.Tx) error {
		rt := tx.Runtime(key)
		if rt.State != service.StateRunning || rt.Generation != gen {
			return nil
		}
		proceed = true
		if rt.Restarts.Allow(now) {
			allowed = true
			attempts = rt.Restarts.Len()
			return nil
		}
		pid = rt.PID
		c.toError(key, rt, fmt.Sprintf("max restarts (%d) reached in %s window", rt.Restarts.Max, formatWindow(rt.Restarts.Window)))
		rt.Generation++
		return nil
	})
	if !proceed {
		return nil
	}
	def, _ := c.reg.Definition(key)
	if !allowed {
		metrics.IncBudgetExhausted(key)
		if !def.IsContainer() {
			c.terminate(ctx, key, pid)
			if err := c.ledger.Remove(ctx, key); err != nil {
				c.logger.Warn("ledger remove failed", "service", key, "error", err)
			}
		}
		return fmt.Errorf("%w: %s", ErrRestartBudgetExceeded, key)
	}

	metrics.IncRestart(key)
	c.logger.Warn("restarting service", "service", key, "attempt", attempts)
	if err := c.stop(ctx, key, true); err != nil {
		return err
	}
	if _, err := c.Start(key); err != nil {
		_ = c.reg.Do(func(tx service.Tx) error {
			rt := tx.Runtime(key)
			if rt.State == service.StateStopped {
				rt.Error = err.Error()
			}
			return nil
		})
		return err
	}
	return nil
}

func formatWindow(d time.Duration) string {
	if d > 0 && d%time.Minute == 0 {
		return fmt.Sprintf("%dmin", int(d/time.Minute))
	}
	return d.String()
}
