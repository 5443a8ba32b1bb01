package supervisor

import (
	"context"
	"errors"

	"github.com/loykin/spokevisor/internal/depgraph"
	"github.com/loykin/spokevisor/internal/service"
)

// BulkResult is the outcome of one service in a bulk operation.
type BulkResult struct {
	Key     string        `json:"key"`
	OK      bool          `json:"success"`
	Message string        `json:"message"`
	State   service.State `json:"state"`
}

// StartAll starts every service in dependency order, waiting for each to
// leave the starting state before moving on.
func (c *Controller) StartAll(ctx context.Context) []BulkResult {
	return c.startInOrder(ctx, c.reg.Order())
}

// StartAuto starts the services flagged for auto start, in dependency order.
func (c *Controller) StartAuto(ctx context.Context) ([]BulkResult, error) {
	flags, err := c.AutoStart(ctx)
	if err != nil {
		return nil, err
	}
	keys := autoStartKeys(flags)
	if len(keys) == 0 {
		return nil, nil
	}
	c.logger.Info("auto-starting services", "services", keys)
	return c.startInOrder(ctx, depgraph.Sort(keys, c.reg.DependsOn)), nil
}

func (c *Controller) startInOrder(ctx context.Context, keys []string) []BulkResult {
	out := make([]BulkResult, 0, len(keys))
	for _, key := range keys {
		if ctx.Err() != nil {
			out = append(out, c.result(key, false, ctx.Err().Error()))
			continue
		}
		if rt, _ := c.reg.Snapshot(key); rt.State == service.StateRunning {
			out = append(out, c.result(key, true, "already running"))
			continue
		}
		op, err := c.Start(key)
		if err != nil {
			c.logger.Warn("bulk start skipped service", "service", key, "error", err)
			out = append(out, c.result(key, false, err.Error()))
			continue
		}
		out = append(out, c.awaitStart(ctx, key, op))
	}
	return out
}

func (c *Controller) awaitStart(ctx context.Context, key string, op *Op) BulkResult {
	wctx, cancel := context.WithTimeout(ctx, c.opts.BulkStartWait)
	defer cancel()
	err := op.Wait(wctx)
	switch {
	case err == nil:
		return c.result(key, true, "started")
	case errors.Is(err, context.DeadlineExceeded) && op.Err() == nil:
		return c.result(key, true, "still starting")
	default:
		return c.result(key, false, err.Error())
	}
}

// StopAll stops every service in reverse dependency order.
func (c *Controller) StopAll(ctx context.Context) []BulkResult {
	return c.stopInOrder(ctx, depgraph.Reverse(c.reg.Order()), false)
}

// StopSpawned stops only the services this supervisor launched, in reverse
// dependency order. Starts still in flight count as launched. Adopted
// services are left running.
func (c *Controller) StopSpawned(ctx context.Context) []BulkResult {
	return c.stopInOrder(ctx, depgraph.Reverse(c.reg.Order()), true)
}

func (c *Controller) stopInOrder(ctx context.Context, keys []string, spawnedOnly bool) []BulkResult {
	out := make([]BulkResult, 0, len(keys))
	for _, key := range keys {
		rt, _ := c.reg.Snapshot(key)
		if spawnedOnly && !rt.SpawnedByUs && rt.State != service.StateStarting {
			continue
		}
		if rt.State == service.StateStopped {
			out = append(out, c.result(key, true, "already stopped"))
			continue
		}
		if err := c.Stop(ctx, key); err != nil {
			out = append(out, c.result(key, false, err.Error()))
			continue
		}
		out = append(out, c.result(key, true, "stopped"))
	}
	return out
}

func (c *Controller) result(key string, ok bool, msg string) BulkResult {
	rt, _ := c.reg.Snapshot(key)
	return BulkResult{Key: key, OK: ok, Message: msg, State: rt.State}
}
