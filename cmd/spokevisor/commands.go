package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/loykin/spokevisor/pkg/client"
)

// command binds the CLI handlers to the daemon connection settings.
type command struct {
	global *GlobalFlags
	out    io.Writer
}

func (c command) client(ctx context.Context) (*client.Client, error) {
	url, err := apiURL(*c.global)
	if err != nil {
		return nil, err
	}
	cl := client.New(client.Config{BaseURL: url, Timeout: c.global.APITimeout})
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start it first with 'spokevisor serve'", url)
	}
	return cl, nil
}

// Status prints one service, or every service when key is empty.
func (c command) Status(ctx context.Context, key string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		list, err := cl.List(ctx)
		if err != nil {
			return err
		}
		printJSON(c.out, list)
		return nil
	}
	st, err := cl.Status(ctx, key)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c command) Start(ctx context.Context, f StartFlags) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	res, err := cl.Start(ctx, f.Key, f.Wait)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) Stop(ctx context.Context, key string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	res, err := cl.Stop(ctx, key)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) Restart(ctx context.Context, f StartFlags) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	res, err := cl.Restart(ctx, f.Key, f.Wait)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

// Logs prints the raw log tail.
func (c command) Logs(ctx context.Context, f LogsFlags) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	res, err := cl.Logs(ctx, f.Key, f.Lines)
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.out, res.Logs)
	return err
}

func (c command) StartAll(ctx context.Context) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	res, err := cl.StartAll(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return bulkErr("start", res)
}

func (c command) StopAll(ctx context.Context) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	res, err := cl.StopAll(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return bulkErr("stop", res)
}

// AutoStart lists the flags, or sets one when both key and enabled are given.
func (c command) AutoStart(ctx context.Context, f AutoStartFlags) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if f.Key != "" {
		on, err := strconv.ParseBool(f.Enabled)
		if err != nil {
			return fmt.Errorf("enabled must be true or false, got %q", f.Enabled)
		}
		if err := cl.SetAutoStart(ctx, f.Key, on); err != nil {
			return err
		}
	}
	flags, err := cl.AutoStart(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, flags)
	return nil
}

func bulkErr(verb string, res []client.BulkResult) error {
	failed := 0
	for _, r := range res {
		if !r.OK {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to %s %d service(s)", verb, failed)
	}
	return nil
}
