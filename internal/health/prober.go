// Package health decides whether a service is alive, using the strategy that
// fits its kind.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/spokevisor/internal/container"
	"github.com/loykin/spokevisor/internal/detector"
	"github.com/loykin/spokevisor/internal/locator"
	"github.com/loykin/spokevisor/internal/service"
)

// Result of one probe. PID is set when a worker was rediscovered by
// signature and differs from the tracked one.
type Result struct {
	Healthy bool
	PID     int
	Method  string
}

// Prober combines HTTP, PID and container checks.
type Prober struct {
	client     *http.Client
	locator    locator.WorkerLocator
	containers container.Runtime
	logger     *slog.Logger
}

// New returns a Prober whose HTTP requests are bounded by timeout.
func New(timeout time.Duration, loc locator.WorkerLocator, rt container.Runtime, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = detector.DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			// a health endpoint answering with a redirect is up
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		locator:    loc,
		containers: rt,
		logger:     logger,
	}
}

// Endpoint probes a URL: healthy iff the response status is below 400.
func (p *Prober) Endpoint(ctx context.Context, url string) bool {
	ok, err := detector.HTTPDetector{URL: url, Client: p.client}.Alive(ctx)
	if err != nil {
		p.logger.Debug("health probe failed", "url", url, "error", err)
	}
	return ok
}

// Alive reports OS-level liveness of pid. A zombie counts as dead, and so
// does a PID whose start time no longer matches startUnix.
func (p *Prober) Alive(pid int, startUnix int64) bool {
	ok, _ := detector.PIDDetector{PID: pid, StartUnix: startUnix}.Alive(context.Background())
	return ok
}

// Check probes def using the tracked pid where relevant.
func (p *Prober) Check(ctx context.Context, def service.Definition, pid int) Result {
	switch {
	case def.IsContainer():
		up, err := p.containers.Running(ctx, def)
		if err != nil {
			p.logger.Debug("container query failed", "service", def.Key, "error", err)
		}
		return Result{Healthy: up, Method: "container"}
	case def.IsNetworked():
		return Result{Healthy: p.Endpoint(ctx, def.HealthURL()), Method: "http"}
	}

	if pid > 0 {
		return Result{Healthy: p.Alive(pid, 0), Method: "pid"}
	}
	if p.locator == nil {
		return Result{Method: "signature"}
	}
	found, err := p.locator.Locate(ctx, def.Signature())
	if err != nil {
		if !errors.Is(err, locator.ErrNotFound) {
			p.logger.Debug("worker lookup failed", "service", def.Key, "error", err)
		}
		return Result{Method: "signature"}
	}
	return Result{Healthy: true, PID: found, Method: "signature"}
}
