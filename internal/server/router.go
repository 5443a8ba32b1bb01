package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/spokevisor/internal/metrics"
	"github.com/loykin/spokevisor/internal/service"
	"github.com/loykin/spokevisor/internal/supervisor"
)

// Controller is the part of supervisor.Controller the API serves.
type Controller interface {
	Start(key string) (*supervisor.Op, error)
	Stop(ctx context.Context, key string) error
	Restart(ctx context.Context, key string) (*supervisor.Op, error)
	Status(ctx context.Context, key string) (service.Status, error)
	List(ctx context.Context) []service.Status
	Logs(key string, lines int) (string, error)
	StartAll(ctx context.Context) []supervisor.BulkResult
	StopAll(ctx context.Context) []supervisor.BulkResult
	AutoStart(ctx context.Context) (map[string]bool, error)
	SetAutoStart(ctx context.Context, key string, enabled bool) error
}

var _ Controller = (*supervisor.Controller)(nil)

const (
	defaultLogLines = 100
	maxLogLines     = 10000
)

// Router provides embeddable HTTP handlers for managing services.
// Endpoints, relative to basePath:
//
//	GET   /services
//	GET   /services/:key
//	POST  /services/:key/start      query: wait=30s (optional)
//	POST  /services/:key/stop
//	POST  /services/:key/restart    query: wait=30s (optional)
//	GET   /services/:key/logs       query: lines=N
//	POST  /services/start-all
//	POST  /services/stop-all
//	GET   /services/auto-start
//	PATCH /services/:key/auto-start query: enabled=true|false
//	GET   /metrics
type Router struct {
	ctrl     Controller
	basePath string
	metrics  http.Handler
}

// NewRouter mounts the routes under basePath ("" or "/" for the root).
func NewRouter(ctrl Controller, basePath string) *Router {
	return &Router{ctrl: ctrl, basePath: mountPoint(basePath), metrics: metrics.Handler()}
}

// WithMetrics replaces the /metrics handler.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/services", r.handleList)
	group.GET("/services/auto-start", r.handleAutoStart)
	group.POST("/services/start-all", r.handleStartAll)
	group.POST("/services/stop-all", r.handleStopAll)
	group.GET("/services/:key", r.handleStatus)
	group.POST("/services/:key/start", r.handleStart)
	group.POST("/services/:key/stop", r.handleStop)
	group.POST("/services/:key/restart", r.handleRestart)
	group.GET("/services/:key/logs", r.handleLogs)
	group.PATCH("/services/:key/auto-start", r.handleSetAutoStart)
	group.GET("/metrics", gin.WrapH(r.metrics))
	return g
}

// Server runs the API as a supervised service.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds a standalone HTTP server on addr using r.
func NewServer(addr string, r *Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// bulk starts wait on every service in turn
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Serve listens until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api listening", "addr", s.srv.Addr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	<-errCh
	return ctx.Err()
}

func (s *Server) String() string { return "spokevisor-api" }

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type actionResp struct {
	Key     string        `json:"key"`
	OK      bool          `json:"success"`
	Message string        `json:"message"`
	State   service.State `json:"state,omitempty"`
}

type logsResp struct {
	Key   string `json:"key"`
	Lines int    `json:"lines"`
	Logs  string `json:"logs"`
}

type autoStartResp struct {
	Key       string `json:"key"`
	AutoStart bool   `json:"auto_start"`
}

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrDependencyNotReady),
		errors.Is(err, supervisor.ErrTransitionInProgress),
		errors.Is(err, supervisor.ErrStartAborted):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrNoSettings):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), errorResp{Error: err.Error()})
}

// key reads and validates the :key path parameter.
func key(c *gin.Context) (string, bool) {
	k := c.Param("key")
	if !validKey(k) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid service key: " + k})
		return "", false
	}
	return k, true
}

func (r *Router) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.List(c.Request.Context()))
}

func (r *Router) handleStatus(c *gin.Context) {
	k, ok := key(c)
	if !ok {
		return
	}
	st, err := r.ctrl.Status(c.Request.Context(), k)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	k, ok := key(c)
	if !ok {
		return
	}
	wait, ok := waitParam(c)
	if !ok {
		return
	}
	op, err := r.ctrl.Start(k)
	if err != nil {
		writeError(c, err)
		return
	}
	r.respondOp(c, k, op, wait, "Starting")
}

func (r *Router) handleRestart(c *gin.Context) {
	k, ok := key(c)
	if !ok {
		return
	}
	wait, ok := waitParam(c)
	if !ok {
		return
	}
	op, err := r.ctrl.Restart(c.Request.Context(), k)
	if err != nil {
		writeError(c, err)
		return
	}
	r.respondOp(c, k, op, wait, "Restarting")
}

// respondOp answers a start. Without wait it returns 202 right away;
// with wait it blocks until the service settles or the wait runs out.
func (r *Router) respondOp(c *gin.Context, k string, op *supervisor.Op, wait time.Duration, verb string) {
	ctx := c.Request.Context()
	code := http.StatusAccepted
	msg := verb + " " + k
	if wait > 0 {
		wctx, cancel := context.WithTimeout(ctx, wait)
		err := op.Wait(wctx)
		cancel()
		switch {
		case err == nil:
			code, msg = http.StatusOK, "started"
		case errors.Is(err, context.DeadlineExceeded):
			msg = "still starting"
		default:
			st, _ := r.ctrl.Status(ctx, k)
			c.JSON(statusFor(err), actionResp{Key: k, Message: err.Error(), State: st.State})
			return
		}
	}
	st, _ := r.ctrl.Status(ctx, k)
	c.JSON(code, actionResp{Key: k, OK: true, Message: msg, State: st.State})
}

func (r *Router) handleStop(c *gin.Context) {
	k, ok := key(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := r.ctrl.Stop(ctx, k); err != nil {
		writeError(c, err)
		return
	}
	st, _ := r.ctrl.Status(ctx, k)
	c.JSON(http.StatusOK, actionResp{Key: k, OK: true, Message: "Stopped " + k, State: st.State})
}

func (r *Router) handleLogs(c *gin.Context) {
	k, ok := key(c)
	if !ok {
		return
	}
	lines := defaultLogLines
	if s := c.Query("lines"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "lines must be a positive integer"})
			return
		}
		lines = min(n, maxLogLines)
	}
	out, err := r.ctrl.Logs(k, lines)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, logsResp{Key: k, Lines: lines, Logs: out})
}

func (r *Router) handleStartAll(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.StartAll(c.Request.Context()))
}

func (r *Router) handleStopAll(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.StopAll(c.Request.Context()))
}

func (r *Router) handleAutoStart(c *gin.Context) {
	flags, err := r.ctrl.AutoStart(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flags)
}

func (r *Router) handleSetAutoStart(c *gin.Context) {
	k, ok := key(c)
	if !ok {
		return
	}
	enabled, err := strconv.ParseBool(c.Query("enabled"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "enabled must be true or false"})
		return
	}
	if err := r.ctrl.SetAutoStart(c.Request.Context(), k, enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, autoStartResp{Key: k, AutoStart: enabled})
}

func waitParam(c *gin.Context) (time.Duration, bool) {
	s := c.Query("wait")
	if s == "" {
		return 0, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid wait duration"})
		return 0, false
	}
	return d, true
}
