package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the spokevisor daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8090/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new spokevisor API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// List returns every service.
func (c *Client) List(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	err := c.do(ctx, http.MethodGet, "/services", nil, &out)
	return out, err
}

// Status returns one service.
func (c *Client) Status(ctx context.Context, key string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(key), nil, &out)
	return out, err
}

// Start asks the daemon to start key. A positive wait blocks until the
// service settles or wait elapses.
func (c *Client) Start(ctx context.Context, key string, wait time.Duration) (ActionResult, error) {
	c.logger.Debug("Starting service", "key", key, "wait", wait)
	return c.action(ctx, key, "start", waitQuery(wait))
}

// Stop stops key and waits for it to be down.
func (c *Client) Stop(ctx context.Context, key string) (ActionResult, error) {
	c.logger.Debug("Stopping service", "key", key)
	return c.action(ctx, key, "stop", nil)
}

// Restart stops and starts key.
func (c *Client) Restart(ctx context.Context, key string, wait time.Duration) (ActionResult, error) {
	c.logger.Debug("Restarting service", "key", key, "wait", wait)
	return c.action(ctx, key, "restart", waitQuery(wait))
}

func (c *Client) action(ctx context.Context, key, verb string, q url.Values) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(key)+"/"+verb, q, &out)
	return out, err
}

// Logs returns the last lines of the service log. lines <= 0 uses the
// daemon default.
func (c *Client) Logs(ctx context.Context, key string, lines int) (LogsResponse, error) {
	var q url.Values
	if lines > 0 {
		q = url.Values{"lines": {strconv.Itoa(lines)}}
	}
	var out LogsResponse
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(key)+"/logs", q, &out)
	return out, err
}

// StartAll starts every service in dependency order.
func (c *Client) StartAll(ctx context.Context) ([]BulkResult, error) {
	var out []BulkResult
	err := c.do(ctx, http.MethodPost, "/services/start-all", nil, &out)
	return out, err
}

// StopAll stops every service in reverse dependency order.
func (c *Client) StopAll(ctx context.Context) ([]BulkResult, error) {
	var out []BulkResult
	err := c.do(ctx, http.MethodPost, "/services/stop-all", nil, &out)
	return out, err
}

// AutoStart returns the auto-start flag of every service.
func (c *Client) AutoStart(ctx context.Context) (map[string]bool, error) {
	out := map[string]bool{}
	err := c.do(ctx, http.MethodGet, "/services/auto-start", nil, &out)
	return out, err
}

// SetAutoStart persists the auto-start flag of key.
func (c *Client) SetAutoStart(ctx context.Context, key string, enabled bool) error {
	q := url.Values{"enabled": {strconv.FormatBool(enabled)}}
	return c.do(ctx, http.MethodPatch, "/services/"+url.PathEscape(key)+"/auto-start", q, nil)
}

func waitQuery(wait time.Duration) url.Values {
	if wait <= 0 {
		return nil
	}
	return url.Values{"wait": {wait.String()}}
}

// do performs an HTTP request with common error handling and decodes a
// successful body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
