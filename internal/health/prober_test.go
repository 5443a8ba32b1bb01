package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/spokevisor/internal/container"
	"github.com/loykin/spokevisor/internal/locator"
	"github.com/loykin/spokevisor/internal/service"
)

type stubLocator struct {
	pid int
	err error
}

func (s stubLocator) Locate(context.Context, string) (int, error) { return s.pid, s.err }
func (s stubLocator) FindAll(context.Context, string) ([]locator.Candidate, error) {
	return nil, nil
}

type stubRuntime struct {
	container.Unavailable
	up bool
}

func (s stubRuntime) Running(context.Context, service.Definition) (bool, error) { return s.up, nil }

func portOf(t *testing.T, raw string) int {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	p, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return p
}

func TestCheckNetworked(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	def := service.Definition{Key: "web", Port: portOf(t, srv.URL), HealthPath: "/health", WorkDir: "/x"}
	p := New(time.Second, nil, nil, nil)

	res := p.Check(context.Background(), def, 0)
	assert.True(t, res.Healthy)
	assert.Equal(t, "http", res.Method)

	status = http.StatusInternalServerError
	assert.False(t, p.Check(context.Background(), def, 0).Healthy)

	status = http.StatusMovedPermanently
	assert.True(t, p.Check(context.Background(), def, 0).Healthy, "3xx is below 400")
}

func TestCheckContainer(t *testing.T) {
	def := service.Definition{Key: "db", Kind: service.KindContainer, ContainerService: "postgres"}
	assert.True(t, New(time.Second, nil, stubRuntime{up: true}, nil).Check(context.Background(), def, 0).Healthy)
	assert.False(t, New(time.Second, nil, stubRuntime{up: false}, nil).Check(context.Background(), def, 0).Healthy)
	assert.False(t, New(time.Second, nil, container.Unavailable{}, nil).Check(context.Background(), def, 0).Healthy)
}

func TestCheckWorkerTrackedPID(t *testing.T) {
	def := service.Definition{Key: "indexer", WorkDir: "/x", StartArgs: []string{"indexer"}}
	// The locator must not be consulted while a PID is tracked.
	p := New(time.Second, stubLocator{pid: 999}, nil, nil)

	res := p.Check(context.Background(), def, os.Getpid())
	assert.True(t, res.Healthy)
	assert.Equal(t, "pid", res.Method)
	assert.Zero(t, res.PID)

	res = p.Check(context.Background(), def, 1<<30)
	assert.False(t, res.Healthy)
}

func TestCheckWorkerRediscovery(t *testing.T) {
	def := service.Definition{Key: "indexer", WorkDir: "/x", StartArgs: []string{"indexer"}}

	res := New(time.Second, stubLocator{pid: 4242}, nil, nil).Check(context.Background(), def, 0)
	assert.True(t, res.Healthy)
	assert.Equal(t, 4242, res.PID)

	res = New(time.Second, stubLocator{err: locator.ErrNotFound}, nil, nil).Check(context.Background(), def, 0)
	assert.False(t, res.Healthy)

	res = New(time.Second, stubLocator{err: errors.New("permission denied")}, nil, nil).Check(context.Background(), def, 0)
	assert.False(t, res.Healthy)

	res = New(time.Second, nil, nil, nil).Check(context.Background(), def, 0)
	assert.False(t, res.Healthy)
}

func TestEndpointUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	assert.False(t, New(200*time.Millisecond, nil, nil, nil).Endpoint(context.Background(), u))
}
