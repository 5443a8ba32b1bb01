package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/spokevisor/internal/health"
	"github.com/loykin/spokevisor/internal/ledger"
	"github.com/loykin/spokevisor/internal/restart"
	"github.com/loykin/spokevisor/internal/service"
	"github.com/loykin/spokevisor/internal/store"
)

type fakeProc struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func (p *fakeProc) PID() int              { return p.pid }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) ExitCode() int         { return 1 }
func (p *fakeProc) exit()                 { p.once.Do(func() { close(p.done) }) }

type fakeSpawner struct {
	mu         sync.Mutex
	next       int
	procs      map[int]*fakeProc
	latest     map[string]int
	spawned    []string
	terminated []int
	cleared    []int
	// keys whose process exits right after spawn
	exitEarly   map[string]bool
	spawnErr    error
	discoverErr error
	// when set, Prepare blocks until it is closed
	prepareGate chan struct{}
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		next:      1000,
		procs:     map[int]*fakeProc{},
		latest:    map[string]int{},
		exitEarly: map[string]bool{},
	}
}

func (s *fakeSpawner) Prepare(context.Context, service.Definition) error {
	s.mu.Lock()
	gate := s.prepareGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (s *fakeSpawner) Spawn(_ context.Context, def service.Definition) (Proc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	s.next++
	p := &fakeProc{pid: s.next, done: make(chan struct{})}
	s.procs[p.pid] = p
	s.latest[def.Key] = p.pid
	s.spawned = append(s.spawned, def.Key)
	if s.exitEarly[def.Key] {
		p.exit()
	}
	return p, nil
}

func (s *fakeSpawner) Discover(_ context.Context, def service.Definition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discoverErr != nil {
		return 0, s.discoverErr
	}
	return s.latest[def.Key], nil
}

func (s *fakeSpawner) Terminate(_ context.Context, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = append(s.terminated, pid)
	if p, ok := s.procs[pid]; ok {
		p.exit()
	}
	return nil
}

func (s *fakeSpawner) ClearPort(_ context.Context, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, port)
	return nil
}

func (s *fakeSpawner) pidOf(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[key]
}

func (s *fakeSpawner) exit(pid int) {
	s.mu.Lock()
	p := s.procs[pid]
	s.mu.Unlock()
	if p != nil {
		p.exit()
	}
}

func (s *fakeSpawner) spawnOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spawned...)
}

func (s *fakeSpawner) terminatedPIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.terminated...)
}

func (s *fakeSpawner) clearedPorts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.cleared...)
}

type fakeProber struct {
	mu      sync.Mutex
	healthy map[string]bool
	dead    map[int]bool
	check   func(def service.Definition, pid int) health.Result
	running map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{healthy: map[string]bool{}, dead: map[int]bool{}, running: map[string]bool{}}
}

func (p *fakeProber) setHealthy(url string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy[url] = ok
}

func (p *fakeProber) setCheck(fn func(def service.Definition, pid int) health.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.check = fn
}

func (p *fakeProber) Endpoint(_ context.Context, url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy[url]
}

func (p *fakeProber) Alive(pid int, _ int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pid > 0 && !p.dead[pid]
}

func (p *fakeProber) Check(ctx context.Context, def service.Definition, pid int) health.Result {
	p.mu.Lock()
	fn := p.check
	p.mu.Unlock()
	if fn != nil {
		return fn(def, pid)
	}
	if def.IsNetworked() {
		return health.Result{Healthy: p.Endpoint(ctx, def.HealthURL()), Method: "http"}
	}
	return health.Result{Healthy: p.Alive(pid, 0), Method: "pid"}
}

type fakeContainers struct {
	mu      sync.Mutex
	running map[string]bool
	stops   int
}

func (f *fakeContainers) Start(_ context.Context, def service.Definition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[def.ContainerService] = true
	return nil
}

func (f *fakeContainers) Stop(_ context.Context, def service.Definition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[def.ContainerService] = false
	f.stops++
	return nil
}

func (f *fakeContainers) Running(_ context.Context, def service.Definition) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[def.ContainerService], nil
}

type memLedger struct {
	mu sync.Mutex
	m  map[string]ledger.Entry
}

func newMemLedger() *memLedger { return &memLedger{m: map[string]ledger.Entry{}} }

func (l *memLedger) Save(_ context.Context, key string, e ledger.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[key] = e
	return nil
}

func (l *memLedger) Remove(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, key)
	return nil
}

func (l *memLedger) Load(context.Context) (map[string]ledger.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]ledger.Entry, len(l.m))
	for k, v := range l.m {
		out[k] = v
	}
	return out, nil
}

func (l *memLedger) get(key string) (ledger.Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[key]
	return e, ok
}

type memSettings struct {
	mu sync.Mutex
	m  map[string]bool
}

func (s *memSettings) SetAutoStart(_ context.Context, key string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = enabled
	return nil
}

func (s *memSettings) Settings(context.Context) ([]store.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Setting
	for k, v := range s.m {
		out = append(out, store.Setting{Key: k, AutoStart: v})
	}
	return out, nil
}

type fakeLogs struct{ err error }

func (f fakeLogs) Tail(key string, lines int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s:%d", key, lines), nil
}

type harness struct {
	c          *Controller
	reg        *service.Registry
	spawner    *fakeSpawner
	prober     *fakeProber
	containers *fakeContainers
	ledger     *memLedger
	settings   *memSettings
}

func testOptions() Options {
	o := DefaultOptions()
	o.PollInterval = 10 * time.Millisecond
	o.StartupTimeout = 300 * time.Millisecond
	o.HealthInterval = 5 * time.Millisecond
	o.ShutdownGrace = 100 * time.Millisecond
	o.BulkStartWait = 2 * time.Second
	o.UnhealthyGrace = 0
	o.RestartDelay = 0
	return o
}

func newHarness(t *testing.T, defs []service.Definition, tweak ...func(*Options)) *harness {
	t.Helper()
	opts := testOptions()
	for _, fn := range tweak {
		fn(&opts)
	}
	reg, err := service.NewRegistry(defs, restart.New(opts.MaxRestarts, opts.RestartWindow))
	require.NoError(t, err)
	h := &harness{
		reg:        reg,
		spawner:    newFakeSpawner(),
		prober:     newFakeProber(),
		containers: &fakeContainers{running: map[string]bool{}},
		ledger:     newMemLedger(),
		settings:   &memSettings{m: map[string]bool{}},
	}
	h.c = New(reg, Deps{
		Spawner:    h.spawner,
		Prober:     h.prober,
		Containers: h.containers,
		Ledger:     h.ledger,
		Settings:   h.settings,
		Logs:       fakeLogs{},
		StartTime:  func(int) int64 { return 0 },
	}, opts)
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) state(key string) service.Runtime {
	rt, _ := h.reg.Snapshot(key)
	return rt
}

func (h *harness) waitState(t *testing.T, key string, want service.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.state(key).State == want },
		3*time.Second, 5*time.Millisecond, "%s never reached %s (now %s)", key, want, h.state(key).State)
}

// startRunning starts key and waits for it to run.
func (h *harness) startRunning(t *testing.T, key string) {
	t.Helper()
	op, err := h.c.Start(key)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, op.Wait(ctx))
	require.Equal(t, service.StateRunning, h.state(key).State)
}

func webDef(port int) service.Definition {
	return service.Definition{
		Key: "web", Name: "Web", Port: port, WorkDir: "/srv/web",
		StartArgs: []string{"-m", "web"}, HealthPath: "/health",
	}
}

func workerDef(key string, deps ...string) service.Definition {
	return service.Definition{Key: key, WorkDir: "/srv/" + key, StartArgs: []string{"-m", key}, DependsOn: deps}
}

func containerDef(key string) service.Definition {
	return service.Definition{Key: key, Kind: service.KindContainer, ContainerService: key}
}

var errBoom = errors.New("boom")
