package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/spokevisor/internal/ledger"
	"github.com/loykin/spokevisor/internal/service"
)

func chain() []service.Definition {
	// declared out of order on purpose
	return []service.Definition{
		workerDef("ui", "api"),
		workerDef("api", "db", "cache"),
		workerDef("cache"),
		workerDef("db"),
	}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestStartAllDependencyOrder(t *testing.T) {
	h := newHarness(t, chain())
	res := h.c.StartAll(context.Background())
	require.Len(t, res, 4)
	for _, r := range res {
		assert.True(t, r.OK, "%s: %s", r.Key, r.Message)
		assert.Equal(t, service.StateRunning, r.State)
	}

	order := h.spawner.spawnOrder()
	for _, d := range chain() {
		for _, dep := range d.DependsOn {
			assert.Less(t, indexOf(order, dep), indexOf(order, d.Key), "%s before %s", dep, d.Key)
		}
	}

	again := h.c.StartAll(context.Background())
	for _, r := range again {
		assert.Equal(t, "already running", r.Message)
	}
	assert.Len(t, h.spawner.spawnOrder(), 4)
}

func TestStartAllReportsFailures(t *testing.T) {
	h := newHarness(t, chain())
	h.spawner.discoverErr = ErrWorkerNotFound

	res := h.c.StartAll(context.Background())
	byKey := map[string]BulkResult{}
	for _, r := range res {
		byKey[r.Key] = r
	}
	assert.False(t, byKey["db"].OK)
	assert.Equal(t, service.StateError, byKey["db"].State)
	assert.False(t, byKey["api"].OK)
	assert.Contains(t, byKey["api"].Message, "dependency")
}

func TestStopAllReverseOrder(t *testing.T) {
	h := newHarness(t, chain())
	h.c.StartAll(context.Background())

	keyOf := map[int]string{}
	for _, d := range chain() {
		keyOf[h.state(d.Key).PID] = d.Key
	}

	res := h.c.StopAll(context.Background())
	require.Len(t, res, 4)
	var stopped []string
	for _, pid := range h.spawner.terminatedPIDs() {
		stopped = append(stopped, keyOf[pid])
	}
	for _, d := range chain() {
		for _, dep := range d.DependsOn {
			assert.Less(t, indexOf(stopped, d.Key), indexOf(stopped, dep), "%s stops before %s", d.Key, dep)
		}
		assert.Equal(t, service.StateStopped, h.state(d.Key).State)
	}
}

func TestStartAutoOnlyFlagged(t *testing.T) {
	h := newHarness(t, chain())
	ctx := context.Background()
	require.NoError(t, h.c.SetAutoStart(ctx, "api", true))
	require.NoError(t, h.c.SetAutoStart(ctx, "db", true))
	require.NoError(t, h.c.SetAutoStart(ctx, "cache", true))

	flags, err := h.c.AutoStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ui": false, "api": true, "cache": true, "db": true}, flags)

	res, err := h.c.StartAuto(ctx)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "api", res[2].Key)
	assert.Equal(t, service.StateStopped, h.state("ui").State)
	assert.Equal(t, service.StateRunning, h.state("api").State)
}

func TestDetectAdoptionScope(t *testing.T) {
	defs := []service.Definition{
		webDef(18110),
		workerDef("ghost"),
		workerDef("indexer"),
		containerDef("db"),
		workerDef("fresh"),
	}
	h := newHarness(t, defs)
	ctx := context.Background()
	h.prober.setHealthy("http://127.0.0.1:18110/health", true)
	h.prober.dead[502] = true
	h.containers.running["db"] = true
	require.NoError(t, h.ledger.Save(ctx, "web", ledger.Entry{PID: 501}))
	require.NoError(t, h.ledger.Save(ctx, "ghost", ledger.Entry{PID: 502}))
	require.NoError(t, h.ledger.Save(ctx, "indexer", ledger.Entry{PID: 503}))

	require.NoError(t, h.c.Detect(ctx))

	web := h.state("web")
	assert.Equal(t, service.StateRunning, web.State)
	assert.Equal(t, 501, web.PID)
	assert.False(t, web.SpawnedByUs)
	assert.False(t, web.StartedAt.IsZero())

	assert.Equal(t, service.StateStopped, h.state("ghost").State)
	_, ok := h.ledger.get("ghost")
	assert.False(t, ok, "stale entry removed")

	idx := h.state("indexer")
	assert.Equal(t, service.StateRunning, idx.State)
	assert.Equal(t, 503, idx.PID)

	assert.Equal(t, service.StateRunning, h.state("db").State)
	assert.Equal(t, service.StateStopped, h.state("fresh").State)

	// adopted services are not ours to stop on shutdown
	assert.Empty(t, h.c.StopSpawned(ctx))
	assert.Empty(t, h.spawner.terminatedPIDs())
}

func TestDetectHealthyWithoutLedgerPID(t *testing.T) {
	h := newHarness(t, []service.Definition{webDef(18111)})
	h.prober.setHealthy("http://127.0.0.1:18111/health", true)
	h.prober.dead[600] = true
	require.NoError(t, h.ledger.Save(context.Background(), "web", ledger.Entry{PID: 600}))

	require.NoError(t, h.c.Detect(context.Background()))
	rt := h.state("web")
	assert.Equal(t, service.StateRunning, rt.State)
	assert.Zero(t, rt.PID, "dead ledger pid is not adopted")
	_, ok := h.ledger.get("web")
	assert.False(t, ok)
}

func TestStopSpawnedLeavesAdopted(t *testing.T) {
	h := newHarness(t, []service.Definition{workerDef("ours"), workerDef("theirs")})
	ctx := context.Background()
	require.NoError(t, h.ledger.Save(ctx, "theirs", ledger.Entry{PID: 777}))
	require.NoError(t, h.c.Detect(ctx))
	h.startRunning(t, "ours")

	res := h.c.StopSpawned(ctx)
	require.Len(t, res, 1)
	assert.Equal(t, "ours", res[0].Key)
	assert.Equal(t, service.StateStopped, h.state("ours").State)
	assert.Equal(t, service.StateRunning, h.state("theirs").State)
}

func TestStopSpawnedAbortsStartInFlight(t *testing.T) {
	h := newHarness(t, []service.Definition{workerDef("indexer")})
	gate := make(chan struct{})
	h.spawner.prepareGate = gate
	ctx := context.Background()

	op, err := h.c.Start("indexer")
	require.NoError(t, err)
	require.Equal(t, service.StateStarting, h.state("indexer").State)

	res := h.c.StopSpawned(ctx)
	require.Len(t, res, 1)
	assert.Equal(t, "indexer", res[0].Key)
	assert.True(t, res[0].OK)

	close(gate)
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	assert.ErrorIs(t, op.Wait(wctx), ErrStartAborted)
	h.c.Close()

	rt := h.state("indexer")
	assert.Equal(t, service.StateStopped, rt.State)
	assert.Zero(t, rt.PID)
	assert.False(t, rt.SpawnedByUs)
	assert.Equal(t, []int{h.spawner.pidOf("indexer")}, h.spawner.terminatedPIDs())
}
