package agentcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strandsflow/agent"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/model/mock"
	"github.com/thomasrohde/strandsflow/modelpool"
	"github.com/thomasrohde/strandsflow/telemetry"
)

func newTestPool(t *testing.T) *modelpool.Pool {
	t.Helper()
	pool, err := modelpool.New(4, func(model.RuntimeConfig) (model.Client, error) {
		return mock.NewSequence("ok"), nil
	})
	require.NoError(t, err)
	return pool
}

type fakeCloser struct{ closed int32 }

func (f *fakeCloser) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func TestGetOrBuildBuildsOncePerKey(t *testing.T) {
	var builds int32
	bus := hooks.NewBus(telemetry.NoopLogger())
	builder := func(_ context.Context, args BuildArgs, client model.Client) (*agent.Agent, []Closer, error) {
		atomic.AddInt32(&builds, 1)
		return agent.New(args.AgentID, client, model.RuntimeConfig{}, "", nil, bus, nil), nil, nil
	}
	cache := New(newTestPool(t), builder, bus)
	defer func() { _ = cache.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetOrBuild(context.Background(), model.RuntimeConfig{}, BuildArgs{AgentID: "writer"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), builds)
	require.Equal(t, 1, cache.Len())
}

func TestGetOrBuildDistinctOverridesYieldDistinctAgents(t *testing.T) {
	bus := hooks.NewBus(telemetry.NoopLogger())
	builder := func(_ context.Context, args BuildArgs, client model.Client) (*agent.Agent, []Closer, error) {
		return agent.New(args.AgentID, client, model.RuntimeConfig{}, "", nil, bus, nil), nil, nil
	}
	cache := New(newTestPool(t), builder, bus)
	defer func() { _ = cache.Close() }()

	_, err := cache.GetOrBuild(context.Background(), model.RuntimeConfig{}, BuildArgs{AgentID: "writer"})
	require.NoError(t, err)
	_, err = cache.GetOrBuild(context.Background(), model.RuntimeConfig{}, BuildArgs{AgentID: "writer", Notes: []string{"extra"}})
	require.NoError(t, err)

	require.Equal(t, 2, cache.Len())
}

func TestCloseReleasesClosersAndIsIdempotent(t *testing.T) {
	bus := hooks.NewBus(telemetry.NoopLogger())
	fc := &fakeCloser{}
	builder := func(_ context.Context, args BuildArgs, client model.Client) (*agent.Agent, []Closer, error) {
		return agent.New(args.AgentID, client, model.RuntimeConfig{}, "", nil, bus, nil), []Closer{fc}, nil
	}
	cache := New(newTestPool(t), builder, bus)
	_, err := cache.GetOrBuild(context.Background(), model.RuntimeConfig{}, BuildArgs{AgentID: "writer"})
	require.NoError(t, err)

	require.NoError(t, cache.Close())
	require.NoError(t, cache.Close())
	require.Equal(t, int32(1), fc.closed)
}

func TestGetOrBuildAfterCloseErrors(t *testing.T) {
	bus := hooks.NewBus(telemetry.NoopLogger())
	builder := func(_ context.Context, args BuildArgs, client model.Client) (*agent.Agent, []Closer, error) {
		return agent.New(args.AgentID, client, model.RuntimeConfig{}, "", nil, bus, nil), nil, nil
	}
	cache := New(newTestPool(t), builder, bus)
	require.NoError(t, cache.Close())

	_, err := cache.GetOrBuild(context.Background(), model.RuntimeConfig{}, BuildArgs{AgentID: "writer"})
	require.Error(t, err)
}
