package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/thomasrohde/strandsflow/session"
)

var (
	testClient    *mongodriver.Client
	testContainer testcontainers.Container
	skipTests     bool
)

// setupMongo starts a disposable mongo:7 container, grounded on the
// teacher's registry/store/mongo test harness. Docker-less CI environments
// skip rather than fail.
func setupMongo(t *testing.T) {
	t.Helper()
	if testClient != nil || skipTests {
		return
	}
	ctx := context.Background()

	func() {
		defer func() {
			if r := recover(); r != nil {
				skipTests = true
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		var err error
		testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			skipTests = true
		}
	}()
	if skipTests {
		return
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		skipTests = true
		return
	}
	port, err := testContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipTests = true
		return
	}
	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testClient, err = mongodriver.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(10 * time.Second))
	if err != nil {
		skipTests = true
		return
	}
	if err := testClient.Ping(ctx, nil); err != nil {
		skipTests = true
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	setupMongo(t)
	if skipTests {
		t.Skip("docker unavailable, skipping mongo integration test")
	}
	st, err := New(context.Background(), Options{
		Client:   testClient,
		Database: fmt.Sprintf("strandsflow_test_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	return st
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	s := session.New("sess-1", "demo", "spec text", "chain", map[string]any{"topic": "go"}, map[string]any{"provider": "mock"}, now)
	s.AddUsage("writer", 10, 20)

	require.NoError(t, store.Save(context.Background(), s))

	loaded, err := store.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, s.Metadata.SessionID, loaded.Metadata.SessionID)
	require.Equal(t, s.Metadata.WorkflowName, loaded.Metadata.WorkflowName)
	require.Equal(t, s.TokenUsage.TotalInput, loaded.TokenUsage.TotalInput)
	require.Equal(t, s.TokenUsage.TotalOutput, loaded.TokenUsage.TotalOutput)
}

func TestStoreLoadMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStoreExistsAndDelete(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	s := session.New("sess-2", "demo", "spec text", "chain", nil, nil, now)
	require.NoError(t, store.Save(context.Background(), s))

	ok, err := store.Exists(context.Background(), "sess-2")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Delete(context.Background(), "sess-2"))

	ok, err = store.Exists(context.Background(), "sess-2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreListOrdersByUpdatedAtDescending(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()
	older := session.New("sess-old", "demo", "spec", "chain", nil, nil, base.Add(-time.Hour))
	newer := session.New("sess-new", "demo", "spec", "chain", nil, nil, base)
	require.NoError(t, store.Save(context.Background(), older))
	require.NoError(t, store.Save(context.Background(), newer))

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	require.Contains(t, ids, "sess-old")
	require.Contains(t, ids, "sess-new")
	require.Equal(t, []string{"sess-new", "sess-old"}, ids)
}

func TestStoreCleanupRemovesStaleSessions(t *testing.T) {
	store := newTestStore(t)
	stale := session.New("sess-stale", "demo", "spec", "chain", nil, nil, time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, store.Save(context.Background(), stale))

	removed, err := store.Cleanup(context.Background(), 3600)
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, 1)

	_, err = store.Load(context.Background(), "sess-stale")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
