package lock

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisContainer testcontainers.Container
	testRedisAddr      string
	skipRedisTests     bool
)

func setupRedis(t *testing.T) {
	t.Helper()
	if testRedisAddr != "" || skipRedisTests {
		return
	}
	ctx := context.Background()

	func() {
		defer func() {
			if r := recover(); r != nil {
				skipRedisTests = true
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		var err error
		testRedisContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			skipRedisTests = true
		}
	}()
	if skipRedisTests {
		return
	}

	host, err := testRedisContainer.Host(ctx)
	if err != nil {
		skipRedisTests = true
		return
	}
	port, err := testRedisContainer.MappedPort(ctx, "6379")
	if err != nil {
		skipRedisTests = true
		return
	}
	testRedisAddr = fmt.Sprintf("%s:%s", host, port.Port())
}

func newTestRedisLock(t *testing.T) *Redis {
	t.Helper()
	setupRedis(t)
	if skipRedisTests {
		t.Skip("docker unavailable, skipping redis lock integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	l, err := NewRedis(client, time.Second)
	require.NoError(t, err)
	return l
}

func TestRedisAcquireReleaseRoundTrip(t *testing.T) {
	l := newTestRedisLock(t)
	release, err := l.Acquire(context.Background(), "sess-a")
	require.NoError(t, err)
	release()

	release2, err := l.Acquire(context.Background(), "sess-a")
	require.NoError(t, err)
	release2()
}

func TestRedisAcquireBlocksConcurrentHolder(t *testing.T) {
	l := newTestRedisLock(t)

	release, err := l.Acquire(context.Background(), "sess-b")
	require.NoError(t, err)

	var acquired int32
	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r, err := l.Acquire(ctx, "sess-b")
		if err == nil {
			atomic.StoreInt32(&acquired, 1)
			r()
		}
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&acquired))
	release()
	<-done
	require.EqualValues(t, 1, atomic.LoadInt32(&acquired))
}
