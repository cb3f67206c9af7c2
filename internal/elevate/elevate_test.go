package elevate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/elevate"
)

type countingBackend struct {
	acquired  atomic.Int32
	released  atomic.Int32
	pings     atomic.Int32
	nextToken atomic.Int32
}

func (b *countingBackend) Acquire(context.Context) (string, error) {
	b.acquired.Add(1)
	n := b.nextToken.Add(1)
	return string(rune('a' + n)), nil
}

func (b *countingBackend) Release(context.Context, string) error {
	b.released.Add(1)
	return nil
}

func (b *countingBackend) Ping(context.Context, string) error {
	b.pings.Add(1)
	return nil
}

func TestHandle_NestedAcquireReleaseOnlyTouchesBackendAtEdges(t *testing.T) {
	backend := &countingBackend{}
	h := elevate.New(backend, 0)
	ctx := context.Background()

	require.NoError(t, h.Acquire(ctx))
	require.NoError(t, h.Acquire(ctx))
	require.NoError(t, h.Acquire(ctx))
	require.Equal(t, 3, h.Count())
	require.EqualValues(t, 1, backend.acquired.Load())

	require.NoError(t, h.Release(ctx))
	require.NoError(t, h.Release(ctx))
	require.EqualValues(t, 0, backend.released.Load())

	require.NoError(t, h.Release(ctx))
	require.Equal(t, 0, h.Count())
	require.EqualValues(t, 1, backend.released.Load())
}

func TestHandle_ReleaseWithoutAcquireFails(t *testing.T) {
	h := elevate.New(&countingBackend{}, 0)
	err := h.Release(context.Background())
	require.Error(t, err)
}

func TestHandle_KeepalivePingsWhileHeld(t *testing.T) {
	backend := &countingBackend{}
	h := elevate.New(backend, 5*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, h.Acquire(ctx))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, h.Release(ctx))

	require.Greater(t, backend.pings.Load(), int32(0))
}

func TestHandle_ConcurrentAcquireRelease(t *testing.T) {
	backend := &countingBackend{}
	h := elevate.New(backend, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, h.Acquire(ctx))
			require.NoError(t, h.Release(ctx))
		}()
	}
	wg.Wait()
	require.Equal(t, 0, h.Count())
}
