package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/seriesflow/types"
)

func TestManager_AcquireRelease(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "s1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	release()
	assert.Equal(t, 0, m.Len())

	// Double release is a no-op.
	release()
	assert.Equal(t, 0, m.Len())
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "s1", time.Second)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "s1", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrLockTimeout))
	assert.True(t, types.IsRetryable(err))

	// The timed-out waiter left no residual state; the lock is usable
	// again as soon as the holder releases.
	release()
	assert.Equal(t, 0, m.Len())

	release2, err := m.Acquire(ctx, "s1", 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestManager_ContextCancel(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(context.Background(), "s1", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, "s1", 10*time.Second)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrLockTimeout))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_IndependentKeys(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	releaseA, err := m.Acquire(ctx, "a", time.Second)
	require.NoError(t, err)
	defer releaseA()

	// Holding "a" must not block "b".
	releaseB, err := m.Acquire(ctx, "b", 50*time.Millisecond)
	require.NoError(t, err)
	releaseB()
}

func TestManager_MutualExclusion(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	const workers = 32
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "shared", 5*time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
	assert.Equal(t, 0, m.Len())
}

func TestManager_ConcurrentLazyCreation(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "fresh-key", 5*time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, m.Len())
}
