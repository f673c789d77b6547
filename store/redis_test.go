package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/seriesflow/types"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Type = BackendObjectStore
	cfg.ObjectStore.Addr = mr.Addr()
	cfg.ObjectStore.Bucket = "test-bucket"

	s, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestRedisStore_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		return newTestRedisStore(t)
	})
}

func TestRedisStore_RequiresBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = BackendObjectStore
	cfg.ObjectStore.Bucket = ""

	_, err := NewRedisStore(cfg, zap.NewNop())
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrInvalidInput))
}

func TestRedisStore_HeldLeaseTimesOut(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Type = BackendObjectStore
	cfg.ObjectStore.Addr = mr.Addr()
	cfg.ObjectStore.Bucket = "b"
	cfg.LockTimeout = 150 * time.Millisecond

	s, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	// Another writer holds the series lease.
	require.NoError(t, mr.Set(s.leaseKey("s1"), "other-writer-token"))

	_, err = s.Save(ctx, "s1", fittedModel(t, 1.0))
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrLockTimeout))
	assert.True(t, types.IsRetryable(err))

	// Once the lease is gone the same save goes through.
	mr.Del(s.leaseKey("s1"))
	_, err = s.Save(ctx, "s1", fittedModel(t, 1.0))
	require.NoError(t, err)
}

func TestRedisStore_LeaseReleasedAfterSave(t *testing.T) {
	s := newTestRedisStore(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.Save(ctx, "s1", fittedModel(t, 1.0))
	require.NoError(t, err)

	// The lease does not linger; a follow-up save acquires it at once.
	start := time.Now()
	_, err = s.Save(ctx, "s1", fittedModel(t, 2.0))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRedisStore_CorruptedMetadata(t *testing.T) {
	s := newTestRedisStore(t)
	defer s.Close()
	ctx := context.Background()

	v, err := s.Save(ctx, "s1", fittedModel(t, 1.0))
	require.NoError(t, err)

	// Overwrite the stored metadata object with garbage.
	require.NoError(t, s.client.Set(ctx, s.metadataKey("s1", v), "{broken", 0).Err())

	_, _, err = s.LoadVersion(ctx, "s1", v)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCorruptedArtifact))
}

func TestRedisStore_Ping(t *testing.T) {
	s := newTestRedisStore(t)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
