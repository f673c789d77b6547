package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/seriesflow/model"
	"github.com/BaSui01/seriesflow/types"
)

// fittedModel returns a statistical model trained on a constant series, so
// its decision boundary sits exactly at center and distinguishes it from
// models trained around other centers.
func fittedModel(t *testing.T, center float64) model.Model {
	t.Helper()
	m := model.NewStatisticalModel(3.0)
	points := make([]types.DataPoint, 8)
	for i := range points {
		points[i] = types.DataPoint{Timestamp: int64(i), Value: center}
	}
	require.NoError(t, m.Fit(types.TimeSeries{Points: points}))
	return m
}

func assertSamePredictions(t *testing.T, want, got model.Model, values ...float64) {
	t.Helper()
	for _, v := range values {
		point := types.DataPoint{Timestamp: 1, Value: v}
		wantAnomalous, err := want.Predict(point)
		require.NoError(t, err)
		gotAnomalous, err := got.Predict(point)
		require.NoError(t, err)
		assert.Equal(t, wantAnomalous, gotAnomalous, "value %v", v)
	}
}

// runBackendContract exercises the Backend invariants every implementation
// must uphold. Each subtest gets a fresh backend.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("FreshKeyIsEmpty", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		versions, err := backend.ListVersions(ctx, "never-written")
		require.NoError(t, err)
		assert.Empty(t, versions)

		assert.False(t, backend.Exists(ctx, "never-written"))

		_, ok, err := backend.LatestVersion(ctx, "never-written")
		require.NoError(t, err)
		assert.False(t, ok)

		_, _, err = backend.Load(ctx, "never-written")
		require.Error(t, err)
		assert.True(t, types.HasCode(err, types.ErrModelNotFound))
	})

	t.Run("SequentialSaves", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		first := fittedModel(t, 1.0)
		second := fittedModel(t, 50.0)
		third := fittedModel(t, 100.0)

		v0, err := backend.Save(ctx, "s1", first)
		require.NoError(t, err)
		v1, err := backend.Save(ctx, "s1", second)
		require.NoError(t, err)
		v2, err := backend.Save(ctx, "s1", third)
		require.NoError(t, err)

		assert.Equal(t, InitialVersion, v0)
		assert.Equal(t, v0+1, v1)
		assert.Equal(t, v1+1, v2)

		versions, err := backend.ListVersions(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []Version{v0, v1, v2}, versions)

		latest, ok, err := backend.LatestVersion(ctx, "s1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, v2, latest)

		// Load without a version resolves to the maximum version.
		loaded, resolved, err := backend.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, v2, resolved)
		assertSamePredictions(t, third, loaded, 0, 30, 75, 150)

		// Explicit version load returns the first model, not the latest.
		loaded, resolved, err = backend.LoadVersion(ctx, "s1", v0)
		require.NoError(t, err)
		assert.Equal(t, v0, resolved)
		assertSamePredictions(t, first, loaded, 0, 30, 75, 150)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		m := model.NewStatisticalModel(2.0)
		require.NoError(t, m.Fit(types.TimeSeries{Points: []types.DataPoint{
			{Timestamp: 1, Value: 10}, {Timestamp: 2, Value: 12},
			{Timestamp: 3, Value: 11}, {Timestamp: 4, Value: 9},
			{Timestamp: 5, Value: 10},
		}}))

		version, err := backend.Save(ctx, "round-trip", m)
		require.NoError(t, err)

		loaded, resolved, err := backend.LoadVersion(ctx, "round-trip", version)
		require.NoError(t, err)
		assert.Equal(t, version, resolved)
		assert.Equal(t, m.Type(), loaded.Type())
		assert.True(t, loaded.IsFitted())
		assertSamePredictions(t, m, loaded, -100, 0, 9, 11, 13, 16, 100)
	})

	t.Run("UnfittedSaveRejected", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		_, err := backend.Save(ctx, "s1", model.NewStatisticalModel(3.0))
		require.Error(t, err)
		assert.True(t, types.HasCode(err, types.ErrModelNotFitted))

		// The failed save left no trace.
		versions, err := backend.ListVersions(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, versions)
	})

	t.Run("NotFound", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		_, _, err := backend.Load(ctx, "missing-key")
		require.Error(t, err)
		assert.True(t, types.HasCode(err, types.ErrModelNotFound))

		_, err = backend.Save(ctx, "s1", fittedModel(t, 1.0))
		require.NoError(t, err)

		_, _, err = backend.LoadVersion(ctx, "s1", Version(99))
		require.Error(t, err)
		assert.True(t, types.HasCode(err, types.ErrModelNotFound))
	})

	t.Run("ExplicitVersion", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		v, err := backend.SaveVersion(ctx, "s1", fittedModel(t, 1.0), Version(10))
		require.NoError(t, err)
		assert.Equal(t, Version(10), v)

		// The allocator continues above the explicit version.
		next, err := backend.Save(ctx, "s1", fittedModel(t, 2.0))
		require.NoError(t, err)
		assert.Equal(t, Version(11), next)

		assert.True(t, backend.ExistsVersion(ctx, "s1", Version(10)))
		assert.False(t, backend.ExistsVersion(ctx, "s1", Version(9)))
	})

	t.Run("ExplicitVersionImmutable", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		original := fittedModel(t, 1.0)
		_, err := backend.SaveVersion(ctx, "s1", original, Version(3))
		require.NoError(t, err)

		// Committed versions are immutable; a second writer aiming at the
		// same number is rejected on every backend.
		_, err = backend.SaveVersion(ctx, "s1", fittedModel(t, 500.0), Version(3))
		require.Error(t, err)
		assert.True(t, types.HasCode(err, types.ErrInvalidInput))

		loaded, _, err := backend.LoadVersion(ctx, "s1", Version(3))
		require.NoError(t, err)
		assertSamePredictions(t, original, loaded, 0, 250, 1000)
	})

	t.Run("ListKeys", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		keys, err := backend.ListKeys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)

		_, err = backend.Save(ctx, "series-a", fittedModel(t, 1.0))
		require.NoError(t, err)
		_, err = backend.Save(ctx, "series-b", fittedModel(t, 2.0))
		require.NoError(t, err)

		keys, err = backend.ListKeys(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"series-a", "series-b"}, keys)
	})

	t.Run("InvalidSeriesKey", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		for _, key := range []string{"", "../escape", "a/b", ".hidden", "bad key"} {
			_, err := backend.Save(ctx, key, fittedModel(t, 1.0))
			require.Error(t, err, "key %q", key)
			assert.True(t, types.HasCode(err, types.ErrInvalidSeriesKey), "key %q", key)

			_, _, err = backend.Load(ctx, key)
			require.Error(t, err, "key %q", key)
			assert.True(t, types.HasCode(err, types.ErrInvalidSeriesKey), "key %q", key)
		}
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		const writers = 50
		m := fittedModel(t, 1.0)

		var mu sync.Mutex
		got := make([]Version, 0, writers)

		var g errgroup.Group
		for i := 0; i < writers; i++ {
			g.Go(func() error {
				v, err := backend.Save(ctx, "contended", m)
				if err != nil {
					return err
				}
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		// No version was lost or handed out twice, and no number was
		// skipped: the committed set is exactly v0..v49.
		sortVersions(got)
		want := make([]Version, writers)
		for i := range want {
			want[i] = Version(i)
		}
		assert.Equal(t, want, got)

		versions, err := backend.ListVersions(ctx, "contended")
		require.NoError(t, err)
		assert.Equal(t, want, versions)
	})
}
