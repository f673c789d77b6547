package store

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/seriesflow/types"
)

func newTestDatabaseStore(t *testing.T) *DatabaseStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Each sqlite :memory: connection is its own database; pin the pool to
	// one connection so every query sees the same data.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s, err := NewDatabaseStore(db, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestDatabaseStore_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		return newTestDatabaseStore(t)
	})
}

func TestDatabaseStore_UniqueVersionConstraint(t *testing.T) {
	s := newTestDatabaseStore(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.SaveVersion(ctx, "s1", fittedModel(t, 1.0), Version(3))
	require.NoError(t, err)

	// Writing the same version twice is rejected before the insert; the
	// first committed artifact stays immutable.
	_, err = s.SaveVersion(ctx, "s1", fittedModel(t, 99.0), Version(3))
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrInvalidInput))

	original := fittedModel(t, 1.0)
	loaded, _, err := s.LoadVersion(ctx, "s1", Version(3))
	require.NoError(t, err)
	assertSamePredictions(t, original, loaded, 0, 2, 50, 200)
}

func TestDatabaseStore_CorruptedPayload(t *testing.T) {
	s := newTestDatabaseStore(t)
	defer s.Close()
	ctx := context.Background()

	v, err := s.Save(ctx, "s1", fittedModel(t, 1.0))
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&artifactRecord{}).
		Where("series_key = ? AND version = ?", "s1", int(v)).
		Update("payload", []byte("{broken")).Error)

	_, _, err = s.LoadVersion(ctx, "s1", v)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCorruptedArtifact))
}

func TestDatabaseStore_UnknownModelType(t *testing.T) {
	s := newTestDatabaseStore(t)
	defer s.Close()
	ctx := context.Background()

	v, err := s.Save(ctx, "s1", fittedModel(t, 1.0))
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&artifactRecord{}).
		Where("series_key = ? AND version = ?", "s1", int(v)).
		Update("model_type", "long-gone-model").Error)

	_, _, err = s.LoadVersion(ctx, "s1", v)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrUnsupportedType))
}

func TestDatabaseStore_Ping(t *testing.T) {
	s := newTestDatabaseStore(t)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
