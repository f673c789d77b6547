package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/seriesflow/types"
)

func TestNew(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = BackendMemory
		backend, err := New(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, backend)
	})

	t.Run("filesystem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = BackendFilesystem
		cfg.Filesystem.Root = t.TempDir()
		backend, err := New(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, backend)
		assert.NoError(t, backend.Close())
	})

	t.Run("database", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = BackendDatabase
		cfg.Database.DSN = filepath.Join(t.TempDir(), "models.db")
		backend, err := New(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &DatabaseStore{}, backend)
		assert.NoError(t, backend.Close())
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Type = "tape-archive"
		_, err := New(cfg, zap.NewNop())
		require.Error(t, err)
		assert.True(t, types.HasCode(err, types.ErrUnsupportedType))
	})
}

func TestMustNew_PanicsOnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = "tape-archive"
	assert.Panics(t, func() {
		MustNew(cfg, zap.NewNop())
	})
}

func TestValidateSeriesKey(t *testing.T) {
	valid := []string{"s1", "cpu.load", "host-42_metrics", "A", "0"}
	for _, key := range valid {
		assert.NoError(t, ValidateSeriesKey(key), "key %q", key)
	}

	invalid := []string{"", ".locks", "../up", "a/b", "a b", "héllo", strings.Repeat("k", 200)}
	for _, key := range invalid {
		err := ValidateSeriesKey(key)
		require.Error(t, err, "key %q", key)
		assert.True(t, types.HasCode(err, types.ErrInvalidSeriesKey), "key %q", key)
	}
}
