package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/seriesflow/types"
)

// New creates a storage backend based on the configuration. When
// cfg.Collector is set, the backend is wrapped so every operation is
// counted and timed. Unknown backend types fail with UNSUPPORTED_TYPE;
// in practice that is a configuration error and fatal at startup.
func New(cfg Config, logger *zap.Logger) (Backend, error) {
	backend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	return withMetrics(backend, cfg.Type, cfg.Collector), nil
}

func newBackend(cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Type {
	case BackendMemory:
		return NewMemoryStore(cfg, logger), nil
	case BackendFilesystem:
		return NewFileStore(cfg, logger)
	case BackendObjectStore:
		return NewRedisStore(cfg, logger)
	case BackendDatabase:
		db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open database %q: %w", cfg.Database.DSN, err)
		}
		return NewDatabaseStore(db, cfg, logger)
	default:
		return nil, types.NewErrorf(types.ErrUnsupportedType,
			"storage backend type %q not supported", cfg.Type)
	}
}

// MustNew creates a storage backend or panics on error.
//
// WARNING: only for application initialization (main or init). For runtime
// backend creation, use New instead.
func MustNew(cfg Config, logger *zap.Logger) Backend {
	backend, err := New(cfg, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create storage backend: %v", err))
	}
	return backend
}
