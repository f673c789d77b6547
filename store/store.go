package store

import (
	"context"
	"regexp"
	"time"

	"github.com/BaSui01/seriesflow/internal/metrics"
	"github.com/BaSui01/seriesflow/model"
	"github.com/BaSui01/seriesflow/types"
)

// BackendType represents the type of storage backend.
type BackendType string

const (
	BackendMemory      BackendType = "memory"
	BackendFilesystem  BackendType = "filesystem"
	BackendObjectStore BackendType = "object-store"
	BackendDatabase    BackendType = "database"
)

// Backend is the uniform contract of all storage backends.
//
// Save, Load (latest), LatestVersion, ListVersions and the Exists checks
// serialize on a per-series lock with a bounded timeout; acquisition
// failures surface as retryable LOCK_TIMEOUT errors. Loading an explicit
// version reads committed, immutable state.
type Backend interface {
	// Save persists a fitted model under the next version of the series
	// and returns that version. Unfitted models fail with
	// MODEL_NOT_FITTED before any state changes.
	Save(ctx context.Context, key string, m model.Model) (Version, error)

	// SaveVersion persists a fitted model under an explicit version.
	// Versions are immutable once written: saving over an existing version
	// fails with INVALID_INPUT and leaves the stored artifact unchanged.
	SaveVersion(ctx context.Context, key string, m model.Model, version Version) (Version, error)

	// Load returns the model at the highest committed version of the
	// series, or MODEL_NOT_FOUND if the series has no versions.
	Load(ctx context.Context, key string) (model.Model, Version, error)

	// LoadVersion returns the model at a specific version, or
	// MODEL_NOT_FOUND if that version is absent. Unreadable metadata
	// fails with CORRUPTED_ARTIFACT.
	LoadVersion(ctx context.Context, key string, version Version) (model.Model, Version, error)

	// LatestVersion returns the highest committed version of the series.
	// ok is false when the series has no versions.
	LatestVersion(ctx context.Context, key string) (v Version, ok bool, err error)

	// ListVersions returns the committed versions of the series in
	// ascending order. Versions mid-write or with unreadable metadata are
	// excluded.
	ListVersions(ctx context.Context, key string) ([]Version, error)

	// ListKeys returns every series with at least one committed version.
	ListKeys(ctx context.Context) ([]string, error)

	// Exists reports whether the series has any committed version. It
	// never fails: I/O errors are logged and reported as false.
	Exists(ctx context.Context, key string) bool

	// ExistsVersion reports whether a specific version is committed,
	// with the same error swallowing as Exists.
	ExistsVersion(ctx context.Context, key string, version Version) bool

	// Ping checks if the backend is healthy.
	Ping(ctx context.Context) error

	// Close closes the backend and releases resources.
	Close() error
}

// Metadata is persisted alongside every artifact payload. The payload
// itself stays opaque to the storage layer; ModelType selects the
// implementation that can deserialize it.
type Metadata struct {
	SeriesKey string    `json:"series_key"`
	Version   string    `json:"version"`
	ModelType string    `json:"model_type"`
	CreatedAt time.Time `json:"created_at"`
}

// Config is the configuration for all backend implementations.
type Config struct {
	// Type is the storage backend type.
	Type BackendType `yaml:"type" json:"type" env:"TYPE"`

	// LockTimeout bounds per-series lock acquisition (default: 10s).
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout" env:"LOCK_TIMEOUT"`

	// Filesystem configuration (only used when Type is "filesystem").
	Filesystem FilesystemConfig `yaml:"filesystem" json:"filesystem" env:"FILESYSTEM"`

	// ObjectStore configuration (only used when Type is "object-store").
	ObjectStore ObjectStoreConfig `yaml:"object_store" json:"object_store" env:"OBJECT_STORE"`

	// Database configuration (only used when Type is "database").
	Database DatabaseConfig `yaml:"database" json:"database" env:"DATABASE"`

	// Collector receives per-operation and lock-wait metrics from the
	// backend. Runtime-only, set by the caller, never read from files.
	Collector *metrics.Collector `yaml:"-" json:"-"`
}

// FilesystemConfig contains filesystem-backend configuration.
type FilesystemConfig struct {
	// Root is the directory all series live under.
	Root string `yaml:"root" json:"root" env:"ROOT"`
}

// ObjectStoreConfig contains object-store-backend configuration.
type ObjectStoreConfig struct {
	// Addr is the store endpoint address.
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	// Password is the endpoint password (optional).
	Password string `yaml:"password" json:"password" env:"PASSWORD"`

	// DB is the logical database number.
	DB int `yaml:"db" json:"db" env:"DB"`

	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`

	// Bucket is the bucket all artifacts live in. Required.
	Bucket string `yaml:"bucket" json:"bucket" env:"BUCKET"`

	// KeyPrefix namespaces all object keys (default: "models").
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`

	// LeaseTTL is the expiry of the per-series write lease, a safety net
	// against crashed holders (default: 30s).
	LeaseTTL time.Duration `yaml:"lease_ttl" json:"lease_ttl" env:"LEASE_TTL"`
}

// DatabaseConfig contains database-backend configuration.
type DatabaseConfig struct {
	// DSN is the sqlite data source name.
	DSN string `yaml:"dsn" json:"dsn" env:"DSN"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Type:        BackendFilesystem,
		LockTimeout: 10 * time.Second,
		Filesystem: FilesystemConfig{
			Root: "./model_storage",
		},
		ObjectStore: ObjectStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "models",
			LeaseTTL:  30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "./model_storage.db",
		},
	}
}

const maxSeriesKeyLen = 128

var seriesKeyRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateSeriesKey rejects keys that are empty, too long, start with a
// dot, or contain characters outside [A-Za-z0-9._-]. Keys double as
// directory and object names, so this also rules out path traversal.
func ValidateSeriesKey(key string) error {
	if key == "" {
		return types.NewError(types.ErrInvalidSeriesKey, "series key must not be empty")
	}
	if len(key) > maxSeriesKeyLen {
		return types.NewErrorf(types.ErrInvalidSeriesKey,
			"series key exceeds %d bytes", maxSeriesKeyLen)
	}
	if !seriesKeyRe.MatchString(key) {
		return types.NewErrorf(types.ErrInvalidSeriesKey,
			"series key %q contains invalid characters", key)
	}
	return nil
}

// checkSaveInputs runs the validations shared by every backend's save
// path. The fitted check happens before any lock or I/O.
func checkSaveInputs(key string, m model.Model) error {
	if err := ValidateSeriesKey(key); err != nil {
		return err
	}
	if m == nil {
		return types.NewError(types.ErrInvalidInput, "model must not be nil")
	}
	if !m.IsFitted() {
		return types.NewErrorf(types.ErrModelNotFitted,
			"cannot save an unfitted model for series %q", key)
	}
	return nil
}

// errVersionExists reports an attempt to overwrite an immutable version.
func errVersionExists(key string, version Version) error {
	return types.NewErrorf(types.ErrInvalidInput,
		"version %s already exists for series %q", version, key)
}

// newMetadata builds the metadata record for one committed version.
func newMetadata(key string, version Version, modelType string) Metadata {
	return Metadata{
		SeriesKey: key,
		Version:   version.String(),
		ModelType: modelType,
		CreatedAt: time.Now().UTC(),
	}
}

// hydrateModel dispatches on the persisted type tag and restores the
// model from its payload.
func hydrateModel(meta Metadata, payload []byte) (model.Model, error) {
	m, err := model.New(meta.ModelType, model.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := m.Deserialize(payload); err != nil {
		return nil, err
	}
	return m, nil
}
