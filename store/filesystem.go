package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/BaSui01/seriesflow/internal/keylock"
	"github.com/BaSui01/seriesflow/internal/metrics"
	"github.com/BaSui01/seriesflow/model"
	"github.com/BaSui01/seriesflow/types"
)

const (
	payloadSuffix  = ".bin"
	metadataSuffix = ".meta.json"
	locksDirName   = ".locks"

	flockRetryDelay = 50 * time.Millisecond
)

// FileStore persists artifacts on the local filesystem: one directory per
// series, one payload file plus one metadata file per version. The
// metadata file is the commit point; a payload without metadata is an
// uncommitted leftover and is invisible to readers.
//
// Same-process writers serialize on an in-process per-key lock; writers in
// other processes sharing the root are excluded by a per-series flock
// under <root>/.locks.
type FileStore struct {
	root        string
	lockTimeout time.Duration
	locks       *keylock.Manager
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewFileStore creates a filesystem-backed store rooted at
// cfg.Filesystem.Root, creating the root and lock directories if needed.
func NewFileStore(cfg Config, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	root := cfg.Filesystem.Root
	if root == "" {
		root = DefaultConfig().Filesystem.Root
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, locksDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create locks directory: %w", err)
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = keylock.DefaultTimeout
	}

	return &FileStore{
		root:        root,
		lockTimeout: lockTimeout,
		locks:       keylock.NewManager(),
		collector:   cfg.Collector,
		logger:      logger.With(zap.String("component", "file_store")),
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *FileStore) seriesDir(key string) string {
	return filepath.Join(s.root, key)
}

func (s *FileStore) payloadPath(key string, v Version) string {
	return filepath.Join(s.seriesDir(key), v.String()+payloadSuffix)
}

func (s *FileStore) metadataPath(key string, v Version) string {
	return filepath.Join(s.seriesDir(key), v.String()+metadataSuffix)
}

func (s *FileStore) lockPath(key string) string {
	return filepath.Join(s.root, locksDirName, key+".lock")
}

// lock takes the in-process key lock, then the cross-process flock, both
// within the configured timeout. The returned release undoes both.
func (s *FileStore) lock(ctx context.Context, key string) (func(), error) {
	defer recordLockWait(s.collector, BackendFilesystem, time.Now())
	deadline := time.Now().Add(s.lockTimeout)

	release, err := s.locks.Acquire(ctx, key, s.lockTimeout)
	if err != nil {
		return nil, err
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		release()
		return nil, types.NewErrorf(types.ErrLockTimeout,
			"lock for key %q not acquired within %s", key, s.lockTimeout).
			WithRetryable(true)
	}

	fl := flock.New(s.lockPath(key))
	flockCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	locked, err := fl.TryLockContext(flockCtx, flockRetryDelay)
	if err != nil || !locked {
		release()
		return nil, types.NewErrorf(types.ErrLockTimeout,
			"file lock for key %q not acquired within %s", key, s.lockTimeout).
			WithRetryable(true).
			WithCause(err)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release file lock",
				zap.String("series_key", key), zap.Error(err))
		}
		release()
	}, nil
}

// Save persists the model under the next version of the series.
func (s *FileStore) Save(ctx context.Context, key string, m model.Model) (Version, error) {
	return s.save(ctx, key, m, nil)
}

// SaveVersion persists the model under an explicit version.
func (s *FileStore) SaveVersion(ctx context.Context, key string, m model.Model, version Version) (Version, error) {
	return s.save(ctx, key, m, &version)
}

func (s *FileStore) save(ctx context.Context, key string, m model.Model, explicit *Version) (Version, error) {
	if err := checkSaveInputs(key, m); err != nil {
		return 0, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := os.MkdirAll(s.seriesDir(key), 0o755); err != nil {
		return 0, types.NewError(types.ErrStorage, "create series directory").WithCause(err)
	}

	var version Version
	if explicit != nil {
		version = *explicit
		// A leftover payload without metadata also blocks the number:
		// version files are never overwritten.
		if fileExists(s.metadataPath(key, version)) || fileExists(s.payloadPath(key, version)) {
			return 0, errVersionExists(key, version)
		}
	} else {
		allocated, err := s.allocatableVersions(key)
		if err != nil {
			return 0, err
		}
		version = NextVersion(allocated)
	}

	payload, err := m.Serialize()
	if err != nil {
		return 0, err
	}

	// Payload first, metadata second: the metadata rename commits the
	// version. A crash in between leaves an invisible payload file.
	if err := atomicWriteFile(s.payloadPath(key, version), payload, 0o644); err != nil {
		return 0, types.NewError(types.ErrStorage, "write payload").WithCause(err)
	}

	meta := newMetadata(key, version, m.Type())
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, types.NewError(types.ErrStorage, "marshal metadata").WithCause(err)
	}
	if err := atomicWriteFile(s.metadataPath(key, version), metaBytes, 0o644); err != nil {
		return 0, types.NewError(types.ErrStorage, "write metadata").WithCause(err)
	}

	s.logger.Info("model saved",
		zap.String("series_key", key),
		zap.String("version", version.String()),
		zap.String("model_type", m.Type()),
	)
	return version, nil
}

// Load returns the model at the highest committed version of the series.
func (s *FileStore) Load(ctx context.Context, key string) (model.Model, Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, 0, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	versions, err := s.committedVersions(key)
	if err != nil {
		return nil, 0, err
	}
	if len(versions) == 0 {
		return nil, 0, types.NewErrorf(types.ErrModelNotFound,
			"no models found for series %q", key)
	}

	latest := versions[len(versions)-1]
	m, err := s.loadVersion(key, latest)
	if err != nil {
		return nil, 0, err
	}
	return m, latest, nil
}

// LoadVersion returns the model at a specific version.
func (s *FileStore) LoadVersion(ctx context.Context, key string, version Version) (model.Model, Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, 0, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	m, err := s.loadVersion(key, version)
	if err != nil {
		return nil, 0, err
	}
	return m, version, nil
}

// loadVersion reads one committed version. Caller holds the series lock.
func (s *FileStore) loadVersion(key string, version Version) (model.Model, error) {
	metaBytes, err := os.ReadFile(s.metadataPath(key, version))
	if os.IsNotExist(err) {
		return nil, types.NewErrorf(types.ErrModelNotFound,
			"model not found: %s/%s", key, version)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read metadata").WithCause(err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, types.NewErrorf(types.ErrCorruptedArtifact,
			"corrupted metadata: %s/%s", key, version).WithCause(err)
	}

	payload, err := os.ReadFile(s.payloadPath(key, version))
	if os.IsNotExist(err) {
		return nil, types.NewErrorf(types.ErrModelNotFound,
			"model not found: %s/%s", key, version)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read payload").WithCause(err)
	}

	m, err := hydrateModel(meta, payload)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("model loaded",
		zap.String("series_key", key),
		zap.String("version", version.String()),
		zap.String("model_type", meta.ModelType),
	)
	return m, nil
}

// LatestVersion returns the highest committed version of the series.
func (s *FileStore) LatestVersion(ctx context.Context, key string) (Version, bool, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return 0, false, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return 0, false, err
	}
	defer release()

	versions, err := s.committedVersions(key)
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}
	return versions[len(versions)-1], true, nil
}

// ListVersions returns the committed versions of the series, ascending.
func (s *FileStore) ListVersions(ctx context.Context, key string) ([]Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.committedVersions(key)
}

// committedVersions scans the series directory for versions whose metadata
// is present and parseable. Corrupt metadata is skipped with a warning;
// the files stay on disk for inspection. Caller holds the series lock.
func (s *FileStore) committedVersions(key string) ([]Version, error) {
	entries, err := os.ReadDir(s.seriesDir(key))
	if os.IsNotExist(err) {
		return []Version{}, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read series directory").WithCause(err)
	}

	versions := make([]Version, 0, len(entries))
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), metadataSuffix)
		if entry.IsDir() || !ok {
			continue
		}
		version, err := ParseVersion(name)
		if err != nil {
			continue
		}

		metaBytes, err := os.ReadFile(filepath.Join(s.seriesDir(key), entry.Name()))
		if err != nil {
			s.logger.Warn("unreadable metadata file skipped",
				zap.String("series_key", key),
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			s.logger.Warn("corrupted metadata file skipped",
				zap.String("series_key", key),
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		versions = append(versions, version)
	}

	sortVersions(versions)
	return versions, nil
}

// allocatableVersions scans payload and metadata filenames. Unlike
// committedVersions it counts corrupt and half-written versions too, so
// version numbers are never reused. Caller holds the series lock.
func (s *FileStore) allocatableVersions(key string) ([]Version, error) {
	entries, err := os.ReadDir(s.seriesDir(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read series directory").WithCause(err)
	}

	var versions []Version
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if trimmed, ok := strings.CutSuffix(name, metadataSuffix); ok {
			name = trimmed
		} else if trimmed, ok := strings.CutSuffix(name, payloadSuffix); ok {
			name = trimmed
		} else {
			continue
		}
		if version, err := ParseVersion(name); err == nil {
			versions = append(versions, version)
		}
	}
	return versions, nil
}

// ListKeys returns every series directory holding at least one committed
// version, so a directory with only uncommitted leftovers is not reported
// as a usable series.
func (s *FileStore) ListKeys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read storage root").WithCause(err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == locksDirName {
			continue
		}
		versions, err := s.committedVersions(entry.Name())
		if err != nil {
			return nil, err
		}
		if len(versions) > 0 {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}

// Exists reports whether the series has any committed version. I/O and
// locking failures are logged and reported as false.
func (s *FileStore) Exists(ctx context.Context, key string) bool {
	_, ok, err := s.LatestVersion(ctx, key)
	if err != nil {
		s.logger.Warn("existence check failed",
			zap.String("series_key", key), zap.Error(err))
		return false
	}
	return ok
}

// ExistsVersion reports whether a specific version is committed.
func (s *FileStore) ExistsVersion(ctx context.Context, key string, version Version) bool {
	if err := ValidateSeriesKey(key); err != nil {
		return false
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		s.logger.Warn("existence check failed",
			zap.String("series_key", key), zap.Error(err))
		return false
	}
	defer release()

	if _, err := os.Stat(s.metadataPath(key, version)); err != nil {
		return false
	}
	if _, err := os.Stat(s.payloadPath(key, version)); err != nil {
		return false
	}
	return true
}

// Ping checks that the storage root is reachable.
func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return types.NewError(types.ErrStorage, "storage root unavailable").WithCause(err)
	}
	return nil
}

// Close releases nothing for the filesystem backend.
func (s *FileStore) Close() error {
	return nil
}
