package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/seriesflow/model"
	"github.com/BaSui01/seriesflow/types"
)

type memoryArtifact struct {
	meta    Metadata
	payload []byte
}

// MemoryStore is an in-process Backend implementation useful for tests and
// single-process prototypes. All artifacts live in a nested map guarded by
// an RWMutex; payload bytes are copied on save and load to avoid external
// mutation of internal buffers. Data does not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string]map[Version]memoryArtifact
	logger *zap.Logger
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(cfg Config, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		series: make(map[string]map[Version]memoryArtifact),
		logger: logger.With(zap.String("component", "memory_store")),
	}
}

// Save persists the model under the next version of the series.
func (s *MemoryStore) Save(ctx context.Context, key string, m model.Model) (Version, error) {
	return s.save(ctx, key, m, nil)
}

// SaveVersion persists the model under an explicit version.
func (s *MemoryStore) SaveVersion(ctx context.Context, key string, m model.Model, version Version) (Version, error) {
	return s.save(ctx, key, m, &version)
}

func (s *MemoryStore) save(_ context.Context, key string, m model.Model, explicit *Version) (Version, error) {
	if err := checkSaveInputs(key, m); err != nil {
		return 0, err
	}

	payload, err := m.Serialize()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.series[key]
	if !ok {
		versions = make(map[Version]memoryArtifact)
		s.series[key] = versions
	}

	var version Version
	if explicit != nil {
		version = *explicit
		if _, exists := versions[version]; exists {
			return 0, errVersionExists(key, version)
		}
	} else {
		existing := make([]Version, 0, len(versions))
		for v := range versions {
			existing = append(existing, v)
		}
		version = NextVersion(existing)
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	versions[version] = memoryArtifact{
		meta:    newMetadata(key, version, m.Type()),
		payload: cp,
	}
	return version, nil
}

// Load returns the model at the highest version of the series.
func (s *MemoryStore) Load(ctx context.Context, key string) (model.Model, Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	versions := s.sortedVersions(key)
	s.mu.RUnlock()

	if len(versions) == 0 {
		return nil, 0, types.NewErrorf(types.ErrModelNotFound,
			"no models found for series %q", key)
	}
	return s.LoadVersion(ctx, key, versions[len(versions)-1])
}

// LoadVersion returns the model at a specific version.
func (s *MemoryStore) LoadVersion(_ context.Context, key string, version Version) (model.Model, Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	artifact, ok := s.series[key][version]
	s.mu.RUnlock()

	if !ok {
		return nil, 0, types.NewErrorf(types.ErrModelNotFound,
			"model not found: %s/%s", key, version)
	}

	m, err := hydrateModel(artifact.meta, artifact.payload)
	if err != nil {
		return nil, 0, err
	}
	return m, version, nil
}

// LatestVersion returns the highest version of the series.
func (s *MemoryStore) LatestVersion(_ context.Context, key string) (Version, bool, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return 0, false, err
	}

	s.mu.RLock()
	versions := s.sortedVersions(key)
	s.mu.RUnlock()

	if len(versions) == 0 {
		return 0, false, nil
	}
	return versions[len(versions)-1], true, nil
}

// ListVersions returns the versions of the series, ascending.
func (s *MemoryStore) ListVersions(_ context.Context, key string) ([]Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedVersions(key), nil
}

// sortedVersions returns the series' versions ascending. Caller holds mu.
func (s *MemoryStore) sortedVersions(key string) []Version {
	versions := make([]Version, 0, len(s.series[key]))
	for v := range s.series[key] {
		versions = append(versions, v)
	}
	sortVersions(versions)
	return versions
}

// ListKeys returns every series with at least one version.
func (s *MemoryStore) ListKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.series))
	for key, versions := range s.series {
		if len(versions) > 0 {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Exists reports whether the series has any version.
func (s *MemoryStore) Exists(ctx context.Context, key string) bool {
	_, ok, err := s.LatestVersion(ctx, key)
	return err == nil && ok
}

// ExistsVersion reports whether a specific version exists.
func (s *MemoryStore) ExistsVersion(_ context.Context, key string, version Version) bool {
	if err := ValidateSeriesKey(key); err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.series[key][version]
	return ok
}

// Ping reports the store as always healthy.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close releases nothing for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
