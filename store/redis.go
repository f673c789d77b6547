package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/seriesflow/internal/metrics"
	"github.com/BaSui01/seriesflow/model"
	"github.com/BaSui01/seriesflow/types"
)

const leaseRetryDelay = 50 * time.Millisecond

// releaseLease deletes the lease key only if it still holds our token, so
// a lease that expired and was re-acquired by another writer is never
// deleted from under them.
var releaseLease = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisStore is the remote object-store backend. Artifacts live under
// <key_prefix>:<bucket>; per-series writes are serialized by an expiring
// lease taken with SET NX, and payload, metadata, and the version index
// are committed in a single MULTI/EXEC, so the index entry is the commit
// point and readers never observe a partially written version.
type RedisStore struct {
	client      *redis.Client
	base        string
	lockTimeout time.Duration
	leaseTTL    time.Duration
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewRedisStore connects to the object store configured in
// cfg.ObjectStore. The bucket is required.
func NewRedisStore(cfg Config, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	oc := cfg.ObjectStore
	if oc.Bucket == "" {
		return nil, types.NewError(types.ErrInvalidInput,
			"object-store backend requires a bucket")
	}

	prefix := oc.KeyPrefix
	if prefix == "" {
		prefix = DefaultConfig().ObjectStore.KeyPrefix
	}
	leaseTTL := oc.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = DefaultConfig().ObjectStore.LeaseTTL
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultConfig().LockTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     oc.Addr,
		Password: oc.Password,
		DB:       oc.DB,
		PoolSize: oc.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to object store: %w", err)
	}

	return &RedisStore{
		client:      client,
		base:        prefix + ":" + oc.Bucket,
		lockTimeout: lockTimeout,
		leaseTTL:    leaseTTL,
		collector:   cfg.Collector,
		logger:      logger.With(zap.String("component", "redis_store")),
	}, nil
}

func (s *RedisStore) payloadKey(key string, v Version) string {
	return s.base + ":payload:" + key + ":" + v.String()
}

func (s *RedisStore) metadataKey(key string, v Version) string {
	return s.base + ":meta:" + key + ":" + v.String()
}

func (s *RedisStore) indexKey(key string) string {
	return s.base + ":index:" + key
}

func (s *RedisStore) seriesSetKey() string {
	return s.base + ":series"
}

func (s *RedisStore) leaseKey(key string) string {
	return s.base + ":lock:" + key
}

// lock acquires the per-series write lease, polling until the lock
// timeout elapses. The lease expires on its own if the holder crashes.
func (s *RedisStore) lock(ctx context.Context, key string) (func(), error) {
	defer recordLockWait(s.collector, BackendObjectStore, time.Now())

	token := uuid.NewString()
	leaseKey := s.leaseKey(key)
	deadline := time.Now().Add(s.lockTimeout)

	for {
		acquired, err := s.client.SetNX(ctx, leaseKey, token, s.leaseTTL).Result()
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "acquire series lease").WithCause(err)
		}
		if acquired {
			return func() {
				if err := releaseLease.Run(context.Background(), s.client,
					[]string{leaseKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
					s.logger.Warn("failed to release series lease",
						zap.String("series_key", key), zap.Error(err))
				}
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, types.NewErrorf(types.ErrLockTimeout,
				"lease for key %q not acquired within %s", key, s.lockTimeout).
				WithRetryable(true)
		}
		select {
		case <-ctx.Done():
			return nil, types.NewErrorf(types.ErrLockTimeout,
				"lease acquisition for key %q canceled", key).
				WithRetryable(true).
				WithCause(ctx.Err())
		case <-time.After(leaseRetryDelay):
		}
	}
}

// Save persists the model under the next version of the series.
func (s *RedisStore) Save(ctx context.Context, key string, m model.Model) (Version, error) {
	return s.save(ctx, key, m, nil)
}

// SaveVersion persists the model under an explicit version.
func (s *RedisStore) SaveVersion(ctx context.Context, key string, m model.Model, version Version) (Version, error) {
	return s.save(ctx, key, m, &version)
}

func (s *RedisStore) save(ctx context.Context, key string, m model.Model, explicit *Version) (Version, error) {
	if err := checkSaveInputs(key, m); err != nil {
		return 0, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return 0, err
	}
	defer release()

	var version Version
	if explicit != nil {
		version = *explicit
		err := s.client.ZScore(ctx, s.indexKey(key), version.String()).Err()
		if err == nil {
			return 0, errVersionExists(key, version)
		}
		if !errors.Is(err, redis.Nil) {
			return 0, types.NewError(types.ErrStorage, "read version index").WithCause(err)
		}
	} else {
		existing, err := s.indexedVersions(ctx, key)
		if err != nil {
			return 0, err
		}
		version = NextVersion(existing)
	}

	payload, err := m.Serialize()
	if err != nil {
		return 0, err
	}
	metaBytes, err := json.Marshal(newMetadata(key, version, m.Type()))
	if err != nil {
		return 0, types.NewError(types.ErrStorage, "marshal metadata").WithCause(err)
	}

	// Single MULTI/EXEC: payload, metadata, index entry, and series
	// membership become visible together or not at all.
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.payloadKey(key, version), payload, 0)
		pipe.Set(ctx, s.metadataKey(key, version), metaBytes, 0)
		pipe.ZAdd(ctx, s.indexKey(key), redis.Z{Score: float64(version), Member: version.String()})
		pipe.SAdd(ctx, s.seriesSetKey(), key)
		return nil
	})
	if err != nil {
		return 0, types.NewError(types.ErrStorage, "commit artifact").WithCause(err)
	}

	s.logger.Info("model saved",
		zap.String("series_key", key),
		zap.String("version", version.String()),
		zap.String("model_type", m.Type()),
	)
	return version, nil
}

// indexedVersions returns the committed versions from the series index,
// ascending. Caller holds the series lease when allocation depends on it.
func (s *RedisStore) indexedVersions(ctx context.Context, key string) ([]Version, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(key), 0, -1).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read version index").WithCause(err)
	}

	versions := make([]Version, 0, len(members))
	for _, member := range members {
		version, err := ParseVersion(member)
		if err != nil {
			s.logger.Warn("malformed version index entry skipped",
				zap.String("series_key", key), zap.String("member", member))
			continue
		}
		versions = append(versions, version)
	}
	sortVersions(versions)
	return versions, nil
}

// Load returns the model at the highest committed version of the series.
func (s *RedisStore) Load(ctx context.Context, key string) (model.Model, Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, 0, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	versions, err := s.indexedVersions(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if len(versions) == 0 {
		return nil, 0, types.NewErrorf(types.ErrModelNotFound,
			"no models found for series %q", key)
	}

	latest := versions[len(versions)-1]
	m, err := s.loadVersion(ctx, key, latest)
	if err != nil {
		return nil, 0, err
	}
	return m, latest, nil
}

// LoadVersion returns the model at a specific version.
func (s *RedisStore) LoadVersion(ctx context.Context, key string, version Version) (model.Model, Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, 0, err
	}

	m, err := s.loadVersion(ctx, key, version)
	if err != nil {
		return nil, 0, err
	}
	return m, version, nil
}

func (s *RedisStore) loadVersion(ctx context.Context, key string, version Version) (model.Model, error) {
	metaBytes, err := s.client.Get(ctx, s.metadataKey(key, version)).Bytes()
	if errors.Is(err, redis.Nil) {
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

	payload, err := s.client.Get(ctx, s.payloadKey(key, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewErrorf(types.ErrModelNotFound,
			"model not found: %s/%s", key, version)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read payload").WithCause(err)
	}

	return hydrateModel(meta, payload)
}

// LatestVersion returns the highest committed version of the series.
func (s *RedisStore) LatestVersion(ctx context.Context, key string) (Version, bool, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return 0, false, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return 0, false, err
	}
	defer release()

	versions, err := s.indexedVersions(ctx, key)
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}
	return versions[len(versions)-1], true, nil
}

// ListVersions returns the committed versions of the series, ascending.
func (s *RedisStore) ListVersions(ctx context.Context, key string) ([]Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.indexedVersions(ctx, key)
}

// ListKeys returns every series with at least one committed version.
func (s *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.seriesSetKey()).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read series set").WithCause(err)
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		count, err := s.client.ZCard(ctx, s.indexKey(member)).Result()
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "read version index").WithCause(err)
		}
		if count > 0 {
			keys = append(keys, member)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether the series has any committed version. Transport
// and locking failures are logged and reported as false.
func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	_, ok, err := s.LatestVersion(ctx, key)
	if err != nil {
		s.logger.Warn("existence check failed",
			zap.String("series_key", key), zap.Error(err))
		return false
	}
	return ok
}

// ExistsVersion reports whether a specific version is committed.
func (s *RedisStore) ExistsVersion(ctx context.Context, key string, version Version) bool {
	if err := ValidateSeriesKey(key); err != nil {
		return false
	}

	score := s.client.ZScore(ctx, s.indexKey(key), version.String())
	if err := score.Err(); err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("existence check failed",
				zap.String("series_key", key), zap.Error(err))
		}
		return false
	}
	return true
}

// Ping checks if the object store is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
