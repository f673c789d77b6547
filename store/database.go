package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/seriesflow/internal/keylock"
	"github.com/BaSui01/seriesflow/internal/metrics"
	"github.com/BaSui01/seriesflow/model"
	"github.com/BaSui01/seriesflow/types"
)

// artifactRecord is one committed version row. The unique
// (series_key, version) index is the backstop against duplicate versions
// even if the per-key lock discipline is bypassed.
type artifactRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SeriesKey string    `gorm:"size:128;not null;uniqueIndex:idx_series_version"`
	Version   int       `gorm:"not null;uniqueIndex:idx_series_version"`
	ModelType string    `gorm:"size:64;not null"`
	Payload   []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (artifactRecord) TableName() string {
	return "model_artifacts"
}

// DatabaseStore persists artifacts in a GORM-managed SQL table. Row
// insertion is the commit point: a version either has its complete row or
// no row at all. Version allocation runs inside a transaction under the
// per-key lock.
type DatabaseStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
	locks       *keylock.Manager
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewDatabaseStore wraps an open GORM connection and migrates the
// artifact table.
func NewDatabaseStore(db *gorm.DB, cfg Config, logger *zap.Logger) (*DatabaseStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&artifactRecord{}); err != nil {
		return nil, fmt.Errorf("migrate artifact table: %w", err)
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = keylock.DefaultTimeout
	}

	return &DatabaseStore{
		db:          db,
		lockTimeout: lockTimeout,
		locks:       keylock.NewManager(),
		collector:   cfg.Collector,
		logger:      logger.With(zap.String("component", "database_store")),
	}, nil
}

// acquire takes the per-key lock and reports the wait time.
func (s *DatabaseStore) acquire(ctx context.Context, key string) (func(), error) {
	defer recordLockWait(s.collector, BackendDatabase, time.Now())
	return s.locks.Acquire(ctx, key, s.lockTimeout)
}

// Save persists the model under the next version of the series.
func (s *DatabaseStore) Save(ctx context.Context, key string, m model.Model) (Version, error) {
	return s.save(ctx, key, m, nil)
}

// SaveVersion persists the model under an explicit version.
func (s *DatabaseStore) SaveVersion(ctx context.Context, key string, m model.Model, version Version) (Version, error) {
	return s.save(ctx, key, m, &version)
}

func (s *DatabaseStore) save(ctx context.Context, key string, m model.Model, explicit *Version) (Version, error) {
	if err := checkSaveInputs(key, m); err != nil {
		return 0, err
	}

	release, err := s.acquire(ctx, key)
	if err != nil {
		return 0, err
	}
	defer release()

	payload, err := m.Serialize()
	if err != nil {
		return 0, err
	}

	var version Version
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if explicit != nil {
			version = *explicit
			var count int64
			if err := tx.Model(&artifactRecord{}).
				Where("series_key = ? AND version = ?", key, int(version)).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return errVersionExists(key, version)
			}
		} else {
			var maxVersion *int
			if err := tx.Model(&artifactRecord{}).
				Where("series_key = ?", key).
				Select("MAX(version)").
				Scan(&maxVersion).Error; err != nil {
				return err
			}
			version = InitialVersion
			if maxVersion != nil {
				version = Version(*maxVersion) + 1
			}
		}

		return tx.Create(&artifactRecord{
			SeriesKey: key,
			Version:   int(version),
			ModelType: m.Type(),
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		var terr *types.Error
		if errors.As(err, &terr) {
			return 0, err
		}
		return 0, types.NewError(types.ErrStorage, "commit artifact").WithCause(err)
	}

	s.logger.Info("model saved",
		zap.String("series_key", key),
		zap.String("version", version.String()),
		zap.String("model_type", m.Type()),
	)
	return version, nil
}

// Load returns the model at the highest committed version of the series.
func (s *DatabaseStore) Load(ctx context.Context, key string) (model.Model, Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, 0, err
	}

	release, err := s.acquire(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	var rec artifactRecord
	err = s.db.WithContext(ctx).
		Where("series_key = ?", key).
		Order("version DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, types.NewErrorf(types.ErrModelNotFound,
			"no models found for series %q", key)
	}
	if err != nil {
		return nil, 0, types.NewError(types.ErrStorage, "query artifact").WithCause(err)
	}

	return s.hydrateRecord(rec)
}

// LoadVersion returns the model at a specific version.
func (s *DatabaseStore) LoadVersion(ctx context.Context, key string, version Version) (model.Model, Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, 0, err
	}

	var rec artifactRecord
	err := s.db.WithContext(ctx).
		Where("series_key = ? AND version = ?", key, int(version)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, types.NewErrorf(types.ErrModelNotFound,
			"model not found: %s/%s", key, version)
	}
	if err != nil {
		return nil, 0, types.NewError(types.ErrStorage, "query artifact").WithCause(err)
	}

	return s.hydrateRecord(rec)
}

func (s *DatabaseStore) hydrateRecord(rec artifactRecord) (model.Model, Version, error) {
	meta := Metadata{
		SeriesKey: rec.SeriesKey,
		Version:   Version(rec.Version).String(),
		ModelType: rec.ModelType,
		CreatedAt: rec.CreatedAt,
	}
	m, err := hydrateModel(meta, rec.Payload)
	if err != nil {
		return nil, 0, err
	}
	return m, Version(rec.Version), nil
}

// LatestVersion returns the highest committed version of the series.
func (s *DatabaseStore) LatestVersion(ctx context.Context, key string) (Version, bool, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return 0, false, err
	}

	release, err := s.acquire(ctx, key)
	if err != nil {
		return 0, false, err
	}
	defer release()

	var maxVersion *int
	if err := s.db.WithContext(ctx).Model(&artifactRecord{}).
		Where("series_key = ?", key).
		Select("MAX(version)").
		Scan(&maxVersion).Error; err != nil {
		return 0, false, types.NewError(types.ErrStorage, "query max version").WithCause(err)
	}
	if maxVersion == nil {
		return 0, false, nil
	}
	return Version(*maxVersion), true, nil
}

// ListVersions returns the committed versions of the series, ascending.
func (s *DatabaseStore) ListVersions(ctx context.Context, key string) ([]Version, error) {
	if err := ValidateSeriesKey(key); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	var raw []int
	if err := s.db.WithContext(ctx).Model(&artifactRecord{}).
		Where("series_key = ?", key).
		Order("version ASC").
		Pluck("version", &raw).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "list versions").WithCause(err)
	}

	versions := make([]Version, len(raw))
	for i, v := range raw {
		versions[i] = Version(v)
	}
	return versions, nil
}

// ListKeys returns every series with at least one committed version.
func (s *DatabaseStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&artifactRecord{}).
		Distinct("series_key").
		Order("series_key ASC").
		Pluck("series_key", &keys).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "list series").WithCause(err)
	}
	return keys, nil
}

// Exists reports whether the series has any committed version. Query and
// locking failures are logged and reported as false.
func (s *DatabaseStore) Exists(ctx context.Context, key string) bool {
	_, ok, err := s.LatestVersion(ctx, key)
	if err != nil {
		s.logger.Warn("existence check failed",
			zap.String("series_key", key), zap.Error(err))
		return false
	}
	return ok
}

// ExistsVersion reports whether a specific version is committed.
func (s *DatabaseStore) ExistsVersion(ctx context.Context, key string, version Version) bool {
	if err := ValidateSeriesKey(key); err != nil {
		return false
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&artifactRecord{}).
		Where("series_key = ? AND version = ?", key, int(version)).
		Count(&count).Error
	if err != nil {
		s.logger.Warn("existence check failed",
			zap.String("series_key", key), zap.Error(err))
		return false
	}
	return count > 0
}

// Ping checks if the database is reachable.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return types.NewError(types.ErrStorage, "database unavailable").WithCause(err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *DatabaseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
