package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/seriesflow/internal/metrics"
	"github.com/BaSui01/seriesflow/model"
	"github.com/BaSui01/seriesflow/store"
	"github.com/BaSui01/seriesflow/types"
)

// Service implements the training and detection flows on top of a
// storage backend. It is safe for concurrent use.
type Service struct {
	store     store.Backend
	modelCfg  model.Config
	collector *metrics.Collector
	logger    *zap.Logger
}

// TrainResult describes a completed training run.
type TrainResult struct {
	SeriesKey string        `json:"series_key"`
	Version   store.Version `json:"version"`
	ModelType string        `json:"model_type"`
	Samples   int           `json:"samples"`
}

// Detection is the outcome of checking one point against a stored model.
type Detection struct {
	SeriesKey string        `json:"series_key"`
	Version   store.Version `json:"version"`
	ModelType string        `json:"model_type"`
	Anomaly   bool          `json:"anomaly"`
}

// Health is a point-in-time snapshot of service state.
type Health struct {
	SeriesTrained int  `json:"series_trained"`
	StorageOK     bool `json:"storage_ok"`
}

// New creates a Service. collector may be nil to disable metrics.
func New(backend store.Backend, modelCfg model.Config, collector *metrics.Collector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     backend,
		modelCfg:  modelCfg,
		collector: collector,
		logger:    logger.With(zap.String("component", "service")),
	}
}

// Train fits a fresh model on the series and persists it under the next
// version of the key. Each call produces a new version; older versions
// stay available to DetectVersion.
func (s *Service) Train(ctx context.Context, key string, series types.TimeSeries) (*TrainResult, error) {
	start := time.Now()

	m, err := model.New(s.modelCfg.Type, s.modelCfg)
	if err != nil {
		return nil, err
	}

	if err := m.Fit(series); err != nil {
		s.recordTraining(m.Type(), err, start)
		return nil, err
	}

	version, err := s.store.Save(ctx, key, m)
	s.recordTraining(m.Type(), err, start)
	if err != nil {
		s.logger.Error("training save failed",
			zap.String("series_key", key),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("model trained",
		zap.String("series_key", key),
		zap.Stringer("version", version),
		zap.String("model_type", m.Type()),
		zap.Int("samples", series.Len()),
		zap.Duration("elapsed", time.Since(start)))

	return &TrainResult{
		SeriesKey: key,
		Version:   version,
		ModelType: m.Type(),
		Samples:   series.Len(),
	}, nil
}

// Detect checks the point against the latest version of the series.
// MODEL_NOT_FOUND is returned when the series has never been trained.
func (s *Service) Detect(ctx context.Context, key string, point types.DataPoint) (*Detection, error) {
	start := time.Now()

	m, version, err := s.store.Load(ctx, key)
	if err != nil {
		s.recordPrediction("", err, false, start)
		return nil, err
	}

	return s.detect(key, point, m, version, start)
}

// DetectVersion checks the point against an explicit version of the series.
func (s *Service) DetectVersion(ctx context.Context, key string, point types.DataPoint, version store.Version) (*Detection, error) {
	start := time.Now()

	m, version, err := s.store.LoadVersion(ctx, key, version)
	if err != nil {
		s.recordPrediction("", err, false, start)
		return nil, err
	}

	return s.detect(key, point, m, version, start)
}

func (s *Service) detect(key string, point types.DataPoint, m model.Model, version store.Version, start time.Time) (*Detection, error) {
	anomaly, err := m.Predict(point)
	s.recordPrediction(m.Type(), err, anomaly, start)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("point checked",
		zap.String("series_key", key),
		zap.Stringer("version", version),
		zap.Bool("anomaly", anomaly))

	return &Detection{
		SeriesKey: key,
		Version:   version,
		ModelType: m.Type(),
		Anomaly:   anomaly,
	}, nil
}

// TrainedSeriesCount returns how many series have at least one committed
// model version.
func (s *Service) TrainedSeriesCount(ctx context.Context) (int, error) {
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Health reports storage reachability and the trained series count. A
// failing backend yields StorageOK false rather than an error.
func (s *Service) Health(ctx context.Context) *Health {
	h := &Health{}

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("storage ping failed", zap.Error(err))
		return h
	}
	h.StorageOK = true

	count, err := s.TrainedSeriesCount(ctx)
	if err != nil {
		s.logger.Warn("series count failed", zap.Error(err))
		return h
	}
	h.SeriesTrained = count

	return h
}

func (s *Service) recordTraining(modelType string, err error, start time.Time) {
	if s.collector == nil {
		return
	}
	s.collector.RecordTraining(modelType, metrics.StatusOf(err), time.Since(start))
}

func (s *Service) recordPrediction(modelType string, err error, anomaly bool, start time.Time) {
	if s.collector == nil {
		return
	}
	if modelType == "" {
		modelType = "unknown"
	}
	s.collector.RecordPrediction(modelType, metrics.StatusOf(err), anomaly, time.Since(start))
}
