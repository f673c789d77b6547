// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records Prometheus metrics for model training, anomaly
// detection and the storage backends underneath them.
type Collector struct {
	trainingsTotal   *prometheus.CounterVec
	trainingDuration *prometheus.HistogramVec

	predictionsTotal   *prometheus.CounterVec
	predictionDuration *prometheus.HistogramVec
	anomaliesTotal     *prometheus.CounterVec

	storageOpsTotal   *prometheus.CounterVec
	storageOpDuration *prometheus.HistogramVec
	lockWaitDuration  *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers all metric vectors against reg. Passing a fresh
// prometheus.NewRegistry keeps parallel test packages from colliding;
// production callers hand in prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.trainingsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trainings_total",
			Help:      "Total number of model training runs",
		},
		[]string{"model_type", "status"},
	)

	c.trainingDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Model training duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model_type"},
	)

	c.predictionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of anomaly predictions",
		},
		[]string{"model_type", "status"},
	)

	c.predictionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Anomaly prediction duration in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1},
		},
		[]string{"model_type"},
	)

	c.anomaliesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Total number of points flagged as anomalous",
		},
		[]string{"model_type"},
	)

	c.storageOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.storageOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage backend operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.lockWaitDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_duration_seconds",
			Help:      "Time spent waiting for per-series locks in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"backend"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordTraining records one training run.
func (c *Collector) RecordTraining(modelType, status string, duration time.Duration) {
	c.trainingsTotal.WithLabelValues(modelType, status).Inc()
	c.trainingDuration.WithLabelValues(modelType).Observe(duration.Seconds())
}

// RecordPrediction records one prediction and whether it flagged an anomaly.
func (c *Collector) RecordPrediction(modelType, status string, anomaly bool, duration time.Duration) {
	c.predictionsTotal.WithLabelValues(modelType, status).Inc()
	c.predictionDuration.WithLabelValues(modelType).Observe(duration.Seconds())
	if anomaly {
		c.anomaliesTotal.WithLabelValues(modelType).Inc()
	}
}

// RecordStorageOp records one backend operation.
func (c *Collector) RecordStorageOp(backend, operation, status string, duration time.Duration) {
	c.storageOpsTotal.WithLabelValues(backend, operation, status).Inc()
	c.storageOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordLockWait records how long a caller waited for a per-series lock.
func (c *Collector) RecordLockWait(backend string, duration time.Duration) {
	c.lockWaitDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// StatusOf maps an operation error to a metric status label.
func StatusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
