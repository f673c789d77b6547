// Package metrics provides Prometheus metrics for the training, prediction
// and storage paths.
//
// The Collector registers counter and histogram vectors against a caller
// supplied Registerer via promauto, so tests can hand in a fresh registry
// and production wiring can use the default one. Metrics are grouped by
// model_type for the model side and by backend/operation for the storage
// side.
//
// This package is internal and should not be imported by external projects.
package metrics
