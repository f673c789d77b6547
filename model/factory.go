package model

import (
	"sync"

	"github.com/BaSui01/seriesflow/types"
)

// Builder constructs an unfitted model from a configuration.
type Builder func(cfg Config) Model

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{
		TypeStatistical: func(cfg Config) Model {
			return NewStatisticalModel(cfg.Threshold)
		},
		TypeEWMA: func(cfg Config) Model {
			return NewEWMAModel(cfg.Alpha, cfg.Threshold)
		},
	}
)

// Register adds a builder for a custom model type. Registering an existing
// tag replaces the previous builder.
func Register(modelType string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[modelType] = builder
}

// New creates an unfitted model of the given type. Unknown types fail with
// UNSUPPORTED_TYPE.
func New(modelType string, cfg Config) (Model, error) {
	registryMu.RLock()
	builder, ok := registry[modelType]
	registryMu.RUnlock()

	if !ok {
		return nil, types.NewErrorf(types.ErrUnsupportedType,
			"model type %q not supported", modelType)
	}
	return builder(cfg), nil
}

// Types returns the registered model type tags.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	return tags
}
