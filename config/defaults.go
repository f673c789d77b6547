package config

import (
	"github.com/BaSui01/seriesflow/model"
	"github.com/BaSui01/seriesflow/store"
)

// DefaultConfig returns the default configuration: in-memory storage,
// the statistical model and JSON logging on stdout.
func DefaultConfig() *Config {
	return &Config{
		Storage: store.DefaultConfig(),
		Model:   model.DefaultConfig(),
		Log:     DefaultLogConfig(),
		Metrics: DefaultMetricsConfig(),
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "seriesflow",
	}
}
