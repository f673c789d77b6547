package model

import (
	"github.com/BaSui01/seriesflow/types"
)

// Model type tags known to the built-in registry.
const (
	TypeStatistical = "statistical"
	TypeEWMA        = "ewma"
)

// Model is the contract every trainable artifact must satisfy.
//
// A model moves through two states: unfitted (fresh from New) and fitted
// (after a successful Fit or Deserialize). Predict and Serialize fail with
// a MODEL_NOT_FITTED error while unfitted.
type Model interface {
	// Fit trains the model on historical data. Fitting on an empty series
	// fails with INVALID_INPUT.
	Fit(series types.TimeSeries) error

	// Predict reports whether the point is anomalous.
	Predict(point types.DataPoint) (bool, error)

	// Serialize returns the fitted state as an opaque payload.
	Serialize() ([]byte, error)

	// Deserialize restores fitted state from a payload produced by
	// Serialize. A malformed payload fails with CORRUPTED_ARTIFACT.
	Deserialize(data []byte) error

	// IsFitted reports whether the model completed training.
	IsFitted() bool

	// Type returns the type tag persisted alongside serialized payloads.
	Type() string
}

// Config carries the hyperparameters for all model types. Each
// implementation reads only the fields it understands.
type Config struct {
	// Type selects the model implementation.
	Type string `yaml:"type" json:"type" env:"TYPE"`

	// Threshold is the sigma multiplier for exceedance rules (default: 3.0).
	Threshold float64 `yaml:"threshold" json:"threshold" env:"THRESHOLD"`

	// Alpha is the EWMA smoothing factor in (0, 1] (default: 0.3).
	Alpha float64 `yaml:"alpha" json:"alpha" env:"ALPHA"`
}

// DefaultConfig returns the default model configuration.
func DefaultConfig() Config {
	return Config{
		Type:      TypeStatistical,
		Threshold: 3.0,
		Alpha:     0.3,
	}
}

func errNotFitted(modelType string) error {
	return types.NewErrorf(types.ErrModelNotFitted,
		"%s model must be fitted first", modelType)
}
