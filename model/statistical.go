package model

import (
	"encoding/json"
	"math"

	"github.com/BaSui01/seriesflow/types"
)

// StatisticalModel detects anomalies with a mean + threshold·σ rule. A point
// is anomalous when its value exceeds the fitted mean by more than threshold
// population standard deviations.
type StatisticalModel struct {
	threshold float64
	mean      float64
	std       float64
	fitted    bool
}

// statisticalPayload uses pointers for the fitted statistics so a payload
// missing them is distinguishable from one where they are zero.
type statisticalPayload struct {
	ModelType string   `json:"model_type"`
	Threshold float64  `json:"threshold"`
	Mean      *float64 `json:"mean"`
	Std       *float64 `json:"std"`
}

// NewStatisticalModel creates an unfitted statistical model. A non-positive
// threshold falls back to the default of 3.0.
func NewStatisticalModel(threshold float64) *StatisticalModel {
	if threshold <= 0 {
		threshold = 3.0
	}
	return &StatisticalModel{threshold: threshold}
}

// Fit computes the mean and population standard deviation of the series.
func (m *StatisticalModel) Fit(series types.TimeSeries) error {
	values := series.Values()
	if len(values) == 0 {
		return types.NewError(types.ErrInvalidInput, "cannot train on empty time series")
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	m.mean = mean
	m.std = math.Sqrt(sq / float64(len(values)))
	m.fitted = true
	return nil
}

// Predict reports whether the point lies above the upper exceedance bound.
func (m *StatisticalModel) Predict(point types.DataPoint) (bool, error) {
	if !m.fitted {
		return false, errNotFitted(m.Type())
	}
	return point.Value > m.mean+m.threshold*m.std, nil
}

// Serialize encodes the fitted state as JSON.
func (m *StatisticalModel) Serialize() ([]byte, error) {
	if !m.fitted {
		return nil, errNotFitted(m.Type())
	}
	return json.Marshal(statisticalPayload{
		ModelType: m.Type(),
		Threshold: m.threshold,
		Mean:      &m.mean,
		Std:       &m.std,
	})
}

// Deserialize restores fitted state from a Serialize payload. A payload
// missing the fitted statistics fails with CORRUPTED_ARTIFACT and leaves
// the model unfitted.
func (m *StatisticalModel) Deserialize(data []byte) error {
	var p statisticalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.NewError(types.ErrCorruptedArtifact,
			"malformed statistical model payload").WithCause(err)
	}
	if p.Mean == nil || p.Std == nil {
		return types.NewError(types.ErrCorruptedArtifact,
			"statistical model payload missing fitted statistics")
	}

	m.threshold = p.Threshold
	if m.threshold <= 0 {
		m.threshold = 3.0
	}
	m.mean = *p.Mean
	m.std = *p.Std
	m.fitted = true
	return nil
}

// IsFitted reports whether the model completed training.
func (m *StatisticalModel) IsFitted() bool {
	return m.fitted
}

// Type returns the persistence type tag.
func (m *StatisticalModel) Type() string {
	return TypeStatistical
}
