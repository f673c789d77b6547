package model

import (
	"encoding/json"
	"math"

	"github.com/BaSui01/seriesflow/types"
)

// EWMAModel tracks an exponentially weighted moving mean and variance over
// the training series and flags points outside mean ± threshold·σ. Recent
// points weigh more than old ones, so it adapts to series with slow drift
// where the plain statistical model over-alerts.
type EWMAModel struct {
	alpha     float64
	threshold float64
	mean      float64
	variance  float64
	fitted    bool
}

// ewmaPayload uses pointers for the fitted statistics so a payload missing
// them is distinguishable from one where they are zero.
type ewmaPayload struct {
	ModelType string   `json:"model_type"`
	Alpha     float64  `json:"alpha"`
	Threshold float64  `json:"threshold"`
	Mean      *float64 `json:"mean"`
	Variance  *float64 `json:"variance"`
}

// NewEWMAModel creates an unfitted EWMA model. Alpha outside (0, 1] falls
// back to 0.3 and a non-positive threshold to 3.0.
func NewEWMAModel(alpha, threshold float64) *EWMAModel {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	if threshold <= 0 {
		threshold = 3.0
	}
	return &EWMAModel{alpha: alpha, threshold: threshold}
}

// Fit folds the series into the weighted mean and variance in order.
func (m *EWMAModel) Fit(series types.TimeSeries) error {
	values := series.Values()
	if len(values) == 0 {
		return types.NewError(types.ErrInvalidInput, "cannot train on empty time series")
	}

	mean := values[0]
	variance := 0.0
	for _, v := range values[1:] {
		delta := v - mean
		// West (1979) incremental update: the variance term uses the
		// deviation from the previous mean.
		variance = (1 - m.alpha) * (variance + m.alpha*delta*delta)
		mean += m.alpha * delta
	}

	m.mean = mean
	m.variance = variance
	m.fitted = true
	return nil
}

// Predict reports whether the point lies outside mean ± threshold·σ.
func (m *EWMAModel) Predict(point types.DataPoint) (bool, error) {
	if !m.fitted {
		return false, errNotFitted(m.Type())
	}
	return math.Abs(point.Value-m.mean) > m.threshold*math.Sqrt(m.variance), nil
}

// Serialize encodes the fitted state as JSON.
func (m *EWMAModel) Serialize() ([]byte, error) {
	if !m.fitted {
		return nil, errNotFitted(m.Type())
	}
	return json.Marshal(ewmaPayload{
		ModelType: m.Type(),
		Alpha:     m.alpha,
		Threshold: m.threshold,
		Mean:      &m.mean,
		Variance:  &m.variance,
	})
}

// Deserialize restores fitted state from a Serialize payload. A payload
// missing the fitted statistics fails with CORRUPTED_ARTIFACT and leaves
// the model unfitted.
func (m *EWMAModel) Deserialize(data []byte) error {
	var p ewmaPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.NewError(types.ErrCorruptedArtifact,
			"malformed ewma model payload").WithCause(err)
	}
	if p.Mean == nil || p.Variance == nil {
		return types.NewError(types.ErrCorruptedArtifact,
			"ewma model payload missing fitted statistics")
	}

	m.alpha = p.Alpha
	if m.alpha <= 0 || m.alpha > 1 {
		m.alpha = 0.3
	}
	m.threshold = p.Threshold
	if m.threshold <= 0 {
		m.threshold = 3.0
	}
	m.mean = *p.Mean
	m.variance = *p.Variance
	m.fitted = true
	return nil
}

// IsFitted reports whether the model completed training.
func (m *EWMAModel) IsFitted() bool {
	return m.fitted
}

// Type returns the persistence type tag.
func (m *EWMAModel) Type() string {
	return TypeEWMA
}
