package types

// DataPoint is a single measurement of a time series.
type DataPoint struct {
	// Timestamp is the Unix timestamp of the measurement.
	Timestamp int64 `json:"timestamp" yaml:"timestamp"`

	// Value is the measured quantity.
	Value float64 `json:"value" yaml:"value"`
}

// TimeSeries is an ordered sequence of measurements of one quantity.
type TimeSeries struct {
	// Points are the measurements, ordered in time.
	Points []DataPoint `json:"points" yaml:"points"`
}

// Values returns the raw values of the series in order.
func (ts TimeSeries) Values() []float64 {
	values := make([]float64, len(ts.Points))
	for i, p := range ts.Points {
		values[i] = p.Value
	}
	return values
}

// Len returns the number of points in the series.
func (ts TimeSeries) Len() int {
	return len(ts.Points)
}
