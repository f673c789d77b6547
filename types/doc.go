// Package types contains the shared data structures and the unified error
// model used across seriesflow.
//
// Core types:
//
//   - DataPoint / TimeSeries: the time series values models are trained on.
//   - Error / ErrorCode: structured errors with stable codes, a retryable
//     flag, and cause chaining. Callers should match on codes via HasCode
//     rather than on message text.
package types
