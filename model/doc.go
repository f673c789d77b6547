// Package model defines the trainable model contract and its concrete
// implementations.
//
// A Model is fitted on a types.TimeSeries, classifies individual points as
// anomalous or not, and serializes its fitted state to an opaque byte
// payload identified by a type tag. The storage layer persists payloads
// without interpreting them; the tag is recorded alongside the payload and
// used by New to pick the implementation that can deserialize it again.
//
// Two implementations ship with the package:
//
//   - "statistical": mean + threshold·σ upper-exceedance rule.
//   - "ewma": exponentially weighted mean/variance with two-sided bounds.
//
// Additional implementations can be added at runtime via Register.
package model
