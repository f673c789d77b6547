// Package service ties the model and storage layers together into the
// training and detection flows.
//
// Train fits a fresh model on a time series and persists it as the next
// version of the series key. Detect and DetectVersion load a stored model
// (latest or explicit version) and check one point against it. Every
// operation logs through zap and, when a collector is supplied, records
// Prometheus counters and latency histograms.
package service
