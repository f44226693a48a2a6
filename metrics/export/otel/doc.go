// Package otel provides OpenTelemetry metric bindings for goAuthClient
// counters.
//
// [NewOTelExporter] registers an Int64ObservableCounter per metric. A single
// callback reads [goAuthClient.Client.MetricsSnapshot] on each collection
// cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate client state.
package otel
