// Package otel publishes goGuard metrics as OpenTelemetry instruments.
//
// [NewExporter] registers one Int64ObservableCounter per goGuard counter and
// one Int64ObservableGauge per latency bucket. A single callback reads
// [goGuard.Guard.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider and passes in a Meter.
package otel
