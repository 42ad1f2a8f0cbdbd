// Package otel publishes authcore engine metrics through an OpenTelemetry
// Meter.
//
// [NewExporter] registers one observable counter per engine counter and one
// observable gauge per latency bucket. A single callback reads
// MetricsSnapshot on each collection; the caller owns the MeterProvider.
package otel
