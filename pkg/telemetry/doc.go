// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for gantry.
//
// Logging is zerolog with console or JSON output. Metrics implements the
// engine's Metrics interface and exposes a /metrics HTTP endpoint. Tracing
// exports spans to stdout or an OTLP collector.
package telemetry
