// Package observability provides the logging, metrics and tracing used across
// warden.
//
//   - Logging: slog with a redacting handler that also copies request, session
//     and lane ids from the context onto every record.
//   - Metrics: Prometheus collectors for lanes, turns, model calls, tools and
//     approvals, served on /metrics.
//   - Tracing: OpenTelemetry spans exported over OTLP/gRPC.
package observability
