// Package observability provides an OpenTelemetry-based metrics extension
// for the queue. The MetricsExtension implements lifecycle hooks to record
// queue-wide counters for job submission, start, completion, failure,
// retry, cancellation, and dead letter events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
