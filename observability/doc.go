// Package observability provides an OpenTelemetry metrics extension for
// docket. The MetricsExtension implements the lifecycle hooks and records
// system-wide counters for admissions, claims, completions, failures,
// stale recoveries, demotions, deletions and verification outcomes.
//
// For per-step tracing and metrics of the external processor and
// verifier, see the middleware package: middleware.Tracing() and
// middleware.Metrics().
package observability
