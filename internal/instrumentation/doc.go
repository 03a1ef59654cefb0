// Package instrumentation provides OpenTelemetry instrumentation for the
// mailledger tracking pipeline.
//
// # Metrics
//
// Poll cycle metrics:
//   - poll_cycles_total: Counter of poll cycles by result
//   - poll_cycle_duration_seconds: Histogram of poll cycle durations
//
// Pipeline metrics:
//   - messages_fetched_total: Counter of raw messages fetched per cycle
//   - conversations_total: Counter of aggregated conversations by outcome
//     (analyzed, skipped_duplicate, rejected, non_transactional)
//   - oracle_calls_total: Counter of oracle stage invocations by stage and status
//   - oracle_retries_total: Counter of oracle stage retries by stage
//   - transactions_total: Counter of persistence outcomes (stored, duplicate)
//
// Mailbox API metrics:
//   - mailbox_api_operations_total: Counter of provider API operations by
//     operation and status
//   - mailbox_api_operation_duration_seconds: Histogram of operation durations
//
// # Tracing
//
// A span is created per poll cycle, with child spans per pipeline stage
// (fetch, aggregate, classify, extract, store).
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: mailledger)
package instrumentation
