package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrResult    = "result"
	attrOutcome   = "outcome"
	attrStage     = "stage"
	attrStatus    = "status"
	attrOperation = "operation"
	attrSender    = "sender_domain"
)

// Stage label values for oracle metrics.
const (
	StageClassify = "classify"
	StageExtract  = "extract"
)

// Metrics provides methods for recording pipeline observability metrics.
// The zero value is a no-op recorder.
type Metrics struct {
	pollCyclesTotal   metric.Int64Counter
	pollCycleDuration metric.Float64Histogram

	messagesFetchedTotal metric.Int64Counter
	conversationsTotal   metric.Int64Counter

	oracleCallsTotal   metric.Int64Counter
	oracleRetriesTotal metric.Int64Counter

	transactionsTotal metric.Int64Counter

	mailboxAPIOperationsTotal   metric.Int64Counter
	mailboxAPIOperationDuration metric.Float64Histogram

	// detailedLabels controls whether sender domain labels are included
	detailedLabels bool
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.pollCyclesTotal, err = meter.Int64Counter(
		"poll_cycles_total",
		metric.WithDescription("Total number of poll cycles by result"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll_cycles_total counter: %w", err)
	}

	m.pollCycleDuration, err = meter.Float64Histogram(
		"poll_cycle_duration_seconds",
		metric.WithDescription("Poll cycle duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 5.0, 15.0, 30.0, 60.0, 180.0, 600.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll_cycle_duration_seconds histogram: %w", err)
	}

	m.messagesFetchedTotal, err = meter.Int64Counter(
		"messages_fetched_total",
		metric.WithDescription("Total number of raw messages fetched from the mailbox"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages_fetched_total counter: %w", err)
	}

	m.conversationsTotal, err = meter.Int64Counter(
		"conversations_total",
		metric.WithDescription("Total number of aggregated conversations by outcome"),
		metric.WithUnit("{conversation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversations_total counter: %w", err)
	}

	m.oracleCallsTotal, err = meter.Int64Counter(
		"oracle_calls_total",
		metric.WithDescription("Total number of analysis stage invocations by stage and status"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle_calls_total counter: %w", err)
	}

	m.oracleRetriesTotal, err = meter.Int64Counter(
		"oracle_retries_total",
		metric.WithDescription("Total number of analysis stage retries by stage"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle_retries_total counter: %w", err)
	}

	m.transactionsTotal, err = meter.Int64Counter(
		"transactions_total",
		metric.WithDescription("Total number of persistence outcomes (stored, duplicate)"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactions_total counter: %w", err)
	}

	m.mailboxAPIOperationsTotal, err = meter.Int64Counter(
		"mailbox_api_operations_total",
		metric.WithDescription("Total number of mailbox provider API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailbox_api_operations_total counter: %w", err)
	}

	m.mailboxAPIOperationDuration, err = meter.Float64Histogram(
		"mailbox_api_operation_duration_seconds",
		metric.WithDescription("Mailbox provider API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailbox_api_operation_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordPollCycle records one completed poll cycle with its result and duration.
// Result should be one of: "success", "error"
func (m *Metrics) RecordPollCycle(ctx context.Context, result string, duration time.Duration) {
	if m.pollCyclesTotal == nil || m.pollCycleDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrResult, result),
	}

	m.pollCyclesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.pollCycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordMessagesFetched records the number of raw messages a fetch returned.
func (m *Metrics) RecordMessagesFetched(ctx context.Context, count int) {
	if m.messagesFetchedTotal == nil {
		return // Instrumentation not initialized
	}

	m.messagesFetchedTotal.Add(ctx, int64(count))
}

// RecordConversation records the outcome of one conversation passing through
// the pipeline. Outcome should be one of: "analyzed", "skipped_duplicate",
// "rejected", "non_transactional". The sender domain label is only added
// when detailed labels are enabled.
func (m *Metrics) RecordConversation(ctx context.Context, outcome, sender string) {
	if m.conversationsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOutcome, outcome),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && sender != "" {
		attrs = append(attrs, attribute.String(attrSender, ExtractSenderDomain(sender)))
	}

	m.conversationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOracleCall records one analysis stage invocation.
//
// Parameters:
//   - stage: "classify" or "extract"
//   - status: "success" or "error"
func (m *Metrics) RecordOracleCall(ctx context.Context, stage, status string) {
	if m.oracleCallsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrStage, stage),
		attribute.String(attrStatus, status),
	}

	m.oracleCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOracleRetry records one analysis stage retry.
func (m *Metrics) RecordOracleRetry(ctx context.Context, stage string) {
	if m.oracleRetriesTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrStage, stage),
	}

	m.oracleRetriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransaction records one persistence outcome.
// Outcome should be one of: "stored", "duplicate"
func (m *Metrics) RecordTransaction(ctx context.Context, outcome string) {
	if m.transactionsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOutcome, outcome),
	}

	m.transactionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMailboxAPIOperation records a mailbox provider API operation with
// operation name, status, and duration.
//
// Parameters:
//   - operation: Operation type (list, get, search)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordMailboxAPIOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m.mailboxAPIOperationsTotal == nil || m.mailboxAPIOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.mailboxAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.mailboxAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
