package instrumentation

import (
	"context"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, ctx context.Context) *Provider {
	t.Helper()

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })
	return provider
}

func TestMetrics_RecordPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider := newTestProvider(t, ctx)

	metrics := provider.Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordPollCycle(ctx, ResultSuccess, 2*time.Second)
	metrics.RecordPollCycle(ctx, ResultError, 500*time.Millisecond)
	metrics.RecordMessagesFetched(ctx, 12)
	metrics.RecordConversation(ctx, OutcomeAnalyzed, "billing@coffeeco.example")
	metrics.RecordConversation(ctx, OutcomeSkippedDuplicate, "")
	metrics.RecordConversation(ctx, OutcomeRejected, "")
	metrics.RecordConversation(ctx, OutcomeNonTransactional, "")
	metrics.RecordOracleCall(ctx, StageClassify, ResultSuccess)
	metrics.RecordOracleCall(ctx, StageExtract, ResultError)
	metrics.RecordOracleRetry(ctx, StageClassify)
	metrics.RecordTransaction(ctx, OutcomeStored)
	metrics.RecordTransaction(ctx, OutcomeDuplicate)
	metrics.RecordMailboxAPIOperation(ctx, OperationList, ResultSuccess, 200*time.Millisecond)
	metrics.RecordMailboxAPIOperation(ctx, OperationGet, ResultError, 100*time.Millisecond)

	if !provider.HasPrometheusExporter() {
		t.Error("expected prometheus exporter to be configured")
	}
}

func TestMetrics_ZeroValueIsNoop(t *testing.T) {
	ctx := context.Background()
	var m Metrics

	// Uninitialized instruments must not panic
	m.RecordPollCycle(ctx, ResultSuccess, time.Second)
	m.RecordMessagesFetched(ctx, 3)
	m.RecordConversation(ctx, OutcomeAnalyzed, "a@b.example")
	m.RecordOracleCall(ctx, StageClassify, ResultSuccess)
	m.RecordOracleRetry(ctx, StageExtract)
	m.RecordTransaction(ctx, OutcomeStored)
	m.RecordMailboxAPIOperation(ctx, OperationList, ResultSuccess, time.Second)
}

func TestProvider_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewProvider(ctx, Config{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create disabled provider: %v", err)
	}

	if provider.Enabled() {
		t.Error("expected provider to be disabled")
	}

	if provider.Metrics() == nil {
		t.Fatal("expected no-op metrics recorder, got nil")
	}

	if provider.HasPrometheusExporter() {
		t.Error("disabled provider must not configure an exporter")
	}

	// No-op recorder must be safe to use
	provider.Metrics().RecordPollCycle(ctx, ResultSuccess, time.Second)

	tracer := provider.Tracer("test")
	_, span := tracer.Start(ctx, "noop")
	span.End()

	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("shutdown of disabled provider failed: %v", err)
	}
}

func TestTracer_SpanHelpers(t *testing.T) {
	ctx := context.Background()

	spanCtx, span := StartCycleSpan(ctx, "cycle-1")
	defer span.End()

	_, stageSpan := StartStageSpan(spanCtx, "fetch")
	SetSpanSuccess(stageSpan)
	stageSpan.End()

	_, apiSpan := StartMailboxAPISpan(spanCtx, OperationList)
	SetSpanError(apiSpan, context.DeadlineExceeded)
	apiSpan.End()

	// No provider installed, so trace ids are empty but nothing panics
	_ = GetTraceID(spanCtx)
}
