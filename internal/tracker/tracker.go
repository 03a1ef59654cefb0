package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/mailledger/internal/gmail"
	"github.com/teemow/mailledger/internal/instrumentation"
	"github.com/teemow/mailledger/internal/logging"
	"github.com/teemow/mailledger/internal/store"
	"github.com/teemow/mailledger/internal/thread"
)

// Scheduling defaults. The poll interval deliberately exceeds typical
// receipt delivery latency; the overlap covers messages that land just
// after a previous window's boundary due to clock skew or delivery delay.
const (
	DefaultInterval   = 3 * time.Hour
	DefaultOverlap    = 10 * time.Minute
	DefaultLookback   = 24 * time.Hour
	DefaultRetryDelay = 60 * time.Second
)

// Mailbox fetches raw messages for a time window.
type Mailbox interface {
	FetchMessages(ctx context.Context, address string, start, end time.Time) ([]gmail.RawMessage, error)
}

// Analyzer runs the two stage classify/extract pipeline for one conversation.
type Analyzer interface {
	Analyze(ctx context.Context, conv *thread.Conversation) (*store.Transaction, error)
}

// TransactionStore is the persistence surface the tracker needs.
type TransactionStore interface {
	InsertIfAbsent(ctx context.Context, t store.Transaction) (bool, error)
	Exists(ctx context.Context, messageID string) (bool, error)
	MaxTransactionDate(ctx context.Context) (time.Time, bool, error)
}

// Options configures a Tracker. Zero durations fall back to the defaults.
type Options struct {
	Address    string
	Interval   time.Duration
	Overlap    time.Duration
	Lookback   time.Duration
	RetryDelay time.Duration
	ReadFilter gmail.ReadFilter

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// Now is replaced in tests for deterministic windows.
	Now func() time.Time
}

// CycleStats summarizes one poll cycle for logging and tests.
type CycleStats struct {
	Fetched          int
	Conversations    int
	SkippedDuplicate int
	Rejected         int
	NonTransactional int
	Stored           int
	Duplicates       int
}

// Tracker runs poll cycles against a single mailbox. All pipeline work is
// strictly sequential; the store's unique constraint is the only write
// coordination needed.
type Tracker struct {
	mailbox    Mailbox
	aggregator *thread.Aggregator
	analyzer   Analyzer
	store      TransactionStore

	address    string
	interval   time.Duration
	overlap    time.Duration
	lookback   time.Duration
	retryDelay time.Duration
	readFilter gmail.ReadFilter

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// New builds a Tracker from its collaborators.
func New(mailbox Mailbox, anl Analyzer, st TransactionStore, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Overlap <= 0 {
		opts.Overlap = DefaultOverlap
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = &instrumentation.Metrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		mailbox:    mailbox,
		aggregator: thread.NewAggregator(opts.Logger),
		analyzer:   anl,
		store:      st,
		address:    opts.Address,
		interval:   opts.Interval,
		overlap:    opts.Overlap,
		lookback:   opts.Lookback,
		retryDelay: opts.RetryDelay,
		readFilter: opts.ReadFilter,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
}

// Window computes the next fetch window. The start is the most recent
// persisted transaction date minus the overlap; with an empty store it is
// a fixed lookback before now, with no overlap subtraction. The end is
// always now.
func (t *Tracker) Window(ctx context.Context) (time.Time, time.Time, error) {
	end := t.now()

	maxDate, ok, err := t.store.MaxTransactionDate(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("resolve poll cursor: %w", err)
	}
	if !ok {
		return end.Add(-t.lookback), end, nil
	}
	return maxDate.Add(-t.overlap), end, nil
}

// RunCycle executes one full poll cycle: window computation, fetch,
// aggregation, analysis and storage. A failure in the analysis of one
// conversation skips that conversation only; a failure before or during
// the fetch fails the cycle.
func (t *Tracker) RunCycle(ctx context.Context) (CycleStats, error) {
	cycleID := uuid.NewString()
	logger := logging.WithCycle(t.logger, cycleID)
	started := t.now()

	ctx, span := instrumentation.StartCycleSpan(ctx, cycleID)
	defer span.End()
	if traceID := instrumentation.GetTraceID(ctx); traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}

	start, end, err := t.Window(ctx)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		t.metrics.RecordPollCycle(ctx, instrumentation.ResultError, t.now().Sub(started))
		return CycleStats{}, err
	}

	stats, err := t.runWindow(ctx, logger, start, end)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		t.metrics.RecordPollCycle(ctx, instrumentation.ResultError, t.now().Sub(started))
		return stats, err
	}

	instrumentation.SetSpanSuccess(span)
	t.metrics.RecordPollCycle(ctx, instrumentation.ResultSuccess, t.now().Sub(started))
	logger.Info("poll cycle complete",
		logging.Operation("poll"),
		logging.Status(logging.StatusSuccess),
		slog.Int("fetched", stats.Fetched),
		slog.Int("conversations", stats.Conversations),
		slog.Int("stored", stats.Stored),
		slog.Int("skipped", stats.SkippedDuplicate),
		slog.Int("duplicates", stats.Duplicates))
	return stats, nil
}

// Backfill runs one pipeline pass over an explicit window instead of the
// derived incremental one. The dedup and idempotence guarantees are the
// same, so backfilling an already-covered range stores nothing twice.
func (t *Tracker) Backfill(ctx context.Context, start, end time.Time) (CycleStats, error) {
	cycleID := uuid.NewString()
	logger := logging.WithCycle(t.logger, cycleID)

	ctx, span := instrumentation.StartCycleSpan(ctx, cycleID)
	defer span.End()

	stats, err := t.runWindow(ctx, logger, start, end)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return stats, err
	}
	instrumentation.SetSpanSuccess(span)
	return stats, nil
}

func (t *Tracker) runWindow(ctx context.Context, logger *slog.Logger, start, end time.Time) (CycleStats, error) {
	var stats CycleStats

	logger.Info("starting poll cycle",
		logging.Operation("poll"),
		logging.Window(start, end))

	fetchCtx, fetchSpan := instrumentation.StartStageSpan(ctx, "fetch",
		attribute.Int64(instrumentation.SpanAttrWindowStart, start.Unix()),
		attribute.Int64(instrumentation.SpanAttrWindowEnd, end.Unix()))
	msgs, err := t.mailbox.FetchMessages(fetchCtx, t.address, start, end)
	if err != nil {
		instrumentation.SetSpanError(fetchSpan, err)
		fetchSpan.End()
		return stats, fmt.Errorf("fetch messages: %w", err)
	}
	fetchSpan.End()
	stats.Fetched = len(msgs)
	t.metrics.RecordMessagesFetched(ctx, len(msgs))

	_, aggSpan := instrumentation.StartStageSpan(ctx, "aggregate")
	conversations := thread.Filter(thread.Sorted(t.aggregator.Aggregate(msgs)), t.readFilter)
	aggSpan.End()
	stats.Conversations = len(conversations)

	for _, conv := range conversations {
		t.processConversation(ctx, logger, conv, &stats)
	}

	return stats, nil
}

// processConversation runs dedup, analysis and storage for one
// conversation. Failures are absorbed here so one bad conversation never
// aborts the rest of the cycle.
func (t *Tracker) processConversation(ctx context.Context, logger *slog.Logger, conv *thread.Conversation, stats *CycleStats) {
	// Dedup boundary: keyed on the representative message id. A thread
	// whose representative changes across fetches can be analyzed again
	// under the new id.
	exists, err := t.store.Exists(ctx, conv.MessageID)
	if err != nil {
		logger.Error("duplicate check failed",
			logging.Operation("poll"),
			logging.MessageID(conv.MessageID),
			logging.Err(err))
		stats.Rejected++
		return
	}
	if exists {
		logger.Debug("conversation already processed",
			logging.Operation("poll"),
			logging.Status(logging.StatusSkipped),
			logging.MessageID(conv.MessageID),
			logging.ThreadID(conv.ThreadID))
		t.metrics.RecordConversation(ctx, instrumentation.OutcomeSkippedDuplicate, conv.From)
		stats.SkippedDuplicate++
		return
	}

	tx, err := t.analyzer.Analyze(ctx, conv)
	if err != nil {
		logger.Warn("conversation analysis failed",
			logging.Operation("poll"),
			logging.ThreadID(conv.ThreadID),
			logging.Err(err))
		t.metrics.RecordConversation(ctx, instrumentation.OutcomeRejected, conv.From)
		stats.Rejected++
		return
	}
	if tx == nil {
		t.metrics.RecordConversation(ctx, instrumentation.OutcomeNonTransactional, conv.From)
		stats.NonTransactional++
		return
	}
	t.metrics.RecordConversation(ctx, instrumentation.OutcomeAnalyzed, conv.From)

	storeCtx, storeSpan := instrumentation.StartStageSpan(ctx, "store")
	inserted, err := t.store.InsertIfAbsent(storeCtx, *tx)
	storeSpan.End()
	if err != nil {
		logger.Error("transaction insert failed",
			logging.Operation("poll"),
			logging.MessageID(tx.MessageID),
			logging.Err(err))
		stats.Rejected++
		return
	}
	if !inserted {
		t.metrics.RecordTransaction(ctx, instrumentation.OutcomeDuplicate)
		stats.Duplicates++
		return
	}
	t.metrics.RecordTransaction(ctx, instrumentation.OutcomeStored)
	stats.Stored++
	logger.Info("transaction stored",
		logging.Operation("poll"),
		logging.MessageID(tx.MessageID),
		logging.ThreadID(tx.ThreadID),
		logging.Sender(tx.Sender),
		slog.Float64("amount", tx.Amount),
		slog.String("date", tx.Date.Format(store.DateLayout)))
}

// Run is the supervisor loop. It repeats poll cycles on the configured
// interval; a failed cycle is logged and followed by the shorter retry
// delay instead of terminating. Run returns only when ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("tracker started",
		logging.Operation("run"),
		slog.Duration("interval", t.interval),
		slog.Duration("retry_delay", t.retryDelay))

	for {
		delay := t.interval
		if _, err := t.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Error("poll cycle failed",
				logging.Operation("run"),
				logging.Status(logging.StatusError),
				logging.Err(err))
			delay = t.retryDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
