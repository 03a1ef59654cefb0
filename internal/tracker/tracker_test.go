package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailledger/internal/analyzer"
	"github.com/teemow/mailledger/internal/gmail"
	"github.com/teemow/mailledger/internal/store"
	"github.com/teemow/mailledger/internal/thread"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeMailbox struct {
	mu      sync.Mutex
	msgs    []gmail.RawMessage
	err     error
	calls   int
	windows [][2]time.Time
}

func (f *fakeMailbox) FetchMessages(ctx context.Context, address string, start, end time.Time) ([]gmail.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.windows = append(f.windows, [2]time.Time{start, end})
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

func (f *fakeMailbox) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeOracle struct {
	transactional bool
	amount        float64
	failures      int // errors before the first success, per stage
	classifyCalls int
	extractCalls  int
}

func (f *fakeOracle) Classify(ctx context.Context, prompt string) (analyzer.Classification, error) {
	f.classifyCalls++
	if f.classifyCalls <= f.failures {
		return analyzer.Classification{}, errors.New("oracle unavailable")
	}
	return analyzer.Classification{IsTransactional: f.transactional, Confidence: 0.9, Reasoning: "test"}, nil
}

func (f *fakeOracle) Extract(ctx context.Context, prompt string) (analyzer.Extraction, error) {
	f.extractCalls++
	return analyzer.Extraction{
		Sender:          "billing@coffeeco.example",
		Subject:         "Your receipt from CoffeeCo",
		TransactionDate: "2025-06-02",
		Amount:          f.amount,
		Description:     "Purchase - CoffeeCo - Latte",
		Category:        "Food",
	}, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fastAnalyzer(oracle analyzer.Oracle) *analyzer.Analyzer {
	return analyzer.New(oracle, analyzer.NewRetryPolicy(3, time.Millisecond), nil, nil)
}

func receiptMessage(id, threadID string, sentAt time.Time) gmail.RawMessage {
	return gmail.RawMessage{
		ID:       id,
		ThreadID: threadID,
		From:     "billing@coffeeco.example",
		To:       "me@example.com",
		Subject:  "Your receipt from CoffeeCo",
		Body:     "You paid $4.50 for a latte.",
		SentAt:   sentAt,
		Read:     true,
	}
}

func newTracker(mailbox Mailbox, oracle analyzer.Oracle, st TransactionStore) *Tracker {
	return New(mailbox, fastAnalyzer(oracle), st, Options{
		Address: "me@example.com",
		Now:     func() time.Time { return now },
	})
}

func TestWindowEmptyStore(t *testing.T) {
	s := openStore(t)
	tr := newTracker(&fakeMailbox{}, &fakeOracle{}, s)

	start, end, err := tr.Window(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, end)
	// fixed lookback, no overlap subtraction on first run
	assert.Equal(t, now.Add(-DefaultLookback), start)
}

func TestWindowOverlapsLastTransactionDate(t *testing.T) {
	s := openStore(t)
	last := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	_, err := s.InsertIfAbsent(context.Background(), store.Transaction{
		MessageID: "m-old", ThreadID: "t-old", Sender: "a@b.example",
		Subject: "s", Date: last, Amount: 1, Description: "d", RawData: "{}",
	})
	require.NoError(t, err)

	tr := newTracker(&fakeMailbox{}, &fakeOracle{}, s)
	start, end, err := tr.Window(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, end)
	assert.Equal(t, last.Add(-DefaultOverlap), start, "window start is the cursor minus the overlap, not the cursor itself")
}

func TestRunCycleStoresTransaction(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		receiptMessage("m1", "t1", now.Add(-time.Hour)),
	}}
	oracle := &fakeOracle{transactional: true, amount: 4.50}
	tr := newTracker(mailbox, oracle, s)

	stats, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 1, stats.Conversations)
	assert.Equal(t, 1, stats.Stored)

	exists, err := s.Exists(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	rows, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0].ThreadID)
	assert.Equal(t, 4.50, rows[0].Amount)
	assert.Equal(t, "Purchase - CoffeeCo - Latte", rows[0].Description)
}

func TestRunCycleSkipsProcessedConversations(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		receiptMessage("m1", "t1", now.Add(-time.Hour)),
	}}
	oracle := &fakeOracle{transactional: true, amount: 4.50}
	tr := newTracker(mailbox, oracle, s)

	_, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, oracle.classifyCalls)

	// overlapping windows refetch the same message; it must not be
	// re-classified or re-extracted
	stats, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedDuplicate)
	assert.Equal(t, 0, stats.Stored)
	assert.Equal(t, 1, oracle.classifyCalls)
	assert.Equal(t, 1, oracle.extractCalls)
}

func TestRunCycleNonTransactional(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		receiptMessage("m1", "t1", now.Add(-time.Hour)),
	}}
	oracle := &fakeOracle{transactional: false}
	tr := newTracker(mailbox, oracle, s)

	stats, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NonTransactional)
	assert.Equal(t, 0, stats.Stored)
	assert.Equal(t, 0, oracle.extractCalls)
}

func TestRunCycleFetchErrorFailsCycle(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{err: errors.New("gmail unavailable")}
	tr := newTracker(mailbox, &fakeOracle{}, s)

	_, err := tr.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch messages")
}

func TestRunCycleAnalysisFailureDoesNotAbortCycle(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		receiptMessage("m1", "t1", now.Add(-2*time.Hour)),
		receiptMessage("m2", "t2", now.Add(-time.Hour)),
	}}
	// enough failures to exhaust retries for the first conversation only
	oracle := &fakeOracle{transactional: true, amount: 4.50, failures: 3}
	tr := newTracker(mailbox, oracle, s)

	stats, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Stored)
}

func TestRunCycleRetriesTransientOracleFailure(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		receiptMessage("m1", "t1", now.Add(-time.Hour)),
	}}
	oracle := &fakeOracle{transactional: true, amount: 4.50, failures: 1}
	tr := newTracker(mailbox, oracle, s)

	stats, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stored)
	assert.Equal(t, 2, oracle.classifyCalls, "one failure then one success")
}

func TestThreadMessagesMergeBeforeAnalysis(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		receiptMessage("m1", "t1", now.Add(-2*time.Hour)),
		receiptMessage("m2", "t1", now.Add(-time.Hour)),
	}}
	oracle := &fakeOracle{transactional: true, amount: 4.50}
	tr := newTracker(mailbox, oracle, s)

	stats, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Conversations, "both messages fold into one conversation")
	assert.Equal(t, 1, stats.Stored)
	assert.Equal(t, 1, oracle.classifyCalls)

	// the stored record carries the representative message id
	exists, err := s.Exists(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBackfillUsesExplicitWindow(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		receiptMessage("m1", "t1", now.Add(-48*time.Hour)),
	}}
	oracle := &fakeOracle{transactional: true, amount: 4.50}
	tr := newTracker(mailbox, oracle, s)

	start := now.Add(-72 * time.Hour)
	stats, err := tr.Backfill(context.Background(), start, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stored)

	require.Len(t, mailbox.windows, 1)
	assert.Equal(t, start, mailbox.windows[0][0])
	assert.Equal(t, now, mailbox.windows[0][1])

	// a second pass over the same window is a no-op
	stats, err = tr.Backfill(context.Background(), start, now)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Stored)
	assert.Equal(t, 1, stats.SkippedDuplicate)
}

func TestRunSurvivesFailedCycles(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{err: errors.New("gmail unavailable")}
	tr := New(mailbox, fastAnalyzer(&fakeOracle{}), s, Options{
		Address:    "me@example.com",
		Interval:   50 * time.Millisecond,
		RetryDelay: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := tr.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// with the 5ms retry delay several cycles fit into the deadline;
	// with the 50ms interval only one would
	assert.GreaterOrEqual(t, mailbox.callCount(), 3)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{}
	tr := New(mailbox, fastAnalyzer(&fakeOracle{}), s, Options{
		Address:  "me@example.com",
		Interval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, 1, mailbox.callCount())
}

func TestEndToEndReceiptPipeline(t *testing.T) {
	s := openStore(t)

	// two messages of one thread plus an unrelated newsletter thread
	newsletter := gmail.RawMessage{
		ID:       "m9",
		ThreadID: "t9",
		From:     "news@daily.example",
		To:       "me@example.com",
		Subject:  "This week in coffee",
		Body:     "Beans are great.",
		SentAt:   now.Add(-30 * time.Minute),
		Read:     true,
	}
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		receiptMessage("m1", "t1", now.Add(-2*time.Hour)),
		receiptMessage("m2", "t1", now.Add(-time.Hour)),
		newsletter,
	}}

	oracle := &receiptOracle{}
	tr := newTracker(mailbox, oracle, s)

	stats, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 2, stats.Conversations)
	assert.Equal(t, 1, stats.Stored)
	assert.Equal(t, 1, stats.NonTransactional)

	rows, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].MessageID)
	assert.Equal(t, 4.50, rows[0].Amount)
	assert.Contains(t, rows[0].RawData, strings.TrimSpace(thread.MessageSeparator))

	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// receiptOracle classifies by content: only bodies mentioning a payment
// are transactional.
type receiptOracle struct{}

func (receiptOracle) Classify(ctx context.Context, prompt string) (analyzer.Classification, error) {
	transactional := false
	if containsPayment(prompt) {
		transactional = true
	}
	return analyzer.Classification{IsTransactional: transactional, Confidence: 0.9, Reasoning: "content match"}, nil
}

func (receiptOracle) Extract(ctx context.Context, prompt string) (analyzer.Extraction, error) {
	return analyzer.Extraction{
		Sender:          "billing@coffeeco.example",
		Subject:         "Your receipt from CoffeeCo",
		TransactionDate: "2025-06-10",
		Amount:          4.50,
		Description:     "Purchase - CoffeeCo - Latte",
		Category:        "Food",
	}, nil
}

func containsPayment(prompt string) bool {
	return strings.Contains(prompt, "You paid")
}

// paymentOracle admits anything and invents its own identity fields, so a
// stored record proves the pipeline replaced them with the real ones.
type paymentOracle struct{}

func (paymentOracle) Classify(ctx context.Context, prompt string) (analyzer.Classification, error) {
	return analyzer.Classification{IsTransactional: true, Confidence: 0.9, Reasoning: "payment language"}, nil
}

func (paymentOracle) Extract(ctx context.Context, prompt string) (analyzer.Extraction, error) {
	return analyzer.Extraction{
		MessageID:       "invented-id",
		ThreadID:        "invented-thread",
		TransactionDate: "2025-06-10",
		Amount:          12.0,
		Description:     "Payment - CoffeeCo - Coffee",
	}, nil
}

func TestPartiallyReadThreadStoredWithRealIdentity(t *testing.T) {
	s := openStore(t)
	mailbox := &fakeMailbox{msgs: []gmail.RawMessage{
		{
			ID:       "m1",
			ThreadID: "t1",
			From:     "billing@coffeeco.example",
			To:       "me@example.com",
			Subject:  "Payment confirmation",
			Body:     "Your payment of $12.00 to CoffeeCo.",
			SentAt:   now.Add(-2 * time.Hour),
			Read:     false,
		},
		{
			ID:       "m2",
			ThreadID: "t1",
			From:     "billing@coffeeco.example",
			To:       "me@example.com",
			Subject:  "Payment confirmation",
			SentAt:   now.Add(-time.Hour),
			Read:     true,
		},
	}}

	tr := newTracker(mailbox, paymentOracle{}, s)
	stats, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conversations)
	assert.Equal(t, 1, stats.Stored)

	rows, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	tx := rows[0]
	assert.Equal(t, "m1", tx.MessageID)
	assert.Equal(t, "t1", tx.ThreadID)
	assert.Equal(t, 12.0, tx.Amount)
	assert.Equal(t, "Payment - CoffeeCo - Coffee", tx.Description)
	// both segments survive aggregation, the empty one as the placeholder
	assert.Contains(t, tx.RawData, "Your payment of $12.00 to CoffeeCo.")
	assert.Contains(t, tx.RawData, thread.EmptyBodySentinel)
}
