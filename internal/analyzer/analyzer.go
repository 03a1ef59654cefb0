package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/mailledger/internal/instrumentation"
	"github.com/teemow/mailledger/internal/logging"
	"github.com/teemow/mailledger/internal/store"
	"github.com/teemow/mailledger/internal/thread"
)

// DescriptionLimit caps the extracted description length.
const DescriptionLimit = 100

// Classification is the verdict of the classification stage.
type Classification struct {
	IsTransactional bool    `json:"is_transactional"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

// Extraction holds the structured transaction fields produced by the
// extraction stage. MessageID, ThreadID and RawData are overwritten with
// authoritative values from the conversation after the oracle responds;
// the oracle is never trusted for identity fields.
type Extraction struct {
	MessageID       string  `json:"message_id"`
	ThreadID        string  `json:"thread_id"`
	Sender          string  `json:"sender"`
	Subject         string  `json:"subject"`
	TransactionDate string  `json:"transaction_date"`
	Amount          float64 `json:"amount"`
	Description     string  `json:"description"`
	Category        string  `json:"category"`
	RawData         string  `json:"raw_data"`
}

// Classifier answers whether a conversation is transactional.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (Classification, error)
}

// Extractor pulls structured transaction fields out of a conversation.
type Extractor interface {
	Extract(ctx context.Context, prompt string) (Extraction, error)
}

// Oracle is the combined capability both stages need.
type Oracle interface {
	Classifier
	Extractor
}

// Analyzer runs the two stage pipeline for a single conversation.
type Analyzer struct {
	oracle  Oracle
	retry   RetryPolicy
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// New returns an Analyzer using the given oracle and retry policy. Both
// logger and metrics may be nil.
func New(oracle Oracle, retry RetryPolicy, logger *slog.Logger, metrics *instrumentation.Metrics) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithOperation(logger, "analyze")
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	return &Analyzer{oracle: oracle, retry: retry, logger: logger, metrics: metrics}
}

// ValidateConversation rejects conversations missing the fields both
// prompts depend on. A rejection here is a data integrity failure, not a
// stage failure, so it happens before any oracle call.
func ValidateConversation(conv *thread.Conversation) error {
	switch {
	case conv == nil:
		return fmt.Errorf("nil conversation")
	case conv.MessageID == "":
		return fmt.Errorf("conversation missing message id")
	case conv.ThreadID == "":
		return fmt.Errorf("conversation missing thread id")
	case conv.From == "":
		return fmt.Errorf("conversation %s missing sender", conv.ThreadID)
	case conv.Subject == "":
		return fmt.Errorf("conversation %s missing subject", conv.ThreadID)
	case conv.LatestAt.IsZero():
		return fmt.Errorf("conversation %s missing timestamp", conv.ThreadID)
	case conv.Body == "":
		return fmt.Errorf("conversation %s missing body", conv.ThreadID)
	}
	return nil
}

// Analyze classifies conv and, when transactional, extracts a transaction
// record. It returns (nil, nil) for non-transactional conversations and
// (nil, err) when a stage exhausts its retries or conv fails validation.
func (a *Analyzer) Analyze(ctx context.Context, conv *thread.Conversation) (*store.Transaction, error) {
	if err := ValidateConversation(conv); err != nil {
		return nil, err
	}

	classification, err := a.classify(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("classify conversation %s: %w", conv.ThreadID, err)
	}
	if !classification.IsTransactional {
		a.logger.Info("conversation is not transactional",
			logging.ThreadID(conv.ThreadID),
			logging.Domain(conv.From),
			slog.Float64("confidence", classification.Confidence))
		return nil, nil
	}

	extraction, err := a.extract(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("extract conversation %s: %w", conv.ThreadID, err)
	}
	return a.toTransaction(conv, extraction)
}

func (a *Analyzer) classify(ctx context.Context, conv *thread.Conversation) (Classification, error) {
	ctx, span := instrumentation.StartStageSpan(ctx, instrumentation.StageClassify,
		attribute.String(instrumentation.SpanAttrThreadID, conv.ThreadID))
	defer span.End()

	prompt := ClassificationPrompt(conv)
	var result Classification
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		out, err := a.oracle.Classify(ctx, prompt)
		if err != nil {
			return err
		}
		if err := validateClassification(out); err != nil {
			return err
		}
		result = out
		return nil
	}, a.onRetry(conv, logging.StageClassify))
	a.metrics.RecordOracleCall(ctx, instrumentation.StageClassify, callStatus(err))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return Classification{}, err
	}
	instrumentation.SetSpanSuccess(span)
	a.logger.Info("conversation classified",
		logging.ThreadID(conv.ThreadID),
		logging.Stage(logging.StageClassify),
		slog.Bool("transactional", result.IsTransactional),
		slog.Float64("confidence", result.Confidence))
	return result, nil
}

func (a *Analyzer) extract(ctx context.Context, conv *thread.Conversation) (Extraction, error) {
	ctx, span := instrumentation.StartStageSpan(ctx, instrumentation.StageExtract,
		attribute.String(instrumentation.SpanAttrThreadID, conv.ThreadID))
	defer span.End()

	prompt := ExtractionPrompt(conv)
	var result Extraction
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		out, err := a.oracle.Extract(ctx, prompt)
		if err != nil {
			return err
		}
		if err := validateExtraction(out); err != nil {
			return err
		}
		result = out
		return nil
	}, a.onRetry(conv, logging.StageExtract))
	a.metrics.RecordOracleCall(ctx, instrumentation.StageExtract, callStatus(err))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return Extraction{}, err
	}
	instrumentation.SetSpanSuccess(span)
	return result, nil
}

func (a *Analyzer) onRetry(conv *thread.Conversation, stage string) func(int, error) {
	return func(attempt int, err error) {
		a.metrics.RecordOracleRetry(context.Background(), stage)
		a.logger.Warn("stage failed, retrying",
			logging.ThreadID(conv.ThreadID),
			logging.Stage(stage),
			logging.Attempt(attempt),
			logging.Err(err))
	}
}

func callStatus(err error) string {
	if err != nil {
		return instrumentation.ResultError
	}
	return instrumentation.ResultSuccess
}

// toTransaction converts an extraction into a persistable record,
// overwriting the identity and audit fields with values the pipeline
// already knows to be correct.
func (a *Analyzer) toTransaction(conv *thread.Conversation, ext Extraction) (*store.Transaction, error) {
	raw, err := conv.EncodeJSON()
	if err != nil {
		return nil, fmt.Errorf("encode conversation %s: %w", conv.ThreadID, err)
	}

	date, err := time.Parse(store.DateLayout, ext.TransactionDate)
	if err != nil {
		// fall back to the conversation date rather than dropping the record
		a.logger.Warn("unparseable transaction date, using conversation date",
			logging.ThreadID(conv.ThreadID),
			slog.String("transaction_date", ext.TransactionDate))
		date = conv.LatestAt
	}

	sender := ext.Sender
	if sender == "" {
		sender = conv.From
	}
	subject := ext.Subject
	if subject == "" {
		subject = conv.Subject
	}

	description := ext.Description
	if len(description) > DescriptionLimit {
		description = description[:DescriptionLimit]
	}

	return &store.Transaction{
		MessageID:   conv.MessageID,
		ThreadID:    conv.ThreadID,
		Sender:      sender,
		Subject:     subject,
		Date:        date,
		Amount:      ext.Amount,
		Description: description,
		Category:    ext.Category,
		RawData:     raw,
	}, nil
}

func validateClassification(c Classification) error {
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("classification confidence %v out of range", c.Confidence)
	}
	if strings.TrimSpace(c.Reasoning) == "" {
		return fmt.Errorf("classification missing reasoning")
	}
	return nil
}

func validateExtraction(e Extraction) error {
	switch {
	case strings.TrimSpace(e.TransactionDate) == "":
		return fmt.Errorf("extraction missing transaction date")
	case strings.TrimSpace(e.Description) == "":
		return fmt.Errorf("extraction missing description")
	}
	return nil
}
