package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/mailledger/internal/analyzer"
	"github.com/teemow/mailledger/internal/instrumentation"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// requestTimeout bounds a single completion call. Retries across calls are
// the analyzer's responsibility.
const requestTimeout = 60 * time.Second

// ErrNoAPIKey is returned when the oracle is constructed without a key.
var ErrNoAPIKey = errors.New("llm: api key not configured")

const classifySystem = "You are an email analysis assistant. Respond with JSON matching the requested schema, nothing else."

// OpenAIOracle answers classification and extraction prompts. It
// implements analyzer.Oracle.
type OpenAIOracle struct {
	client openai.Client
	model  string
}

// NewOpenAIOracle builds an oracle for the given model. The key must be
// non-empty; resolving it from config or environment happens upstream.
func NewOpenAIOracle(apiKey, model string) (*OpenAIOracle, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &OpenAIOracle{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Classify asks whether the prompt's conversation contains a financial
// transaction.
func (o *OpenAIOracle) Classify(ctx context.Context, prompt string) (analyzer.Classification, error) {
	var out analyzer.Classification
	raw, err := o.complete(ctx, prompt, "email_classification", classificationSchema)
	if err != nil {
		return out, fmt.Errorf("llm: classify: %w", err)
	}
	if err := decodeJSON(raw, &out); err != nil {
		return out, fmt.Errorf("llm: parse classification: %w", err)
	}
	out.Confidence = clamp01(out.Confidence)
	return out, nil
}

// Extract pulls the structured transaction fields from the prompt's
// conversation.
func (o *OpenAIOracle) Extract(ctx context.Context, prompt string) (analyzer.Extraction, error) {
	var out analyzer.Extraction
	raw, err := o.complete(ctx, prompt, "transaction_data", extractionSchema)
	if err != nil {
		return out, fmt.Errorf("llm: extract: %w", err)
	}
	if err := decodeJSON(raw, &out); err != nil {
		return out, fmt.Errorf("llm: parse extraction: %w", err)
	}
	return out, nil
}

func (o *OpenAIOracle) complete(ctx context.Context, prompt, schemaName string, schema map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	ctx, span := instrumentation.StartSpan(ctx, "oracle.completion",
		attribute.String("oracle.schema", schemaName),
		attribute.String("oracle.model", o.model))
	defer span.End()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifySystem),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Strict: openai.Bool(true),
					Schema: schema,
				},
			},
		},
	})
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		err = errors.New("empty completion")
		instrumentation.SetSpanError(span, err)
		return "", err
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		err = errors.New("empty completion content")
		instrumentation.SetSpanError(span, err)
		return "", err
	}
	instrumentation.SetSpanSuccess(span)
	return content, nil
}

var classificationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_transactional": map[string]any{
			"type":        "boolean",
			"description": "Whether the email contains a financial transaction",
		},
		"confidence": map[string]any{
			"type":        "number",
			"description": "Confidence score (0.0-1.0) of the classification",
		},
		"reasoning": map[string]any{
			"type":        "string",
			"description": "Brief explanation for the classification decision",
		},
	},
	"required":             []string{"is_transactional", "confidence", "reasoning"},
	"additionalProperties": false,
}

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"message_id": map[string]any{"type": "string"},
		"thread_id":  map[string]any{"type": "string"},
		"sender": map[string]any{
			"type":        "string",
			"description": "Sender's email address",
		},
		"subject": map[string]any{"type": "string"},
		"transaction_date": map[string]any{
			"type":        "string",
			"description": "Transaction date in ISO format (YYYY-MM-DD)",
		},
		"amount": map[string]any{
			"type":        "number",
			"description": "Transaction amount as a float value",
		},
		"description": map[string]any{
			"type":        "string",
			"description": "Brief transaction description (max 100 characters)",
		},
		"category": map[string]any{
			"type":        "string",
			"description": "Short spending category",
		},
		"raw_data": map[string]any{"type": "string"},
	},
	"required": []string{
		"message_id", "thread_id", "sender", "subject",
		"transaction_date", "amount", "description", "category", "raw_data",
	},
	"additionalProperties": false,
}

// decodeJSON unmarshals resp into v, tolerating markdown code fences some
// models wrap around JSON output.
func decodeJSON(resp string, v any) error {
	resp = strings.TrimSpace(resp)
	if strings.HasPrefix(resp, "```") {
		resp = strings.TrimPrefix(resp, "```json")
		resp = strings.TrimPrefix(resp, "```")
		resp = strings.TrimSuffix(strings.TrimSpace(resp), "```")
		resp = strings.TrimSpace(resp)
	}
	return json.Unmarshal([]byte(resp), v)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
