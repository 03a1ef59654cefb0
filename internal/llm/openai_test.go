package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailledger/internal/analyzer"
)

func TestNewOracleRequiresKey(t *testing.T) {
	_, err := NewOpenAIOracle("", "gpt-4o-mini")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewOpenAIOracle("   ", "gpt-4o-mini")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewOracleDefaultModel(t *testing.T) {
	o, err := NewOpenAIOracle("sk-test", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, o.model)

	o, err = NewOpenAIOracle("sk-test", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", o.model)
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{"plain", `{"is_transactional":true,"confidence":0.9,"reasoning":"receipt"}`},
		{"fenced", "```json\n{\"is_transactional\":true,\"confidence\":0.9,\"reasoning\":\"receipt\"}\n```"},
		{"bare fence", "```\n{\"is_transactional\":true,\"confidence\":0.9,\"reasoning\":\"receipt\"}\n```"},
		{"padded", "  {\"is_transactional\":true,\"confidence\":0.9,\"reasoning\":\"receipt\"}  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out analyzer.Classification
			require.NoError(t, decodeJSON(tt.resp, &out))
			assert.True(t, out.IsTransactional)
			assert.Equal(t, 0.9, out.Confidence)
			assert.Equal(t, "receipt", out.Reasoning)
		})
	}

	var out analyzer.Classification
	assert.Error(t, decodeJSON("not json", &out))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.5))
	assert.Equal(t, 1.0, clamp01(1.5))
	assert.Equal(t, 0.42, clamp01(0.42))
}

func TestSchemasCoverStageFields(t *testing.T) {
	props := classificationSchema["properties"].(map[string]any)
	for _, field := range []string{"is_transactional", "confidence", "reasoning"} {
		assert.Contains(t, props, field)
	}

	props = extractionSchema["properties"].(map[string]any)
	for _, field := range []string{"sender", "subject", "transaction_date", "amount", "description", "category"} {
		assert.Contains(t, props, field)
	}
}
