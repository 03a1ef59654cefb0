// Package llm implements the analysis oracle on top of the OpenAI chat
// completions API with JSON schema structured outputs, so both stage
// responses arrive as machine-parseable JSON rather than free text.
package llm
