package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	defaultExtractorModel   = "gpt-4o-mini"
	defaultExtractorTimeout = 45 * time.Second
)

// extractorSystemPrompt demands strict JSON so the response can be validated
// against a schema before anything is written to storage.
const extractorSystemPrompt = `You extract durable facts from conversation excerpts.

Identify decisions, commitments, preferences, insights, and facts stated in the
text. Respond with ONLY valid JSON in exactly this shape, no markdown fences,
no extra commentary:

{
  "facts": [
    {
      "kind": "decision|commitment|preference|insight|fact",
      "subject": "short topic key, e.g. 'deploy cadence' or 'user timezone'",
      "content": "one-sentence statement of the fact",
      "confidence": 0.0,
      "deadline": "YYYY-MM-DD or empty string"
    }
  ]
}

Only include facts actually present in the text. Use "deadline" only for
commitments with an explicit date. Confidence is your certainty from 0 to 1.
If nothing durable was said, return {"facts": []}.`

// extractionSchema validates the extractor's JSON payload before it is
// trusted. Compiled once at package init; the schema source is fixed, so a
// compile failure is a programming error.
var extractionSchema = jsonschema.MustCompileString("extraction.json", `{
	"type": "object",
	"required": ["facts"],
	"properties": {
		"facts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["kind", "subject", "content", "confidence"],
				"properties": {
					"kind": {
						"type": "string",
						"enum": ["decision", "commitment", "preference", "insight", "fact"]
					},
					"subject": {"type": "string", "minLength": 1},
					"content": {"type": "string", "minLength": 1},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"deadline": {"type": "string"}
				}
			}
		}
	}
}`)

// LLMExtractorConfig configures the LLM-based fact extractor.
type LLMExtractorConfig struct {
	// APIKey is the bearer token for authentication.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 45 s.
	Timeout time.Duration
}

// LLMExtractor implements Extractor using an OpenAI-compatible chat
// completions API with a strict-JSON prompt. Responses are validated against
// a JSON schema; malformed output is rejected rather than partially applied.
type LLMExtractor struct {
	cfg    LLMExtractorConfig
	client *http.Client
}

// NewLLMExtractor creates an Extractor backed by an OpenAI-compatible chat API.
func NewLLMExtractor(cfg LLMExtractorConfig) *LLMExtractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSummarizerBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultExtractorModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultExtractorTimeout
	}
	return &LLMExtractor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type extractionPayload struct {
	Facts []ExtractedFact `json:"facts"`
}

// Extract asks the LLM for durable facts in the chunk text and validates the
// JSON reply against the extraction schema.
func (e *LLMExtractor) Extract(ctx context.Context, chunkText string) ([]ExtractedFact, error) {
	if strings.TrimSpace(chunkText) == "" {
		return nil, nil
	}

	body := chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: extractorSystemPrompt},
			{Role: "user", Content: chunkText},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	content, err := completeChat(ctx, e.client, e.cfg.BaseURL, e.cfg.APIKey, body)
	if err != nil {
		return nil, fmt.Errorf("extractor llm: %w", err)
	}

	facts, err := parseExtraction(content)
	if err != nil {
		return nil, fmt.Errorf("extractor llm: %w", err)
	}
	return facts, nil
}

// parseExtraction decodes and schema-validates an extraction reply. Models
// occasionally wrap JSON in markdown fences despite instructions, so those
// are stripped first.
func parseExtraction(content string) ([]ExtractedFact, error) {
	content = stripJSONFences(content)

	var raw any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("decode extraction JSON: %w", err)
	}
	if err := extractionSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("validate extraction JSON: %w", err)
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}
	return payload.Facts, nil
}

// stripJSONFences removes a surrounding markdown code fence if present.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	return s
}

// Compile-time interface satisfaction check.
var _ Extractor = (*LLMExtractor)(nil)
