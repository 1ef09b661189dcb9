package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultSummarizerBase    = "https://api.openai.com/v1"
	defaultSummarizerModel   = "gpt-4o-mini"
	defaultSummarizerTimeout = 30 * time.Second

	// summarizerSystemPrompt asks for the information most useful for fuzzy
	// long-term recall: decisions, commitments, and concrete details.
	summarizerSystemPrompt = "Summarise this conversation excerpt in 2-3 sentences, focusing on decisions made, commitments given, and concrete details worth remembering."
)

// LLMSummarizerConfig configures the LLM-based summarizer.
type LLMSummarizerConfig struct {
	// APIKey is the bearer token for authentication.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini (cheap, fast).
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// LLMSummarizer implements Summarizer using an OpenAI-compatible chat
// completions API. It produces the short chunk summaries that get embedded
// for retrieval and merged during compaction.
type LLMSummarizer struct {
	cfg    LLMSummarizerConfig
	client *http.Client
}

// NewLLMSummarizer creates a Summarizer backed by an OpenAI-compatible chat
// API. The returned summarizer is safe for concurrent use.
func NewLLMSummarizer(cfg LLMSummarizerConfig) *LLMSummarizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSummarizerBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultSummarizerModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultSummarizerTimeout
	}
	return &LLMSummarizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal chat completions wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

// Summarize produces a concise summary of a transcript by sending it to the
// LLM with a summarization system prompt.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	msgs := []chatMessage{
		{Role: "system", Content: summarizerSystemPrompt},
		{Role: "user", Content: FormatTranscript(messages)},
	}

	body := chatRequest{
		Model:     s.cfg.Model,
		Messages:  msgs,
		MaxTokens: 256,
	}

	content, err := completeChat(ctx, s.client, s.cfg.BaseURL, s.cfg.APIKey, body)
	if err != nil {
		return "", fmt.Errorf("summarizer llm: %w", err)
	}
	return content, nil
}

// completeChat posts a chat completion request and returns the first choice's
// trimmed content. Shared by the summarizer and the extractor.
func completeChat(ctx context.Context, client *http.Client, baseURL, apiKey string, body chatRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error (%s): %s", chatResp.Error.Type, chatResp.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty completion content")
	}
	return content, nil
}

// FormatTranscript renders messages as a readable role-prefixed transcript.
func FormatTranscript(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// Compile-time interface satisfaction check.
var _ Summarizer = (*LLMSummarizer)(nil)
