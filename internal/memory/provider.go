package memory

import "context"

// Embedder produces vector embeddings for text. Implementations range from
// a no-op stub (default) to an OpenAI-compatible embeddings API for
// production use. When the embedder is no-op, similarity search and the
// topic-shift chunking trigger are disabled.
type Embedder interface {
	// Embed produces a vector embedding for the given text.
	// Returns nil with no error when embedding is not available (noop).
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer produces concise summaries of message transcripts. Summaries
// are stored on archive chunks and embedded for similarity search; the
// compaction engine also uses the summarizer to merge aging chunks.
type Summarizer interface {
	// Summarize produces a concise summary of a transcript.
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// Extractor distills durable facts (decisions, commitments, preferences,
// insights, plain facts) out of a chunk. The engine persists the returned
// facts as first-class records retained independently of chunk lifecycle.
type Extractor interface {
	// Extract scans chunk text for durable facts. An empty slice is a valid
	// result — most chunks contain nothing worth keeping forever.
	Extract(ctx context.Context, chunkText string) ([]ExtractedFact, error)
}

// ExtractedFact is one fact reported by an Extractor, before the engine
// applies permanence and supersession rules.
type ExtractedFact struct {
	Kind       string  `json:"kind"`
	Subject    string  `json:"subject"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	// Deadline is an optional RFC 3339 date detected for commitments.
	Deadline string `json:"deadline,omitempty"`
}

// NoopEmbedder is the default embedder: it produces no vectors, which
// disables similarity search while leaving the rest of the engine
// (buffering, chunking, sequential recall) fully functional.
type NoopEmbedder struct{}

// Embed returns nil with no error, signalling "no embedding available".
func (NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

// NoopSummarizer is the default summarizer: chunks are stored without
// summaries and compaction falls back to concatenating input summaries.
type NoopSummarizer struct{}

// Summarize returns an empty summary with no error.
func (NoopSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	return "", nil
}

// NoopExtractor is the default extractor: no facts are recorded.
type NoopExtractor struct{}

// Extract returns no facts with no error.
func (NoopExtractor) Extract(ctx context.Context, chunkText string) ([]ExtractedFact, error) {
	return nil, nil
}

// Compile-time interface satisfaction checks.
var (
	_ Embedder   = NoopEmbedder{}
	_ Summarizer = NoopSummarizer{}
	_ Extractor  = NoopExtractor{}
)
