package memory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ChunkerConfig bounds the chunks produced from the primary buffer.
type ChunkerConfig struct {
	// MinTokens closes a chunk once its owned messages reach this size.
	// Default: 400.
	MinTokens int

	// MaxTokens is the hard ceiling a chunk should not exceed; the packer
	// closes early rather than cross it, as long as the minimum message
	// count is met. Default: 512.
	MaxTokens int

	// MinMessages is the smallest meaningful chunk. A trailing remainder
	// below this stays in the buffer. Default: 3.
	MinMessages int

	// MaxMessages closes a chunk regardless of token count. Default: 10.
	MaxMessages int

	// OverlapMinFrac and OverlapMaxFrac bound the token share of a chunk's
	// tail that is carried into the next chunk's content for continuity.
	// Overlap is content-only: the messages stay owned by the earlier chunk.
	// Defaults: 0.10 and 0.20.
	OverlapMinFrac float64
	OverlapMaxFrac float64

	// TopicLimit caps the topic labels stored per chunk. Default: 5.
	TopicLimit int
}

// DefaultChunkerConfig returns a ChunkerConfig with the documented defaults.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MinTokens:      400,
		MaxTokens:      512,
		MinMessages:    3,
		MaxMessages:    10,
		OverlapMinFrac: 0.10,
		OverlapMaxFrac: 0.20,
		TopicLimit:     5,
	}
}

func (c ChunkerConfig) withDefaults() ChunkerConfig {
	def := DefaultChunkerConfig()
	if c.MinTokens <= 0 {
		c.MinTokens = def.MinTokens
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.MinMessages <= 0 {
		c.MinMessages = def.MinMessages
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = def.MaxMessages
	}
	if c.OverlapMinFrac <= 0 {
		c.OverlapMinFrac = def.OverlapMinFrac
	}
	if c.OverlapMaxFrac <= 0 {
		c.OverlapMaxFrac = def.OverlapMaxFrac
	}
	if c.TopicLimit <= 0 {
		c.TopicLimit = def.TopicLimit
	}
	return c
}

// chunkPlan is one packed chunk before persistence: the messages it owns
// plus the overlap tail carried from the previous chunk.
type chunkPlan struct {
	owned   []Message
	overlap []Message
}

// packMessages splits buffered messages into chunk plans. A chunk closes
// when its owned tokens reach MinTokens or its message count reaches
// MaxMessages, never with fewer than MinMessages; it closes early when
// adding the next message would push it past MaxTokens and the minimum is
// already met. The unfinished tail is returned as remainder and stays
// buffered — unless force is set, in which case a tail of at least
// MinMessages becomes a final undersized chunk.
func packMessages(msgs []Message, cfg ChunkerConfig, force bool) (plans []chunkPlan, remainder []Message) {
	cfg = cfg.withDefaults()

	var current []Message
	tokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		plan := chunkPlan{owned: current}
		if n := len(plans); n > 0 {
			plan.overlap = overlapTail(plans[n-1].owned, cfg)
		}
		plans = append(plans, plan)
		current = nil
		tokens = 0
	}

	for _, m := range msgs {
		mt := messageTokens(m)
		if len(current) >= cfg.MinMessages && tokens+mt > cfg.MaxTokens {
			flush()
		}
		current = append(current, m)
		tokens += mt
		if len(current) >= cfg.MinMessages &&
			(tokens >= cfg.MinTokens || len(current) >= cfg.MaxMessages) {
			flush()
		}
	}

	if force && len(current) >= cfg.MinMessages {
		flush()
	} else {
		remainder = current
	}
	return plans, remainder
}

// overlapTail selects the trailing messages of a chunk whose combined tokens
// land inside the configured overlap fraction of the chunk's size. Returns
// nil when even one message would exceed the ceiling.
func overlapTail(owned []Message, cfg ChunkerConfig) []Message {
	total := messagesTokens(owned)
	minTok := int(float64(total) * cfg.OverlapMinFrac)
	maxTok := int(float64(total) * cfg.OverlapMaxFrac)

	tail := 0
	tokens := 0
	for i := len(owned) - 1; i >= 0; i-- {
		mt := messageTokens(owned[i])
		if tokens+mt > maxTok {
			break
		}
		tokens += mt
		tail++
		if tokens >= minTok {
			break
		}
	}
	if tail == 0 || tail == len(owned) {
		return nil
	}
	return owned[len(owned)-tail:]
}

// Chunker turns the primary buffer into archive chunks: pack, summarize,
// embed, persist — the whole pass atomically, so an embedding failure leaves
// the buffer untouched for the next trigger.
type Chunker struct {
	config     ChunkerConfig
	archive    *Archive
	embedder   Embedder
	summarizer Summarizer
	model      string
	logger     *slog.Logger
}

// NewChunker creates a Chunker. embedModel labels stored embeddings so a
// model change is detectable later; pass "" with a noop embedder.
func NewChunker(cfg ChunkerConfig, archive *Archive, embedder Embedder, summarizer Summarizer, embedModel string, logger *slog.Logger) *Chunker {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if summarizer == nil {
		summarizer = NoopSummarizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{
		config:     cfg.withDefaults(),
		archive:    archive,
		embedder:   embedder,
		summarizer: summarizer,
		model:      embedModel,
		logger:     logger,
	}
}

// Run executes one chunking pass over the conversation's buffer. forced
// passes chunk everything above the minimum even when no threshold tripped,
// and report ErrNothingToChunk when the buffer is too small; triggered
// passes treat a too-small buffer as a quiet no-op.
//
// Returns the created chunks and the messages left buffered after the pass.
func (c *Chunker) Run(ctx context.Context, conversationID string, trigger ChunkTrigger) (created []Chunk, remainder []Message, err error) {
	msgs, err := c.archive.BufferedMessages(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	if len(msgs) < c.config.MinMessages {
		if trigger == TriggerForced {
			return nil, msgs, ErrNothingToChunk
		}
		return nil, msgs, nil
	}

	// The message that fired an idle-gap or topic-shift trigger belongs to
	// the next segment: everything before it gets chunked, it stays.
	pool := msgs
	var held []Message
	force := trigger == TriggerForced
	switch trigger {
	case TriggerIdleGap, TriggerTopicShift:
		if len(msgs) > c.config.MinMessages {
			pool, held = msgs[:len(msgs)-1], msgs[len(msgs)-1:]
		}
		force = true
	}

	plans, remainder := packMessages(pool, c.config, force)
	remainder = append(remainder, held...)
	if len(plans) == 0 {
		if trigger == TriggerForced {
			return nil, remainder, ErrNothingToChunk
		}
		return nil, remainder, nil
	}

	chunks := make([]Chunk, 0, len(plans))
	vectors := make(map[string][]float32, len(plans))
	for _, plan := range plans {
		chunk, vec, err := c.buildChunk(ctx, conversationID, plan)
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, chunk)
		if vec != nil {
			vectors[chunk.ID] = vec
		}
	}

	if err := c.archive.PersistChunks(ctx, chunks, vectors, c.model); err != nil {
		return nil, nil, err
	}

	c.logger.Info("chunker: buffer chunked",
		"conversation_id", conversationID,
		"trigger", string(trigger),
		"chunks", len(chunks),
		"remainder", len(remainder),
	)
	return chunks, remainder, nil
}

// buildChunk assembles one chunk from its plan: transcript with overlap
// prefix, summary, topics, importance, and embedding. The summary is
// best-effort; the embedding is not — an embed failure aborts the pass.
func (c *Chunker) buildChunk(ctx context.Context, conversationID string, plan chunkPlan) (Chunk, []float32, error) {
	transcript := FormatTranscript(plan.owned)
	content := transcript
	if len(plan.overlap) > 0 {
		content = FormatTranscript(plan.overlap) + "\n" + transcript
	}

	summary, err := c.summarizer.Summarize(ctx, plan.owned)
	if err != nil {
		// Degrade to a truncated transcript rather than lose the chunk.
		c.logger.Warn("chunker: summarization failed, using fallback",
			"conversation_id", conversationID, "error", err)
		summary = fallbackSummary(transcript)
	}

	embedText := summary
	if embedText == "" {
		embedText = content
	}
	vec, err := c.embedder.Embed(ctx, embedText)
	if err != nil {
		return Chunk{}, nil, &DependencyError{Op: "embed", Err: err}
	}

	chunk := Chunk{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Summary:        summary,
		TokenCount:     messagesTokens(plan.owned),
		MessageCount:   len(plan.owned),
		StartSeq:       plan.owned[0].Seq,
		EndSeq:         plan.owned[len(plan.owned)-1].Seq,
		Topics:         ExtractTopics(transcript, c.config.TopicLimit),
		Importance:     ScoreImportance(transcript),
		CreatedAt:      time.Now().UTC(),
	}
	return chunk, vec, nil
}

// fallbackSummary truncates a transcript to a short excerpt when no
// summarizer output is available.
func fallbackSummary(transcript string) string {
	const maxLen = 280
	if len(transcript) <= maxLen {
		return transcript
	}
	return transcript[:maxLen] + "…"
}

// errIsTransient reports whether a chunking error is worth retrying on the
// next trigger rather than escalating immediately.
func errIsTransient(err error) bool {
	var depErr *DependencyError
	return errors.As(err, &depErr)
}
