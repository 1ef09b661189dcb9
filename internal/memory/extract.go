package memory

import (
	"context"
	"log/slog"
	"time"
)

// ExtractionConfig tunes the fact-extraction sweep.
type ExtractionConfig struct {
	// BatchLimit caps how many chunks one sweep processes per conversation,
	// keeping LLM spend bounded. Default: 25.
	BatchLimit int

	// MinConfidence drops facts the extractor is not sure about.
	// Default: 0.5.
	MinConfidence float64

	// CommitmentTTL is the default lifetime of a commitment with no explicit
	// deadline. Default: 30 days.
	CommitmentTTL time.Duration
}

// DefaultExtractionConfig returns an ExtractionConfig with the documented
// defaults.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		BatchLimit:    25,
		MinConfidence: 0.5,
		CommitmentTTL: 30 * 24 * time.Hour,
	}
}

func (c ExtractionConfig) withDefaults() ExtractionConfig {
	def := DefaultExtractionConfig()
	if c.BatchLimit <= 0 {
		c.BatchLimit = def.BatchLimit
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.CommitmentTTL <= 0 {
		c.CommitmentTTL = def.CommitmentTTL
	}
	return c
}

// FactExtractor runs the background pass that distills durable facts out of
// archive chunks. Each chunk is scanned exactly once (tracked in the
// extraction log); a failed scan is simply retried on the next sweep.
type FactExtractor struct {
	config    ExtractionConfig
	archive   *Archive
	extractor Extractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewFactExtractor creates a FactExtractor.
func NewFactExtractor(cfg ExtractionConfig, archive *Archive, extractor Extractor, logger *slog.Logger) *FactExtractor {
	if extractor == nil {
		extractor = NoopExtractor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FactExtractor{
		config:    cfg.withDefaults(),
		archive:   archive,
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
	}
}

// SweepConversation scans up to BatchLimit unextracted chunks in one
// conversation. Returns how many facts were recorded.
func (f *FactExtractor) SweepConversation(ctx context.Context, conversationID string) (int, error) {
	chunks, err := f.archive.UnextractedChunks(ctx, conversationID, f.config.BatchLimit)
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range chunks {
		n, err := f.ExtractChunk(ctx, &chunks[i])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ExtractChunk runs extraction on a single chunk and persists the results,
// marking the chunk scanned even when nothing durable was found. Safe to
// call on an already-scanned chunk: the extraction log insert is idempotent
// and supersession keeps fact history consistent.
func (f *FactExtractor) ExtractChunk(ctx context.Context, chunk *Chunk) (int, error) {
	facts, err := f.extractor.Extract(ctx, chunk.Content)
	if err != nil {
		return 0, &DependencyError{Op: "extract", Err: err}
	}

	infos := make([]ExtractedInfo, 0, len(facts))
	for _, fact := range facts {
		info, ok := f.applyRules(fact, chunk)
		if !ok {
			continue
		}
		infos = append(infos, info)
	}

	if err := f.archive.InsertExtracted(ctx, chunk.ID, infos); err != nil {
		return 0, err
	}

	if len(infos) > 0 {
		f.logger.Info("extract: recorded facts",
			"conversation_id", chunk.ConversationID,
			"chunk_id", chunk.ID,
			"facts", len(infos),
		)
	}
	return len(infos), nil
}

// applyRules converts a raw extractor fact into a persistable record:
// unknown kinds and low-confidence facts are dropped, preferences and plain
// facts are marked permanent, and commitments get an expiry from their
// deadline or the default TTL.
func (f *FactExtractor) applyRules(fact ExtractedFact, chunk *Chunk) (ExtractedInfo, bool) {
	switch fact.Kind {
	case KindDecision, KindCommitment, KindPreference, KindInsight, KindFact:
	default:
		f.logger.Warn("extract: dropping fact with unknown kind",
			"kind", fact.Kind, "chunk_id", chunk.ID)
		return ExtractedInfo{}, false
	}
	if fact.Confidence < f.config.MinConfidence {
		return ExtractedInfo{}, false
	}
	if fact.Content == "" {
		return ExtractedInfo{}, false
	}

	info := ExtractedInfo{
		ConversationID: chunk.ConversationID,
		ChunkID:        chunk.ID,
		Kind:           fact.Kind,
		Subject:        normalizeSubject(fact.Subject),
		Content:        fact.Content,
		Confidence:     fact.Confidence,
	}

	switch fact.Kind {
	case KindPreference, KindFact:
		info.IsPermanent = true
	case KindCommitment:
		info.ExpiresAt = f.commitmentExpiry(fact.Deadline)
	}
	return info, true
}

func (f *FactExtractor) commitmentExpiry(deadline string) time.Time {
	if deadline != "" {
		if t, err := time.Parse("2006-01-02", deadline); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse(time.RFC3339, deadline); err == nil {
			return t.UTC()
		}
	}
	return f.now().UTC().Add(f.config.CommitmentTTL)
}
