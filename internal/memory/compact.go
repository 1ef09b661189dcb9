package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CompactionConfig tunes when aging chunks are merged into summaries and
// when superseded chunks are finally deleted.
type CompactionConfig struct {
	// MaxLiveChunks is the per-conversation ceiling; above it, compaction
	// considers even chunks that would otherwise still be warm.
	// Default: 1000.
	MaxLiveChunks int

	// MaxAge makes a chunk eligible regardless of access patterns.
	// Default: 90 days.
	MaxAge time.Duration

	// ColdAfter makes a chunk eligible when it has not been retrieved for
	// this long. Default: 30 days.
	ColdAfter time.Duration

	// YoungExemption protects recent chunks from compaction no matter what
	// other condition they meet. Default: 30 days.
	YoungExemption time.Duration

	// MinRun and MaxRun bound the contiguous run of eligible chunks merged
	// into one summary. Defaults: 2 and 8.
	MinRun int
	MaxRun int

	// DeleteAfter is how long a compacted chunk's full content is kept
	// before the deletion sweep removes it. Chunks that were never
	// compacted are never deleted. Default: 365 days.
	DeleteAfter time.Duration
}

// DefaultCompactionConfig returns a CompactionConfig with the documented
// defaults.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		MaxLiveChunks:  1000,
		MaxAge:         90 * 24 * time.Hour,
		ColdAfter:      30 * 24 * time.Hour,
		YoungExemption: 30 * 24 * time.Hour,
		MinRun:         2,
		MaxRun:         8,
		DeleteAfter:    365 * 24 * time.Hour,
	}
}

func (c CompactionConfig) withDefaults() CompactionConfig {
	def := DefaultCompactionConfig()
	if c.MaxLiveChunks <= 0 {
		c.MaxLiveChunks = def.MaxLiveChunks
	}
	if c.MaxAge <= 0 {
		c.MaxAge = def.MaxAge
	}
	if c.ColdAfter <= 0 {
		c.ColdAfter = def.ColdAfter
	}
	if c.YoungExemption <= 0 {
		c.YoungExemption = def.YoungExemption
	}
	if c.MinRun <= 0 {
		c.MinRun = def.MinRun
	}
	if c.MaxRun <= 0 {
		c.MaxRun = def.MaxRun
	}
	if c.DeleteAfter <= 0 {
		c.DeleteAfter = def.DeleteAfter
	}
	return c
}

// Compactor merges contiguous runs of aging chunks into summary chunks and
// eventually deletes the superseded originals. Facts are extracted from a
// chunk before it is compacted, so nothing durable rides on full content
// surviving.
type Compactor struct {
	config     CompactionConfig
	archive    *Archive
	summarizer Summarizer
	embedder   Embedder
	extractor  *FactExtractor
	model      string
	logger     *slog.Logger
	now        func() time.Time
}

// NewCompactor creates a Compactor. extractor must not be nil: the
// extract-before-compact rule is not optional.
func NewCompactor(cfg CompactionConfig, archive *Archive, summarizer Summarizer, embedder Embedder, extractor *FactExtractor, embedModel string, logger *slog.Logger) *Compactor {
	if summarizer == nil {
		summarizer = NoopSummarizer{}
	}
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		config:     cfg.withDefaults(),
		archive:    archive,
		summarizer: summarizer,
		embedder:   embedder,
		extractor:  extractor,
		model:      embedModel,
		logger:     logger,
		now:        time.Now,
	}
}

// SweepConversation compacts every qualifying run of chunks in one
// conversation. Returns the number of summary chunks created.
func (c *Compactor) SweepConversation(ctx context.Context, conversationID string) (int, error) {
	live, err := c.archive.LiveChunks(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	protected, err := c.archive.PermanentSourceChunkIDs(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	now := c.now()
	overCeiling := len(live) > c.config.MaxLiveChunks

	runs := c.eligibleRuns(live, protected, now, overCeiling)
	compacted := 0
	for _, run := range runs {
		if err := c.compactRun(ctx, conversationID, run); err != nil {
			return compacted, err
		}
		compacted++
	}
	return compacted, nil
}

// eligibleRuns finds contiguous runs of eligible live chunks, split into
// MaxRun-sized pieces, dropping runs shorter than MinRun.
func (c *Compactor) eligibleRuns(live []Chunk, protected map[string]bool, now time.Time, overCeiling bool) [][]Chunk {
	var runs [][]Chunk
	var current []Chunk

	flush := func() {
		for len(current) >= c.config.MinRun {
			n := len(current)
			if n > c.config.MaxRun {
				n = c.config.MaxRun
			}
			runs = append(runs, current[:n])
			current = current[n:]
		}
		current = nil
	}

	for i := range live {
		if c.eligible(&live[i], protected, now, overCeiling) {
			current = append(current, live[i])
		} else {
			flush()
		}
	}
	flush()
	return runs
}

func (c *Compactor) eligible(chunk *Chunk, protected map[string]bool, now time.Time, overCeiling bool) bool {
	// Recent chunks and sole sources of live permanent facts are untouchable.
	if now.Sub(chunk.CreatedAt) < c.config.YoungExemption {
		return false
	}
	if protected[chunk.ID] {
		return false
	}

	if overCeiling {
		return true
	}
	if now.Sub(chunk.CreatedAt) > c.config.MaxAge {
		return true
	}
	lastUse := chunk.LastRetrievedAt
	if lastUse.IsZero() {
		lastUse = chunk.CreatedAt
	}
	return now.Sub(lastUse) > c.config.ColdAfter
}

// compactRun merges one run: facts first, then a merged summary chunk with
// its own embedding, then the atomic supersession of the inputs.
func (c *Compactor) compactRun(ctx context.Context, conversationID string, run []Chunk) error {
	// Extract-before-compact: anything durable in the full content must be
	// a first-class record before the content is reduced to a summary.
	for i := range run {
		done, err := c.archive.IsExtracted(ctx, run[i].ID)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if _, err := c.extractor.ExtractChunk(ctx, &run[i]); err != nil {
			return err
		}
	}

	summaryText, err := c.mergeSummaries(ctx, run)
	if err != nil {
		return err
	}

	vec, err := c.embedder.Embed(ctx, summaryText)
	if err != nil {
		return &DependencyError{Op: "embed", Err: err}
	}

	sourceIDs := make([]string, len(run))
	messageCount := 0
	importance := importanceBaseline
	topics := map[string]struct{}{}
	for i := range run {
		sourceIDs[i] = run[i].ID
		messageCount += run[i].MessageCount
		if run[i].Importance > importance {
			importance = run[i].Importance
		}
		for _, t := range run[i].Topics {
			topics[t] = struct{}{}
		}
	}

	summary := Chunk{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        summaryText,
		Summary:        summaryText,
		TokenCount:     EstimateTokens(summaryText),
		MessageCount:   messageCount,
		StartSeq:       run[0].StartSeq,
		EndSeq:         run[len(run)-1].EndSeq,
		Topics:         topicSet(topics, 5),
		Importance:     importance,
		SourceChunkIDs: sourceIDs,
		CreatedAt:      c.now().UTC(),
	}

	if err := c.archive.MarkCompacted(ctx, &summary, vec, c.model); err != nil {
		return err
	}

	c.logger.Info("compactor: run compacted",
		"conversation_id", conversationID,
		"summary_id", summary.ID,
		"sources", len(run),
		"seq_range", [2]int64{summary.StartSeq, summary.EndSeq},
	)
	return nil
}

// mergeSummaries asks the summarizer to merge the run's summaries; a noop
// or failing summarizer degrades to a concatenation.
func (c *Compactor) mergeSummaries(ctx context.Context, run []Chunk) (string, error) {
	parts := make([]string, 0, len(run))
	for i := range run {
		s := run[i].Summary
		if s == "" {
			s = fallbackSummary(run[i].Content)
		}
		parts = append(parts, s)
	}
	joined := strings.Join(parts, "\n")

	merged, err := c.summarizer.Summarize(ctx, []Message{{Role: RoleSystem, Content: joined}})
	if err != nil {
		c.logger.Warn("compactor: merge summarization failed, concatenating", "error", err)
		return joined, nil
	}
	if merged == "" {
		return joined, nil
	}
	return merged, nil
}

// SweepDeletions removes compacted raw chunks whose retention window has
// lapsed. Summary chunks and sole sources of live permanent facts are kept.
// Returns the number of chunks deleted.
func (c *Compactor) SweepDeletions(ctx context.Context, conversationID string) (int, error) {
	compacted, err := c.archive.CompactedChunks(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	protected, err := c.archive.PermanentSourceChunkIDs(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	now := c.now()
	var ids []string
	for i := range compacted {
		if compacted[i].IsSummary() {
			continue
		}
		if protected[compacted[i].ID] {
			continue
		}
		if now.Sub(compacted[i].CreatedAt) <= c.config.DeleteAfter {
			continue
		}
		ids = append(ids, compacted[i].ID)
	}

	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.archive.DeleteChunks(ctx, ids); err != nil {
		return 0, err
	}

	c.logger.Info("compactor: deleted aged chunks",
		"conversation_id", conversationID, "deleted", len(ids))
	return len(ids), nil
}

func topicSet(set map[string]struct{}, limit int) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
