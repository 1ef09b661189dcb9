package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// AssemblerConfig tunes context assembly and archive retrieval.
type AssemblerConfig struct {
	// MinBudget is the smallest acceptable token budget; below it assembly
	// fails fast with ErrBudgetTooSmall. Default: 100.
	MinBudget int

	// SimilarityFloor filters out archive chunks whose query similarity is
	// below this value before ranking. Default: 0.7.
	SimilarityFloor float64

	// TopK caps how many chunks pass the similarity floor into ranking.
	// Default: 20.
	TopK int

	// SimilarityWeight and RecencyWeight combine similarity and recency
	// into the ranking score. Defaults: 0.7 and 0.3.
	SimilarityWeight float64
	RecencyWeight    float64

	// FillFloor stops the greedy budget fill once the remaining budget
	// drops below this many tokens. Default: 100.
	FillFloor int
}

// DefaultAssemblerConfig returns an AssemblerConfig with the documented
// defaults.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MinBudget:        100,
		SimilarityFloor:  0.7,
		TopK:             20,
		SimilarityWeight: 0.7,
		RecencyWeight:    0.3,
		FillFloor:        100,
	}
}

func (c AssemblerConfig) withDefaults() AssemblerConfig {
	def := DefaultAssemblerConfig()
	if c.MinBudget <= 0 {
		c.MinBudget = def.MinBudget
	}
	if c.SimilarityFloor <= 0 {
		c.SimilarityFloor = def.SimilarityFloor
	}
	if c.TopK <= 0 {
		c.TopK = def.TopK
	}
	if c.SimilarityWeight <= 0 {
		c.SimilarityWeight = def.SimilarityWeight
	}
	if c.RecencyWeight <= 0 {
		c.RecencyWeight = def.RecencyWeight
	}
	if c.FillFloor <= 0 {
		c.FillFloor = def.FillFloor
	}
	return c
}

// Assembler builds token-budgeted context windows: the primary buffer first,
// then the best-ranked archive chunks that fit in what remains.
type Assembler struct {
	config   AssemblerConfig
	archive  *Archive
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg AssemblerConfig, archive *Archive, embedder Embedder, logger *slog.Logger) *Assembler {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		config:   cfg.withDefaults(),
		archive:  archive,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
	}
}

// Assemble builds a context window for the query within tokenBudget. The
// primary buffer always wins the budget; archive chunks fill the remainder
// by ranked relevance. When the buffer alone exceeds the budget, its oldest
// messages are dropped from the result (never from storage) and the archive
// is skipped entirely. Embedding failure degrades to buffer-only with
// Partial set instead of failing the call.
func (a *Assembler) Assemble(ctx context.Context, conversationID, query string, tokenBudget int) (AssembledContext, error) {
	if tokenBudget < a.config.MinBudget {
		return AssembledContext{}, ErrBudgetTooSmall
	}

	buffer, err := a.archive.BufferedMessages(ctx, conversationID)
	if err != nil {
		return AssembledContext{}, err
	}

	bufTokens := messagesTokens(buffer)
	if bufTokens > tokenBudget {
		buffer, bufTokens = truncateOldest(buffer, tokenBudget)
		return AssembledContext{Messages: buffer, TotalTokens: bufTokens}, nil
	}

	result := AssembledContext{Messages: buffer, TotalTokens: bufTokens}
	remaining := tokenBudget - bufTokens
	if remaining < a.config.FillFloor {
		return result, nil
	}

	queryVec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Warn("assembler: query embedding failed, serving buffer only",
			"conversation_id", conversationID, "error", err)
		result.Partial = true
		return result, nil
	}
	if queryVec == nil {
		// No embedder configured; sequential recall only.
		return result, nil
	}

	candidates, err := a.rankedCandidates(ctx, conversationID, queryVec, "")
	if err != nil {
		a.logger.Warn("assembler: archive scan failed, serving buffer only",
			"conversation_id", conversationID, "error", err)
		result.Partial = true
		return result, nil
	}

	var served []string
	for _, cand := range candidates {
		if remaining < a.config.FillFloor {
			break
		}
		if cand.chunk.TokenCount > remaining {
			continue
		}
		result.Chunks = append(result.Chunks, cand.chunk)
		result.TotalTokens += cand.chunk.TokenCount
		remaining -= cand.chunk.TokenCount
		served = append(served, cand.chunk.ID)
	}

	if len(served) > 0 {
		// Best-effort: retrieval accounting never fails a read.
		if err := a.archive.TouchChunks(ctx, served); err != nil {
			a.logger.Warn("assembler: touch failed", "error", err)
		}
	}

	return result, nil
}

// Search returns the top-k archive chunks most similar to the query,
// optionally filtered by topic label. Compacted chunks never appear: their
// summaries carry the surviving signal.
func (a *Assembler) Search(ctx context.Context, conversationID, query string, topK int, topic string) ([]SearchResult, error) {
	if topK <= 0 {
		topK = a.config.TopK
	}

	queryVec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &DependencyError{Op: "embed", Err: err}
	}
	if queryVec == nil {
		return nil, nil
	}

	vectors, err := a.archive.LiveVectors(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, cv := range vectors {
		if topic != "" && !hasTopic(&cv.Chunk, topic) {
			continue
		}
		sim := CosineSimilarity(queryVec, cv.Vector)
		if sim < a.config.SimilarityFloor {
			continue
		}
		results = append(results, SearchResult{Chunk: cv.Chunk, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

type rankedChunk struct {
	chunk Chunk
	score float64
	sim   float64
}

// rankedCandidates scores live chunks against the query vector. The combined
// score is similarity and recency blended by weight, then multiplied by the
// chunk's importance. Ties break newer-first, then by id for determinism.
func (a *Assembler) rankedCandidates(ctx context.Context, conversationID string, queryVec []float32, topic string) ([]rankedChunk, error) {
	vectors, err := a.archive.LiveVectors(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	var candidates []rankedChunk
	for _, cv := range vectors {
		if topic != "" && !hasTopic(&cv.Chunk, topic) {
			continue
		}
		sim := CosineSimilarity(queryVec, cv.Vector)
		if sim < a.config.SimilarityFloor {
			continue
		}
		recency := recencyScore(now, cv.Chunk.CreatedAt)
		score := (a.config.SimilarityWeight*sim + a.config.RecencyWeight*recency) * cv.Chunk.Importance
		candidates = append(candidates, rankedChunk{chunk: cv.Chunk, score: score, sim: sim})
	}

	// Keep only the strongest TopK by similarity before final ranking.
	if len(candidates) > a.config.TopK {
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].sim > candidates[j].sim
		})
		candidates = candidates[:a.config.TopK]
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if !candidates[i].chunk.CreatedAt.Equal(candidates[j].chunk.CreatedAt) {
			return candidates[i].chunk.CreatedAt.After(candidates[j].chunk.CreatedAt)
		}
		return candidates[i].chunk.ID < candidates[j].chunk.ID
	})
	return candidates, nil
}

// recencyScore maps chunk age onto (0, 1]: 1.0 for brand new, halving every
// day of age.
func recencyScore(now, createdAt time.Time) float64 {
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return 1 / (1 + ageHours/24)
}

// truncateOldest drops messages from the front until the slice fits the
// budget. The newest message is always kept, even alone over budget.
func truncateOldest(msgs []Message, budget int) ([]Message, int) {
	total := messagesTokens(msgs)
	i := 0
	for i < len(msgs)-1 && total > budget {
		total -= messageTokens(msgs[i])
		i++
	}
	return msgs[i:], total
}
