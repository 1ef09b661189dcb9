package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/continuumhq/continuum/common/retry"
	"github.com/continuumhq/continuum/common/trace"
	"github.com/continuumhq/continuum/internal/store"
)

// EngineConfig aggregates the configuration of every engine component.
type EngineConfig struct {
	Buffer     BufferConfig
	Chunker    ChunkerConfig
	Assembler  AssemblerConfig
	Extraction ExtractionConfig
	Compaction CompactionConfig

	// EmbedModel labels stored embeddings with the model that produced them.
	EmbedModel string

	// FailureLimit is how many consecutive background chunking failures a
	// conversation tolerates before the engine escalates via the alert
	// hook. Default: 5.
	FailureLimit int
}

// DefaultEngineConfig returns an EngineConfig with every component at its
// documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Buffer:       DefaultBufferConfig(),
		Chunker:      DefaultChunkerConfig(),
		Assembler:    DefaultAssemblerConfig(),
		Extraction:   DefaultExtractionConfig(),
		Compaction:   DefaultCompactionConfig(),
		FailureLimit: 5,
	}
}

// Engine is the façade over the whole memory system: append, assemble,
// search, facts, stats, and the background sweeps. One Engine serves many
// users; each user maps to exactly one conversation.
//
// Appends return as soon as the message is durable. Chunking runs in the
// background and its failure never surfaces to the appender: messages stay
// buffered and the pass retries on the next trigger.
type Engine struct {
	config    EngineConfig
	archive   *Archive
	tracker   *BufferTracker
	chunker   *Chunker
	assembler *Assembler
	extractor *FactExtractor
	compactor *Compactor
	embedder  Embedder
	logger    *slog.Logger

	// alert is called when a conversation's chunking failures cross the
	// limit. Optional; defaults to an error log.
	alert func(conversationID string, err error)

	mu       sync.Mutex
	failures map[string]int

	bg sync.WaitGroup
}

// NewEngine wires up an Engine over an opened store. Any nil provider falls
// back to its noop implementation.
func NewEngine(cfg EngineConfig, st *store.Store, embedder Embedder, summarizer Summarizer, extractor Extractor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = DefaultEngineConfig().FailureLimit
	}

	archive := NewArchive(st, logger)
	facts := NewFactExtractor(cfg.Extraction, archive, extractor, logger)

	return &Engine{
		config:    cfg,
		archive:   archive,
		tracker:   NewBufferTracker(cfg.Buffer),
		chunker:   NewChunker(cfg.Chunker, archive, embedder, summarizer, cfg.EmbedModel, logger),
		assembler: NewAssembler(cfg.Assembler, archive, embedder, logger),
		extractor: facts,
		compactor: NewCompactor(cfg.Compaction, archive, summarizer, embedder, facts, cfg.EmbedModel, logger),
		embedder:  embedder,
		logger:    logger,
		failures:  make(map[string]int),
	}
}

// SetAlertHook installs the escalation callback for repeated background
// failures. Must be called before the engine starts receiving traffic.
func (e *Engine) SetAlertHook(fn func(conversationID string, err error)) {
	e.alert = fn
}

// Archive exposes the persistence layer for read-mostly integrations
// (stats endpoints, admin tooling).
func (e *Engine) Archive() *Archive { return e.archive }

// EnsureConversation returns the conversation for a user, creating it on
// first use.
func (e *Engine) EnsureConversation(ctx context.Context, userID string) (Conversation, error) {
	conv, err := e.archive.EnsureConversation(ctx, userID)
	if err != nil {
		return Conversation{}, err
	}

	// Rebuild trigger counters from the persisted buffer after a restart.
	e.mu.Lock()
	_, seeded := e.failures[conv.ID]
	if !seeded {
		e.failures[conv.ID] = 0
	}
	e.mu.Unlock()
	if !seeded {
		if msgs, err := e.archive.BufferedMessages(ctx, conv.ID); err == nil {
			e.tracker.Seed(conv.ID, msgs)
		}
	}
	return conv, nil
}

// AppendMessage validates and durably appends one message to the user's
// conversation, then evaluates chunking triggers in the background. The
// returned Message carries its assigned sequence number.
func (e *Engine) AppendMessage(ctx context.Context, userID, role, content string) (Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Message{}, ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyContent
	}

	conv, err := e.EnsureConversation(ctx, userID)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
	}
	if err := e.archive.AppendMessage(ctx, &msg); err != nil {
		return Message{}, err
	}

	trigger := e.tracker.Record(conv.ID, msg.TokenCount)

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		e.afterAppend(conv.ID, msg, trigger)
	}()

	return msg, nil
}

// afterAppend runs the post-append background work: topic-shift detection
// (when an embedder is configured) and any pending chunking pass.
func (e *Engine) afterAppend(conversationID string, msg Message, trigger ChunkTrigger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	if trigger == TriggerNone {
		vec, err := e.embedder.Embed(ctx, msg.Content)
		if err != nil {
			// Topic detection is opportunistic; threshold triggers still fire.
			e.logger.Debug("engine: message embedding failed",
				"conversation_id", conversationID, "error", err)
		} else if vec != nil {
			trigger = e.tracker.ObserveEmbedding(conversationID, vec)
		}
	}

	if trigger == TriggerNone {
		return
	}
	e.runChunkPass(ctx, conversationID, trigger)
}

// runChunkPass executes one chunking pass with retry on transient provider
// errors, tracking consecutive failures per conversation.
func (e *Engine) runChunkPass(ctx context.Context, conversationID string, trigger ChunkTrigger) {
	if !e.tracker.BeginChunking(conversationID) {
		return
	}

	var remainder []Message
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
		ShouldRetry:  errIsTransient,
	}, func() error {
		var runErr error
		_, remainder, runErr = e.chunker.Run(ctx, conversationID, trigger)
		return runErr
	})

	if err != nil {
		// Release the slot with counters untouched so the next trigger
		// retries the same buffer.
		e.tracker.EndChunking(conversationID, messagesTokens(remainder), len(remainder))
		e.recordFailure(conversationID, err)
		return
	}

	e.tracker.EndChunking(conversationID, messagesTokens(remainder), len(remainder))
	e.clearFailures(conversationID)
	e.logger.Debug("engine: chunking pass complete",
		"conversation_id", conversationID,
		"trigger", trigger,
		"remainder", len(remainder),
		"trace", trace.FromContext(ctx),
	)
}

func (e *Engine) recordFailure(conversationID string, err error) {
	e.mu.Lock()
	e.failures[conversationID]++
	count := e.failures[conversationID]
	e.mu.Unlock()

	e.logger.Error("engine: chunking pass failed",
		"conversation_id", conversationID,
		"consecutive", count,
		"error", err,
	)
	if count >= e.config.FailureLimit {
		if e.alert != nil {
			e.alert(conversationID, err)
		} else {
			e.logger.Error("engine: chunking failures over limit",
				"conversation_id", conversationID, "limit", e.config.FailureLimit)
		}
	}
}

func (e *Engine) clearFailures(conversationID string) {
	e.mu.Lock()
	e.failures[conversationID] = 0
	e.mu.Unlock()
}

// ChunkReport describes the outcome of a forced chunking pass.
type ChunkReport struct {
	ChunkIDs        []string
	MessagesChunked int
}

// ForceChunk runs a synchronous chunking pass regardless of triggers.
// Returns ErrNothingToChunk when the buffer is below the minimum.
func (e *Engine) ForceChunk(ctx context.Context, userID string) (ChunkReport, error) {
	conv, err := e.EnsureConversation(ctx, userID)
	if err != nil {
		return ChunkReport{}, err
	}
	if !e.tracker.BeginChunking(conv.ID) {
		// A background pass is already draining the buffer.
		return ChunkReport{}, nil
	}
	created, remainder, err := e.chunker.Run(ctx, conv.ID, TriggerForced)
	e.tracker.EndChunking(conv.ID, messagesTokens(remainder), len(remainder))
	switch {
	case err == nil:
		e.clearFailures(conv.ID)
	case !errors.Is(err, ErrNothingToChunk):
		e.recordFailure(conv.ID, err)
	}

	report := ChunkReport{ChunkIDs: make([]string, 0, len(created))}
	for _, c := range created {
		report.ChunkIDs = append(report.ChunkIDs, c.ID)
		report.MessagesChunked += c.MessageCount
	}
	return report, err
}

// AssembleContext builds a token-budgeted context window for the user's
// next turn: full primary buffer first, then the best-ranked archive chunks.
func (e *Engine) AssembleContext(ctx context.Context, userID, query string, tokenBudget int) (AssembledContext, error) {
	conv, err := e.EnsureConversation(ctx, userID)
	if err != nil {
		return AssembledContext{}, err
	}
	return e.assembler.Assemble(ctx, conv.ID, query, tokenBudget)
}

// SearchArchive runs an explicit similarity search over the user's live
// archive chunks, optionally filtered by topic label.
func (e *Engine) SearchArchive(ctx context.Context, userID, query string, topK int, topic string) ([]SearchResult, error) {
	conv, err := e.EnsureConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.assembler.Search(ctx, conv.ID, query, topK, topic)
}

// ListExtracted returns the user's durable facts, newest first. kind filters
// when non-empty, since when non-zero; pass includeHistoric to see superseded
// and expired records too.
func (e *Engine) ListExtracted(ctx context.Context, userID, kind string, since time.Time, includeHistoric bool) ([]ExtractedInfo, error) {
	conv, err := e.EnsureConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.archive.ListExtracted(ctx, conv.ID, kind, since, includeHistoric)
}

// Stats returns the operational snapshot for the user's conversation.
func (e *Engine) Stats(ctx context.Context, userID string) (Stats, error) {
	conv, err := e.EnsureConversation(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return e.archive.Stats(ctx, conv.ID)
}

// RunExtractionSweep scans unextracted chunks across every conversation.
// Returns the number of facts recorded.
func (e *Engine) RunExtractionSweep(ctx context.Context) (int, error) {
	return e.sweepAll(ctx, "extraction", e.extractor.SweepConversation)
}

// RunCompactionSweep merges eligible chunk runs across every conversation.
// Returns the number of summary chunks created.
func (e *Engine) RunCompactionSweep(ctx context.Context) (int, error) {
	return e.sweepAll(ctx, "compaction", e.compactor.SweepConversation)
}

// RunDeletionSweep removes compacted chunks past the retention window.
// Returns the number of chunks deleted.
func (e *Engine) RunDeletionSweep(ctx context.Context) (int, error) {
	return e.sweepAll(ctx, "deletion", e.compactor.SweepDeletions)
}

// sweepAll applies a per-conversation sweep to every conversation,
// continuing past individual failures so one broken conversation cannot
// starve the rest.
func (e *Engine) sweepAll(ctx context.Context, name string, fn func(context.Context, string) (int, error)) (int, error) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	ids, err := e.archive.ConversationIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	var lastErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := fn(ctx, id)
		total += n
		if err != nil {
			lastErr = err
			e.logger.Error("engine: sweep failed for conversation",
				"sweep", name, "conversation_id", id,
				"trace", trace.FromContext(ctx), "error", err)
		}
	}
	e.logger.Info("engine: sweep complete",
		"sweep", name, "conversations", len(ids), "affected", total,
		"trace", trace.FromContext(ctx))
	return total, lastErr
}

// Wait blocks until every in-flight background pass has finished. Intended
// for shutdown and tests.
func (e *Engine) Wait() {
	e.bg.Wait()
}
