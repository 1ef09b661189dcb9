// Package memory implements the Continuum memory/context engine: one
// indefinitely long conversation per user, kept useful at scale by a hot
// primary buffer, semantically bounded archive chunks with embeddings,
// token-budgeted context assembly, durable fact extraction, and periodic
// compaction of aging chunks.
package memory

import "time"

// Message roles accepted by the engine.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is the single unified stream for one user. There is exactly
// one per user, created lazily on the first append and never deleted.
type Conversation struct {
	ID             string
	UserID         string
	MessageCount   int
	ChunkCount     int
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Message is one turn in a conversation. Messages are immutable once
// appended; a message transitions from buffered (ChunkID == "") to chunked
// exactly once and never back.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	TokenCount     int
	Seq            int64  // strictly increasing, gapless per conversation
	ChunkID        string // empty while the message is in the primary buffer
	CreatedAt      time.Time
}

// Chunk is an immutable, token-bounded group of consecutive messages — or,
// when SourceChunkIDs is non-empty, a compacted summary of prior chunks.
// Chunk content is never mutated; compaction supersedes chunks via
// IsCompacted/CompactedInto rather than rewriting them.
type Chunk struct {
	ID              string
	ConversationID  string
	Content         string
	Summary         string
	TokenCount      int
	MessageCount    int
	StartSeq        int64
	EndSeq          int64
	Topics          []string
	Importance      float64
	RetrievalCount  int
	LastRetrievedAt time.Time // zero when never retrieved
	IsCompacted     bool
	CompactedInto   string   // id of the summarizing chunk, when compacted
	SourceChunkIDs  []string // non-empty only on compaction summary chunks
	CreatedAt       time.Time
}

// IsSummary reports whether the chunk was produced by compaction rather than
// directly from buffered messages.
func (c *Chunk) IsSummary() bool {
	return len(c.SourceChunkIDs) > 0
}

// Kinds of extracted information.
const (
	KindDecision   = "decision"
	KindCommitment = "commitment"
	KindPreference = "preference"
	KindInsight    = "insight"
	KindFact       = "fact"
)

// ExtractedInfo is a durable fact distilled from a chunk. Records are
// append-only: a newer fact about the same subject supersedes the old record
// by setting SupersededBy on it, never by overwriting.
type ExtractedInfo struct {
	ID             string
	ConversationID string
	ChunkID        string
	Kind           string
	Subject        string // normalized subject used for supersession matching
	Content        string
	Confidence     float64
	IsPermanent    bool
	SupersededBy   string
	ExpiresAt      time.Time // commitments only; zero otherwise
	CreatedAt      time.Time
}

// AssembledContext is the result of context assembly: the full primary
// buffer (possibly truncated when it alone exceeds the budget) plus the
// best-ranked archive chunks that fit in the remaining budget.
type AssembledContext struct {
	Messages    []Message
	Chunks      []Chunk
	TotalTokens int

	// Partial is set when a dependency failure degraded the result to
	// buffer-only. It distinguishes "nothing relevant found" (false, empty
	// Chunks) from "retrieval was unavailable" (true).
	Partial bool
}

// SearchResult pairs an archive chunk with its query similarity.
type SearchResult struct {
	Chunk      Chunk
	Similarity float64
}

// RetrievalStats summarizes archive access patterns for one conversation.
type RetrievalStats struct {
	TotalRetrievals int
	MostRetrievedID string
	LastRetrievedAt time.Time
}

// Stats is the operational snapshot returned by the stats operation.
type Stats struct {
	ConversationID string
	TotalMessages  int
	BufferMessages int
	TotalChunks    int
	LiveChunks     int
	ArchiveTokens  int
	OldestChunkAt  time.Time
	Retrieval      RetrievalStats
}
