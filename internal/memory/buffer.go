package memory

import (
	"sync"
	"time"
)

// BufferConfig holds the thresholds that decide when the primary buffer of a
// conversation should be chunked into the archive.
type BufferConfig struct {
	// MaxTokens is the token ceiling for the primary buffer. Crossing it
	// triggers chunking. Default: 4000.
	MaxTokens int

	// MaxMessages is the message-count ceiling for the primary buffer.
	// Default: 20.
	MaxMessages int

	// TopicShiftThreshold is the cosine similarity below which a new message
	// is considered a topic change relative to the buffered conversation.
	// Default: 0.55.
	TopicShiftThreshold float64

	// IdleGap is the inactivity gap after which the next message triggers
	// chunking of what came before it. Default: 4 hours.
	IdleGap time.Duration

	// MinMessages is the floor below which chunking never fires, whatever
	// the trigger. Default: 3.
	MinMessages int
}

// DefaultBufferConfig returns a BufferConfig with the documented defaults.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		MaxTokens:           4000,
		MaxMessages:         20,
		TopicShiftThreshold: 0.55,
		IdleGap:             4 * time.Hour,
		MinMessages:         3,
	}
}

// ChunkTrigger names the reason a chunking pass fired.
type ChunkTrigger string

const (
	TriggerNone       ChunkTrigger = ""
	TriggerTokens     ChunkTrigger = "tokens"
	TriggerMessages   ChunkTrigger = "messages"
	TriggerTopicShift ChunkTrigger = "topic_shift"
	TriggerIdleGap    ChunkTrigger = "idle_gap"
	TriggerForced     ChunkTrigger = "forced"
)

// bufferState is the in-memory view of one conversation's primary buffer:
// running counters, last activity, and the embedding centroid used for topic
// shift detection. The database remains the source of truth for the buffer
// contents; this state only drives trigger evaluation and is rebuilt from
// the database after a restart.
type bufferState struct {
	tokens       int
	messages     int
	lastActivity time.Time

	// centroid is the running mean of the buffered messages' embeddings.
	// Nil until the first embedded message; reset on every chunking pass.
	centroid  []float32
	centroidN int

	// chunking guards against concurrent passes on the same conversation.
	// passTokens/passMessages snapshot the counters when the pass starts,
	// so appends racing the pass are not lost when it finishes.
	chunking     bool
	passTokens   int
	passMessages int
}

// BufferTracker keeps per-conversation buffer state and evaluates chunking
// triggers. It is safe for concurrent use.
type BufferTracker struct {
	mu     sync.Mutex
	config BufferConfig
	states map[string]*bufferState // key: conversation id
}

// NewBufferTracker creates a BufferTracker with the given configuration.
func NewBufferTracker(cfg BufferConfig) *BufferTracker {
	def := DefaultBufferConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.TopicShiftThreshold <= 0 {
		cfg.TopicShiftThreshold = def.TopicShiftThreshold
	}
	if cfg.IdleGap <= 0 {
		cfg.IdleGap = def.IdleGap
	}
	if cfg.MinMessages <= 0 {
		cfg.MinMessages = def.MinMessages
	}
	return &BufferTracker{
		config: cfg,
		states: make(map[string]*bufferState),
	}
}

// Config returns the tracker's effective configuration.
func (t *BufferTracker) Config() BufferConfig {
	return t.config
}

// Record registers an appended message and reports which trigger, if any,
// now calls for a chunking pass. The idle-gap trigger fires on the first
// message after a long silence: everything buffered before it gets chunked,
// the new message starts the next segment.
func (t *BufferTracker) Record(conversationID string, tokenCount int) ChunkTrigger {
	return t.recordAt(conversationID, tokenCount, time.Now())
}

// recordAt is the time-injectable core of Record.
func (t *BufferTracker) recordAt(conversationID string, tokenCount int, now time.Time) ChunkTrigger {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(conversationID)

	gap := ChunkTrigger(TriggerNone)
	if s.messages >= t.config.MinMessages && !s.lastActivity.IsZero() &&
		now.Sub(s.lastActivity) > t.config.IdleGap {
		gap = TriggerIdleGap
	}

	s.tokens += tokenCount + perMessageOverhead
	s.messages++
	s.lastActivity = now

	if gap != TriggerNone {
		return gap
	}
	if s.messages < t.config.MinMessages {
		return TriggerNone
	}
	if s.tokens >= t.config.MaxTokens {
		return TriggerTokens
	}
	if s.messages >= t.config.MaxMessages {
		return TriggerMessages
	}
	return TriggerNone
}

// ObserveEmbedding folds a message embedding into the conversation's running
// centroid and reports whether the message constitutes a topic shift away
// from the buffered conversation. The shifted message itself is NOT folded
// in when it triggers: it belongs to the next segment.
func (t *BufferTracker) ObserveEmbedding(conversationID string, vec []float32) ChunkTrigger {
	if len(vec) == 0 {
		return TriggerNone
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(conversationID)

	if s.centroidN > 0 && s.messages > t.config.MinMessages && len(s.centroid) == len(vec) {
		if CosineSimilarity(s.centroid, vec) < t.config.TopicShiftThreshold {
			return TriggerTopicShift
		}
	}

	if s.centroid == nil || len(s.centroid) != len(vec) {
		s.centroid = make([]float32, len(vec))
		s.centroidN = 0
	}
	n := float32(s.centroidN)
	for i := range vec {
		s.centroid[i] = (s.centroid[i]*n + vec[i]) / (n + 1)
	}
	s.centroidN++
	return TriggerNone
}

// BeginChunking marks a conversation as having a chunking pass in flight.
// Returns false when another pass already holds the slot; multiple triggers
// on the same buffer state collapse into a single pass.
func (t *BufferTracker) BeginChunking(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(conversationID)
	if s.chunking {
		return false
	}
	s.chunking = true
	s.passTokens = s.tokens
	s.passMessages = s.messages
	return true
}

// EndChunking releases the chunking slot. remainderTokens/remainderMessages
// describe what the pass left in the buffer (the sub-minimum tail). The
// counters restart from that remainder plus whatever was recorded while the
// pass ran, so a racing append still counts toward the next trigger.
func (t *BufferTracker) EndChunking(conversationID string, remainderTokens, remainderMessages int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(conversationID)
	s.chunking = false
	s.tokens = remainderTokens + max(0, s.tokens-s.passTokens)
	s.messages = remainderMessages + max(0, s.messages-s.passMessages)
	s.passTokens, s.passMessages = 0, 0
	s.centroid = nil
	s.centroidN = 0
}

// Seed primes the tracker from persisted buffer contents, used after a
// restart so counters do not start from zero while the database still holds
// buffered messages.
func (t *BufferTracker) Seed(conversationID string, msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(conversationID)
	s.tokens = messagesTokens(msgs)
	s.messages = len(msgs)
	if n := len(msgs); n > 0 {
		s.lastActivity = msgs[n-1].CreatedAt
	}
}

func (t *BufferTracker) state(conversationID string) *bufferState {
	s := t.states[conversationID]
	if s == nil {
		s = &bufferState{}
		t.states[conversationID] = s
	}
	return s
}
