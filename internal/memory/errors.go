package memory

import (
	"errors"
	"fmt"
)

// Request-path errors. These are returned synchronously to callers and are
// never retried by the engine.
var (
	// ErrInvalidRole is returned when a message role is not user/assistant/system.
	ErrInvalidRole = errors.New("memory: invalid message role")

	// ErrEmptyContent is returned when a message has no content.
	ErrEmptyContent = errors.New("memory: empty message content")

	// ErrBudgetTooSmall is returned when a context-assembly budget is below
	// the configured minimum.
	ErrBudgetTooSmall = errors.New("memory: token budget below minimum")

	// ErrNothingToChunk is returned by a forced chunking pass when the buffer
	// holds fewer messages than the minimum chunk size.
	ErrNothingToChunk = errors.New("memory: not enough buffered messages to chunk")

	// ErrNotFound is returned when a conversation, chunk, or message id is
	// unknown. It crosses component boundaries as a value, not a panic.
	ErrNotFound = errors.New("memory: not found")
)

// ErrDependencyUnavailable marks failures of external capabilities (embedding,
// summarization, extraction). Background jobs abort cleanly and retry on the
// next trigger; the read path degrades to buffer-only instead of failing.
var ErrDependencyUnavailable = errors.New("memory: dependency unavailable")

// DependencyError wraps a provider failure with the operation that needed it.
type DependencyError struct {
	Op  string // "embed", "summarize", "extract"
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("memory: dependency unavailable during %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDependencyUnavailable) match any DependencyError.
func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyUnavailable
}

// ConsistencyError reports a broken engine invariant (chunk boundary inside
// a message, sequence gap). It is fatal for the affected conversation's
// background jobs and is surfaced for manual inspection — the engine never
// silently repairs it.
type ConsistencyError struct {
	ConversationID string
	Detail         string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("memory: consistency violation in conversation %s: %s", e.ConversationID, e.Detail)
}
