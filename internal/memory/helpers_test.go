package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/continuumhq/continuum/internal/store"
)

// newTestArchive opens a fresh migrated database in a temp directory and
// returns the archive over it.
func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewArchive(st, nil)
}

// newTestStore opens a fresh migrated database for engine construction.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// mockEmbedder returns canned vectors keyed by substring match, with an
// injectable function for failure cases.
type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return keywordVector(text), nil
}

// keywordVector maps text onto a tiny deterministic vector space: axis 0 is
// "database" talk, axis 1 is "cooking" talk, axis 2 everything else.
func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "database") || strings.Contains(lower, "sqlite"):
		return []float32{1, 0, 0}
	case strings.Contains(lower, "cooking") || strings.Contains(lower, "recipe"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

type mockSummarizer struct {
	summarizeFn func(ctx context.Context, messages []Message) (string, error)
}

func (m *mockSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	if m.summarizeFn != nil {
		return m.summarizeFn(ctx, messages)
	}
	// Echo the opening content so keyword-based test embeddings stay on topic.
	return "summary of: " + messages[0].Content, nil
}

type mockExtractor struct {
	extractFn func(ctx context.Context, chunkText string) ([]ExtractedFact, error)
}

func (m *mockExtractor) Extract(ctx context.Context, chunkText string) ([]ExtractedFact, error) {
	if m.extractFn != nil {
		return m.extractFn(ctx, chunkText)
	}
	return nil, nil
}

// appendTestMessages appends n alternating user/assistant messages to a
// conversation directly through the archive.
func appendTestMessages(t *testing.T, a *Archive, conversationID string, n int, content string) []Message {
	t.Helper()
	msgs := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		m := Message{ConversationID: conversationID, Role: role, Content: content}
		if err := a.AppendMessage(context.Background(), &m); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}
