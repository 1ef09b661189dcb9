package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEnsureConversation_OnePerUser(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	first, err := a.EnsureConversation(ctx, "@alice")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := a.EnsureConversation(ctx, "@alice")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected one conversation per user, got %s and %s", first.ID, second.ID)
	}

	other, err := a.EnsureConversation(ctx, "@bob")
	if err != nil {
		t.Fatalf("other user ensure: %v", err)
	}
	if other.ID == first.ID {
		t.Error("different users share a conversation")
	}
}

func TestAppendMessage_SequenceIsGapless(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	conv, err := a.EnsureConversation(ctx, "@alice")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	msgs := appendTestMessages(t, a, conv.ID, 5, "hello there, how are things going today")
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Errorf("message %d has seq %d, want %d", i, m.Seq, i+1)
		}
		if m.TokenCount == 0 {
			t.Errorf("message %d has no token count", i)
		}
	}

	conv, err = a.ConversationByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if conv.MessageCount != 5 {
		t.Errorf("message_count = %d, want 5", conv.MessageCount)
	}

	buffered, err := a.BufferedMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("buffered: %v", err)
	}
	if len(buffered) != 5 {
		t.Errorf("buffer holds %d messages, want 5", len(buffered))
	}
}

func TestPersistChunks_AssignsAndCounts(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	conv, _ := a.EnsureConversation(ctx, "@alice")
	appendTestMessages(t, a, conv.ID, 6, "we talked about the database schema and sqlite migrations at length")

	chunk := Chunk{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Content:        "transcript",
		TokenCount:     120,
		MessageCount:   4,
		StartSeq:       1,
		EndSeq:         4,
		Importance:     1.0,
	}
	vec := []float32{1, 0, 0}
	err := a.PersistChunks(ctx, []Chunk{chunk}, map[string][]float32{chunk.ID: vec}, "test-model")
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	buffered, err := a.BufferedMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("buffered: %v", err)
	}
	if len(buffered) != 2 {
		t.Fatalf("buffer holds %d messages after chunking, want 2", len(buffered))
	}
	if buffered[0].Seq != 5 {
		t.Errorf("first buffered seq = %d, want 5", buffered[0].Seq)
	}

	vectors, err := a.LiveVectors(ctx, conv.ID)
	if err != nil {
		t.Fatalf("live vectors: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d live vectors, want 1", len(vectors))
	}
	if got := vectors[0].Vector; len(got) != 3 || got[0] != 1 {
		t.Errorf("decoded vector = %v, want [1 0 0]", got)
	}

	conv, _ = a.ConversationByID(ctx, conv.ID)
	if conv.ChunkCount != 1 {
		t.Errorf("chunk_count = %d, want 1", conv.ChunkCount)
	}
}

func TestPersistChunks_MismatchedRangeFails(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	conv, _ := a.EnsureConversation(ctx, "@alice")
	appendTestMessages(t, a, conv.ID, 3, "short exchange")

	chunk := Chunk{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Content:        "transcript",
		TokenCount:     40,
		MessageCount:   5, // claims more messages than exist
		StartSeq:       1,
		EndSeq:         5,
		Importance:     1.0,
	}
	err := a.PersistChunks(ctx, []Chunk{chunk}, nil, "")
	var consistency *ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}

	// The failed pass must leave the buffer untouched.
	buffered, _ := a.BufferedMessages(ctx, conv.ID)
	if len(buffered) != 3 {
		t.Errorf("buffer holds %d messages after failed pass, want 3", len(buffered))
	}
}

func TestTouchChunks_BumpsCounters(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	conv, _ := a.EnsureConversation(ctx, "@alice")
	appendTestMessages(t, a, conv.ID, 3, "all about the database")

	chunk := Chunk{
		ID: uuid.NewString(), ConversationID: conv.ID, Content: "x",
		TokenCount: 10, MessageCount: 3, StartSeq: 1, EndSeq: 3, Importance: 1.0,
	}
	if err := a.PersistChunks(ctx, []Chunk{chunk}, nil, ""); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if err := a.TouchChunks(ctx, []string{chunk.ID}); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := a.TouchChunks(ctx, []string{chunk.ID}); err != nil {
		t.Fatalf("touch again: %v", err)
	}

	got, err := a.ChunkByID(ctx, chunk.ID)
	if err != nil {
		t.Fatalf("load chunk: %v", err)
	}
	if got.RetrievalCount != 2 {
		t.Errorf("retrieval_count = %d, want 2", got.RetrievalCount)
	}
	if got.LastRetrievedAt.IsZero() {
		t.Error("last_retrieved_at not set")
	}
}

func TestInsertExtracted_Supersession(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	conv, _ := a.EnsureConversation(ctx, "@alice")
	appendTestMessages(t, a, conv.ID, 3, "content")
	chunk := Chunk{
		ID: uuid.NewString(), ConversationID: conv.ID, Content: "x",
		TokenCount: 10, MessageCount: 3, StartSeq: 1, EndSeq: 3, Importance: 1.0,
	}
	if err := a.PersistChunks(ctx, []Chunk{chunk}, nil, ""); err != nil {
		t.Fatalf("persist: %v", err)
	}

	old := ExtractedInfo{
		ConversationID: conv.ID, Kind: KindPreference,
		Subject: "editor", Content: "prefers vim", Confidence: 0.9, IsPermanent: true,
	}
	if err := a.InsertExtracted(ctx, chunk.ID, []ExtractedInfo{old}); err != nil {
		t.Fatalf("insert old: %v", err)
	}

	updated := ExtractedInfo{
		ConversationID: conv.ID, Kind: KindPreference,
		Subject: "editor", Content: "prefers helix now", Confidence: 0.9, IsPermanent: true,
	}
	if err := a.InsertExtracted(ctx, chunk.ID, []ExtractedInfo{updated}); err != nil {
		t.Fatalf("insert updated: %v", err)
	}

	live, err := a.ListExtracted(ctx, conv.ID, KindPreference, time.Time{}, false)
	if err != nil {
		t.Fatalf("list live: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("got %d live preferences, want 1", len(live))
	}
	if live[0].Content != "prefers helix now" {
		t.Errorf("live fact = %q, want the newer one", live[0].Content)
	}

	all, err := a.ListExtracted(ctx, conv.ID, KindPreference, time.Time{}, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d total preferences, want 2", len(all))
	}
	// History keeps the old record, marked superseded.
	var foundSuperseded bool
	for _, info := range all {
		if info.Content == "prefers vim" && info.SupersededBy != "" {
			foundSuperseded = true
		}
	}
	if !foundSuperseded {
		t.Error("old record not marked superseded")
	}

	// A since cutoff in the future filters everything out.
	future, err := a.ListExtracted(ctx, conv.ID, KindPreference, time.Now().UTC().Add(time.Hour), false)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(future) != 0 {
		t.Errorf("got %d preferences past a future cutoff, want 0", len(future))
	}
}

func TestListExtracted_ExcludesExpiredCommitments(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	conv, _ := a.EnsureConversation(ctx, "@alice")
	appendTestMessages(t, a, conv.ID, 3, "content")
	chunk := Chunk{
		ID: uuid.NewString(), ConversationID: conv.ID, Content: "x",
		TokenCount: 10, MessageCount: 3, StartSeq: 1, EndSeq: 3, Importance: 1.0,
	}
	if err := a.PersistChunks(ctx, []Chunk{chunk}, nil, ""); err != nil {
		t.Fatalf("persist: %v", err)
	}

	infos := []ExtractedInfo{
		{
			ConversationID: conv.ID, Kind: KindCommitment, Subject: "report",
			Content: "send report", Confidence: 0.8,
			ExpiresAt: time.Now().UTC().Add(-time.Hour),
		},
		{
			ConversationID: conv.ID, Kind: KindCommitment, Subject: "review",
			Content: "review PR", Confidence: 0.8,
			ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
		},
	}
	if err := a.InsertExtracted(ctx, chunk.ID, infos); err != nil {
		t.Fatalf("insert: %v", err)
	}

	live, err := a.ListExtracted(ctx, conv.ID, KindCommitment, time.Time{}, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 1 || live[0].Content != "review PR" {
		t.Errorf("live commitments = %v, want only the unexpired one", live)
	}
}

func TestStats_Snapshot(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	conv, _ := a.EnsureConversation(ctx, "@alice")
	appendTestMessages(t, a, conv.ID, 5, "a reasonably long message about the database design we chose")

	chunk := Chunk{
		ID: uuid.NewString(), ConversationID: conv.ID, Content: "x",
		TokenCount: 77, MessageCount: 3, StartSeq: 1, EndSeq: 3, Importance: 1.0,
	}
	if err := a.PersistChunks(ctx, []Chunk{chunk}, nil, ""); err != nil {
		t.Fatalf("persist: %v", err)
	}

	stats, err := a.Stats(ctx, conv.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalMessages != 5 {
		t.Errorf("TotalMessages = %d, want 5", stats.TotalMessages)
	}
	if stats.BufferMessages != 2 {
		t.Errorf("BufferMessages = %d, want 2", stats.BufferMessages)
	}
	if stats.LiveChunks != 1 || stats.TotalChunks != 1 {
		t.Errorf("chunks = %d live / %d total, want 1/1", stats.LiveChunks, stats.TotalChunks)
	}
	if stats.ArchiveTokens != 77 {
		t.Errorf("ArchiveTokens = %d, want 77", stats.ArchiveTokens)
	}
}

func TestChunkByID_NotFound(t *testing.T) {
	a := newTestArchive(t)
	_, err := a.ChunkByID(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteChunks_ReassignsCompactedReferences(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	conv, _ := a.EnsureConversation(ctx, "@alice")

	old := time.Now().UTC().Add(-400 * 24 * time.Hour)
	src1 := seedArchiveChunk(t, a, conv, 1, 50, []float32{1, 0, 0}, 1.0, old)
	src2 := seedArchiveChunk(t, a, conv, 4, 50, []float32{1, 0, 0}, 1.0, old)

	mid := Chunk{
		ID: uuid.NewString(), ConversationID: conv.ID,
		Content: "mid", Summary: "mid", TokenCount: 10, MessageCount: 6,
		StartSeq: 1, EndSeq: 6, Importance: 1.0,
		SourceChunkIDs: []string{src1.ID, src2.ID},
		CreatedAt:      old,
	}
	if err := a.MarkCompacted(ctx, &mid, []float32{1, 0, 0}, "mock"); err != nil {
		t.Fatalf("compact sources: %v", err)
	}

	top := Chunk{
		ID: uuid.NewString(), ConversationID: conv.ID,
		Content: "top", Summary: "top", TokenCount: 10, MessageCount: 6,
		StartSeq: 1, EndSeq: 6, Importance: 1.0,
		SourceChunkIDs: []string{mid.ID},
	}
	if err := a.MarkCompacted(ctx, &top, []float32{1, 0, 0}, "mock"); err != nil {
		t.Fatalf("compact mid summary: %v", err)
	}

	// Deleting the mid-level summary must not leave src1/src2 pointing at a
	// missing row.
	if err := a.DeleteChunks(ctx, []string{mid.ID}); err != nil {
		t.Fatalf("delete mid summary: %v", err)
	}
	for _, id := range []string{src1.ID, src2.ID} {
		got, err := a.ChunkByID(ctx, id)
		if err != nil {
			t.Fatalf("source chunk gone: %v", err)
		}
		if got.CompactedInto != top.ID {
			t.Errorf("source %s compacted into %q, want the surviving summary", id, got.CompactedInto)
		}
	}
}
