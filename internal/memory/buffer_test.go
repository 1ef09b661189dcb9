package memory

import (
	"testing"
	"time"
)

func TestBufferTracker_TokenTrigger(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{MaxTokens: 100, MaxMessages: 50})
	now := time.Now()

	if got := tracker.recordAt("c1", 40, now); got != TriggerNone {
		t.Fatalf("first message triggered %q", got)
	}
	if got := tracker.recordAt("c1", 40, now); got != TriggerNone {
		t.Fatalf("second message triggered %q", got)
	}
	// Third message crosses 100 tokens and meets the minimum count.
	if got := tracker.recordAt("c1", 40, now); got != TriggerTokens {
		t.Errorf("got trigger %q, want %q", got, TriggerTokens)
	}
}

func TestBufferTracker_MessageTrigger(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{MaxTokens: 100000, MaxMessages: 5})
	now := time.Now()

	for i := 0; i < 4; i++ {
		if got := tracker.recordAt("c1", 10, now); got != TriggerNone {
			t.Fatalf("message %d triggered %q", i, got)
		}
	}
	if got := tracker.recordAt("c1", 10, now); got != TriggerMessages {
		t.Errorf("got trigger %q, want %q", got, TriggerMessages)
	}
}

func TestBufferTracker_MinMessageFloor(t *testing.T) {
	// Even a huge message cannot trigger while the buffer is below the
	// minimum chunkable count.
	tracker := NewBufferTracker(BufferConfig{MaxTokens: 10, MaxMessages: 20, MinMessages: 3})
	now := time.Now()

	if got := tracker.recordAt("c1", 5000, now); got != TriggerNone {
		t.Errorf("single oversized message triggered %q", got)
	}
	if got := tracker.recordAt("c1", 5000, now); got != TriggerNone {
		t.Errorf("second oversized message triggered %q", got)
	}
	if got := tracker.recordAt("c1", 5000, now); got != TriggerTokens {
		t.Errorf("third message got %q, want %q", got, TriggerTokens)
	}
}

func TestBufferTracker_IdleGapTrigger(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{MaxTokens: 100000, MaxMessages: 100, IdleGap: time.Hour})
	now := time.Now()

	for i := 0; i < 3; i++ {
		tracker.recordAt("c1", 10, now)
	}
	// A message after a 2h silence chunks what came before it.
	if got := tracker.recordAt("c1", 10, now.Add(2*time.Hour)); got != TriggerIdleGap {
		t.Errorf("got trigger %q, want %q", got, TriggerIdleGap)
	}
}

func TestBufferTracker_TopicShift(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{TopicShiftThreshold: 0.55, MinMessages: 3})
	now := time.Now()

	dbVec := []float32{1, 0, 0}
	cookVec := []float32{0, 1, 0}

	for i := 0; i < 4; i++ {
		tracker.recordAt("c1", 10, now)
		if got := tracker.ObserveEmbedding("c1", dbVec); got != TriggerNone {
			t.Fatalf("on-topic message %d triggered %q", i, got)
		}
	}

	tracker.recordAt("c1", 10, now)
	if got := tracker.ObserveEmbedding("c1", cookVec); got != TriggerTopicShift {
		t.Errorf("got trigger %q, want %q", got, TriggerTopicShift)
	}
}

func TestBufferTracker_TopicShiftNeedsHistory(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{TopicShiftThreshold: 0.55, MinMessages: 3})
	now := time.Now()

	tracker.recordAt("c1", 10, now)
	tracker.ObserveEmbedding("c1", []float32{1, 0, 0})
	tracker.recordAt("c1", 10, now)
	// Only two messages buffered: a shift must not trigger yet.
	if got := tracker.ObserveEmbedding("c1", []float32{0, 1, 0}); got != TriggerNone {
		t.Errorf("early topic shift triggered %q", got)
	}
}

func TestBufferTracker_ChunkingSlot(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{})

	if !tracker.BeginChunking("c1") {
		t.Fatal("first BeginChunking refused")
	}
	if tracker.BeginChunking("c1") {
		t.Fatal("second BeginChunking allowed while pass in flight")
	}
	tracker.EndChunking("c1", 42, 2)
	if !tracker.BeginChunking("c1") {
		t.Fatal("BeginChunking refused after EndChunking")
	}
	tracker.EndChunking("c1", 0, 0)
}

func TestBufferTracker_EndChunkingResetsCounters(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{MaxTokens: 100, MaxMessages: 50, MinMessages: 3})
	now := time.Now()

	for i := 0; i < 3; i++ {
		tracker.recordAt("c1", 40, now)
	}
	tracker.BeginChunking("c1")
	tracker.EndChunking("c1", 10, 1) // one small message left buffered

	// Counters restart from the remainder: the next two messages stay under
	// both thresholds.
	if got := tracker.recordAt("c1", 10, now); got != TriggerNone {
		t.Errorf("post-chunk message triggered %q", got)
	}
}

func TestBufferTracker_EndChunkingKeepsRacingAppends(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{MaxMessages: 5, MinMessages: 3})
	now := time.Now()

	for i := 0; i < 3; i++ {
		tracker.recordAt("c1", 10, now)
	}
	tracker.BeginChunking("c1")

	// An append lands while the pass is running; the pass never saw it.
	tracker.recordAt("c1", 10, now)

	tracker.EndChunking("c1", 10, 1)

	// Counters now cover the remainder plus the racing message, so the
	// message ceiling trips after three more appends, not four.
	for i := 0; i < 2; i++ {
		if got := tracker.recordAt("c1", 10, now); got != TriggerNone {
			t.Fatalf("message %d triggered %q early", i, got)
		}
	}
	if got := tracker.recordAt("c1", 10, now); got != TriggerMessages {
		t.Errorf("got trigger %q, want %q with the racing append counted", got, TriggerMessages)
	}
}

func TestBufferTracker_Seed(t *testing.T) {
	tracker := NewBufferTracker(BufferConfig{MaxTokens: 100, MaxMessages: 50, MinMessages: 2})
	msgs := []Message{
		{Content: "some prior message", TokenCount: 45, CreatedAt: time.Now().Add(-time.Minute)},
		{Content: "another prior message", TokenCount: 45, CreatedAt: time.Now()},
	}
	tracker.Seed("c1", msgs)

	// The seeded tokens push the very next message over the ceiling.
	if got := tracker.Record("c1", 20); got != TriggerTokens {
		t.Errorf("got trigger %q, want %q after seeding", got, TriggerTokens)
	}
}
