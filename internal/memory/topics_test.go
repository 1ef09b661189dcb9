package memory

import (
	"testing"
)

func TestExtractTopics(t *testing.T) {
	text := `user: the database migration needs a rollback plan
assistant: the migration tool supports rollback, the database stays consistent
user: good, schedule the migration for friday`

	topics := ExtractTopics(text, 3)
	if len(topics) == 0 {
		t.Fatal("no topics extracted")
	}
	if topics[0] != "migration" {
		t.Errorf("top topic = %q, want %q", topics[0], "migration")
	}
	for _, topic := range topics {
		if _, stop := topicStopwords[topic]; stop {
			t.Errorf("stopword %q extracted as topic", topic)
		}
	}
	if len(topics) > 3 {
		t.Errorf("got %d topics, limit was 3", len(topics))
	}
}

func TestExtractTopics_EmptyInput(t *testing.T) {
	if topics := ExtractTopics("", 5); len(topics) != 0 {
		t.Errorf("topics from empty text: %v", topics)
	}
	if topics := ExtractTopics("the and for that", 5); len(topics) != 0 {
		t.Errorf("topics from pure stopwords: %v", topics)
	}
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Deploy  Cadence", "deploy cadence"},
		{"  user timezone ", "user timezone"},
		{"EDITOR", "editor"},
	}
	for _, tt := range tests {
		if got := normalizeSubject(tt.in); got != tt.want {
			t.Errorf("normalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasTopic(t *testing.T) {
	c := &Chunk{Topics: []string{"migration", "Database"}}
	if !hasTopic(c, "migration") {
		t.Error("exact topic not matched")
	}
	if !hasTopic(c, "database") {
		t.Error("topic matching should ignore case")
	}
	if hasTopic(c, "cooking") {
		t.Error("absent topic matched")
	}
}
