package memory

import (
	"regexp"
	"sort"
	"strings"
)

var wordRegex = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{2,}`)

// topicStopwords are common words that never make useful topic labels.
var topicStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"you": {}, "your": {}, "have": {}, "has": {}, "had": {}, "was": {},
	"were": {}, "are": {}, "but": {}, "not": {}, "can": {}, "could": {},
	"would": {}, "should": {}, "will": {}, "just": {}, "like": {},
	"about": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"there": {}, "then": {}, "than": {}, "them": {}, "they": {},
	"been": {}, "being": {}, "from": {}, "into": {}, "also": {},
	"some": {}, "more": {}, "very": {}, "okay": {}, "yeah": {},
	"yes": {}, "well": {}, "how": {}, "why": {}, "who": {}, "its": {},
	"it's": {}, "i'm": {}, "don't": {}, "doesn't": {}, "let": {},
	"lets": {}, "get": {}, "got": {}, "make": {}, "made": {},
	"think": {}, "know": {}, "want": {}, "need": {}, "sure": {},
	"thing": {}, "things": {}, "something": {}, "anything": {},
	"really": {}, "actually": {}, "maybe": {}, "here": {}, "now": {},
}

// ExtractTopics pulls the most frequent meaningful words out of a transcript
// as coarse topic labels. Labels support filtered search and make chunk
// listings readable; semantic retrieval still goes through embeddings.
func ExtractTopics(text string, limit int) []string {
	if limit <= 0 {
		limit = 5
	}

	counts := make(map[string]int)
	for _, w := range wordRegex.FindAllString(strings.ToLower(text), -1) {
		if _, stop := topicStopwords[w]; stop {
			continue
		}
		counts[w]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

var spaceRegex = regexp.MustCompile(`\s+`)

// normalizeSubject canonicalizes a fact subject so that the same topic
// phrased with different casing or spacing matches for supersession.
func normalizeSubject(subject string) string {
	subject = strings.ToLower(strings.TrimSpace(subject))
	return spaceRegex.ReplaceAllString(subject, " ")
}

// hasTopic reports whether a chunk carries the given topic label.
func hasTopic(c *Chunk, topic string) bool {
	topic = strings.ToLower(topic)
	for _, t := range c.Topics {
		if strings.ToLower(t) == topic {
			return true
		}
	}
	return false
}
