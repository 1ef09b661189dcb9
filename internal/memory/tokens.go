package memory

// EstimateTokens returns a rough token count for a piece of text.
// Uses ~4 characters per token (common English heuristic). This is
// intentionally imprecise — budgets are soft limits that keep context
// windows bounded, not exact accounting.
func EstimateTokens(text string) int {
	const charsPerToken = 4

	if text == "" {
		return 0
	}
	n := len(text) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// perMessageOverhead is the token cost charged per message for role framing
// and delimiters, on top of the content estimate.
const perMessageOverhead = 4

// messageTokens estimates the token cost of a message including the framing
// overhead.
func messageTokens(m Message) int {
	if m.TokenCount > 0 {
		return m.TokenCount + perMessageOverhead
	}
	return EstimateTokens(m.Content) + perMessageOverhead
}

// messagesTokens sums messageTokens over a slice.
func messagesTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += messageTokens(m)
	}
	return total
}
