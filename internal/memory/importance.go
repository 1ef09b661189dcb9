package memory

import "regexp"

// Importance multipliers by signal class. A chunk's importance feeds into
// retrieval ranking as a straight multiplier on the combined score, so a
// decision-bearing chunk outranks small talk with the same similarity.
const (
	importanceBaseline   = 1.0
	importanceDecision   = 1.5
	importanceCommitment = 1.5
	importancePreference = 1.4
	importanceInsight    = 1.3
)

// importanceMarkers are cheap lexical signals evaluated at chunking time.
// Fact extraction does the precise job later; these keep ranking sane for
// chunks the extraction sweep has not reached yet.
var importanceMarkers = []struct {
	re    *regexp.Regexp
	score float64
}{
	{regexp.MustCompile(`(?i)\b(we|i)('ll| will| should| decided| agreed)\b`), importanceDecision},
	{regexp.MustCompile(`(?i)\b(decision|decided|let'?s go with|settled on|final answer)\b`), importanceDecision},
	{regexp.MustCompile(`(?i)\b(deadline|due (on|by)|promise|commit(ted|ment)?|by (monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|next week))\b`), importanceCommitment},
	{regexp.MustCompile(`(?i)\b(i (prefer|hate|love|always|never)|my preference|please (always|never))\b`), importancePreference},
	{regexp.MustCompile(`(?i)\b(realiz(e|ed)|turns out|the (real|root) (problem|cause)|key insight)\b`), importanceInsight},
}

// ScoreImportance assigns a chunk's importance from lexical markers in its
// text: baseline 1.0, raised to the strongest matching signal class.
func ScoreImportance(text string) float64 {
	score := importanceBaseline
	for _, m := range importanceMarkers {
		if m.score > score && m.re.MatchString(text) {
			score = m.score
		}
	}
	return score
}

// kindImportance maps an extracted-fact kind to its importance multiplier;
// used when re-scoring a chunk after extraction confirms what it contains.
func kindImportance(kind string) float64 {
	switch kind {
	case KindDecision:
		return importanceDecision
	case KindCommitment:
		return importanceCommitment
	case KindPreference:
		return importancePreference
	case KindInsight:
		return importanceInsight
	default:
		return importanceBaseline
	}
}
