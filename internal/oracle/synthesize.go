package oracle

import (
	"fmt"
	"strings"

	"github.com/loomnotes/oracle/internal/search"
)

// synthesizeAnswer builds an extractive answer from the top results using
// question-shape heuristics. results must be non-empty.
func synthesizeAnswer(question string, results []search.ScoredResult) string {
	q := strings.ToLower(strings.TrimSpace(question))
	top := results[0].Chunk.Text

	switch {
	case strings.HasPrefix(q, "what is") || strings.HasPrefix(q, "what are"):
		return firstSentence(top) + " See the citations below for the full context."
	case strings.HasPrefix(q, "how to") || strings.HasPrefix(q, "how do"):
		return truncate(top, 500)
	default:
		n := len(results)
		if n > 3 {
			n = 3
		}
		parts := make([]string, 0, n)
		for i := 0; i < n; i++ {
			parts = append(parts, fmt.Sprintf("%s [%d]", truncate(results[i].Chunk.Text, 200), i+1))
		}
		return strings.Join(parts, " ")
	}
}

// firstSentence returns text up to and including the first sentence
// terminator, or the whole text when none is found.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	return text
}

func truncate(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return strings.TrimSpace(text[:max]) + "…"
}

// buildCitations makes one citation per top result, 1-based.
func buildCitations(results []search.ScoredResult) []Citation {
	citations := make([]Citation, len(results))
	for i, r := range results {
		snippet := r.Snippet
		if snippet == "" {
			snippet = truncate(r.Chunk.Text, 200)
		}
		citations[i] = Citation{
			Index:    i + 1,
			ChunkID:  r.Chunk.ID,
			StrandID: r.Chunk.StrandID,
			Title:    r.Title,
			Snippet:  snippet,
			Score:    r.Score,
		}
	}
	return citations
}

// confidence is the arithmetic mean of the top-3 scores. It is deliberately
// not a calibrated probability and may exceed 1.0 under some hybrid weights;
// downstream consumers depend on this exact scale.
func confidence(results []search.ScoredResult) float64 {
	if len(results) < 3 {
		return 0
	}
	return (results[0].Score + results[1].Score + results[2].Score) / 3
}

// clarifyingQuestion is the one Socratic question every degraded response
// carries.
func clarifyingQuestion(question string) string {
	return fmt.Sprintf("What specific aspect of %q are you most interested in?", strings.TrimSpace(question))
}

// socraticQuestions returns up to three follow-up questions: one clarifying,
// one connecting (only when the results carry tags), one challenging.
func socraticQuestions(question string, results []search.ScoredResult) []string {
	questions := []string{clarifyingQuestion(question)}

	if tag := mostCommonTag(results); tag != "" {
		questions = append(questions, fmt.Sprintf("How does this connect to your other notes tagged %q?", tag))
	}

	questions = append(questions, "What assumptions does this answer rest on, and how would you verify them?")

	if len(questions) > 3 {
		questions = questions[:3]
	}
	return questions
}

// mostCommonTag returns the tag appearing most often across the results, or
// "" when no result carries any tag.
func mostCommonTag(results []search.ScoredResult) string {
	counts := make(map[string]int)
	for _, r := range results {
		for _, t := range r.Tags {
			counts[t]++
		}
	}
	var best string
	var bestCount int
	for tag, count := range counts {
		if count > bestCount || (count == bestCount && tag < best) {
			best = tag
			bestCount = count
		}
	}
	return best
}

// relatedDocuments suggests distinct documents from results ranked 6-10,
// skipping strands already cited in the top results.
func relatedDocuments(results, top []search.ScoredResult) []RelatedDocument {
	cited := make(map[string]bool, len(top))
	for _, r := range top {
		cited[r.Chunk.StrandID] = true
	}

	var related []RelatedDocument
	seen := make(map[string]bool)
	for _, r := range results[len(top):] {
		id := r.Chunk.StrandID
		if id == "" || seen[id] || cited[id] {
			continue
		}
		seen[id] = true
		related = append(related, RelatedDocument{
			StrandID:      id,
			Title:         r.Title,
			MatchStrength: matchStrength(r.Score),
		})
	}
	return related
}

func matchStrength(score float64) string {
	switch {
	case score > 0.8:
		return "strong match"
	case score > 0.5:
		return "good match"
	default:
		return "possible match"
	}
}
