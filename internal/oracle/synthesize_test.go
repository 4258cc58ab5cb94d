package oracle

import (
	"strings"
	"testing"

	"github.com/loomnotes/oracle/internal/corpus"
	"github.com/loomnotes/oracle/internal/search"
)

func chunkResult(id, text string, score float64, tags ...string) search.ScoredResult {
	return search.ScoredResult{
		Chunk: &corpus.Chunk{ID: id, StrandID: "strand-" + id, Text: text},
		Score: score,
		Tags:  tags,
	}
}

func TestSynthesizeWhatIs(t *testing.T) {
	results := []search.ScoredResult{
		chunkResult("a", "Recursion is self-reference. It shows up everywhere. Even here.", 0.9),
	}
	got := synthesizeAnswer("What is recursion?", results)
	want := "Recursion is self-reference. See the citations below for the full context."
	if got != want {
		t.Errorf("answer = %q, want %q", got, want)
	}
}

func TestSynthesizeHowTo(t *testing.T) {
	long := strings.Repeat("step then another step. ", 40)
	results := []search.ScoredResult{chunkResult("a", long, 0.9)}
	got := synthesizeAnswer("How do I deploy this?", results)
	if len(got) > 510 {
		t.Errorf("how-to answer length = %d, want truncated near 500", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated answer missing ellipsis: %q", got[len(got)-20:])
	}
}

func TestSynthesizeDefaultConcatenatesWithMarkers(t *testing.T) {
	results := []search.ScoredResult{
		chunkResult("a", "First passage.", 0.9),
		chunkResult("b", "Second passage.", 0.8),
		chunkResult("c", "Third passage.", 0.7),
		chunkResult("d", "Fourth passage, never used.", 0.6),
	}
	got := synthesizeAnswer("tell me about passages", results)
	for _, marker := range []string{"[1]", "[2]", "[3]"} {
		if !strings.Contains(got, marker) {
			t.Errorf("answer missing citation marker %s: %q", marker, got)
		}
	}
	if strings.Contains(got, "[4]") || strings.Contains(got, "Fourth") {
		t.Errorf("answer used more than three passages: %q", got)
	}
}

func TestFirstSentence(t *testing.T) {
	tests := []struct{ in, want string }{
		{"One. Two.", "One."},
		{"Really? Yes.", "Really?"},
		{"No terminator here", "No terminator here"},
		{"  padded. ", "padded."},
	}
	for _, tt := range tests {
		if got := firstSentence(tt.in); got != tt.want {
			t.Errorf("firstSentence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfidenceRequiresThreeResults(t *testing.T) {
	two := []search.ScoredResult{chunkResult("a", "x", 0.9), chunkResult("b", "y", 0.8)}
	if got := confidence(two); got != 0 {
		t.Errorf("confidence with 2 results = %v, want 0", got)
	}

	three := append(two, chunkResult("c", "z", 0.4))
	want := (0.9 + 0.8 + 0.4) / 3
	if got := confidence(three); got-want > 1e-9 || want-got > 1e-9 {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestSocraticQuestionsShape(t *testing.T) {
	results := []search.ScoredResult{
		chunkResult("a", "x", 0.9, "go", "testing"),
		chunkResult("b", "y", 0.8, "go"),
	}
	qs := socraticQuestions("What is testing?", results)
	if len(qs) != 3 {
		t.Fatalf("got %d questions, want 3", len(qs))
	}
	if !strings.Contains(qs[0], `"What is testing?"`) {
		t.Errorf("clarifying question = %q", qs[0])
	}
	if !strings.Contains(qs[1], `"go"`) {
		t.Errorf("connecting question should use the dominant tag: %q", qs[1])
	}
}

func TestSocraticQuestionsWithoutTags(t *testing.T) {
	results := []search.ScoredResult{chunkResult("a", "x", 0.9)}
	qs := socraticQuestions("hello", results)
	if len(qs) != 2 {
		t.Fatalf("got %d questions, want 2 when no tags exist", len(qs))
	}
}

func TestMostCommonTagTieBreaksLexically(t *testing.T) {
	results := []search.ScoredResult{
		chunkResult("a", "x", 0.9, "zebra"),
		chunkResult("b", "y", 0.8, "apple"),
	}
	if got := mostCommonTag(results); got != "apple" {
		t.Errorf("mostCommonTag = %q, want apple", got)
	}
}

func TestMatchStrength(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.9, "strong match"},
		{0.8, "good match"},
		{0.51, "good match"},
		{0.5, "possible match"},
		{0.1, "possible match"},
	}
	for _, tt := range tests {
		if got := matchStrength(tt.score); got != tt.want {
			t.Errorf("matchStrength(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}
