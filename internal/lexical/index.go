// Package lexical provides a pure in-memory TF-IDF index over text documents.
// It has no external dependencies and keeps search working when the embedding
// backend is down.
package lexical

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Result is a single lexical search hit.
type Result struct {
	ID    string
	Score float64
}

// Index ranks documents by TF-IDF cosine similarity against a query.
// It is safe for concurrent reads once fully built; AddDocument and Clear
// are index-building-time operations and must not race with Search.
type Index struct {
	termCounts map[string]map[string]int // doc id -> term -> count
	docFreq    map[string]int            // term -> number of documents containing it
	docCount   int
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		termCounts: make(map[string]map[string]int),
		docFreq:    make(map[string]int),
	}
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

// tokenize lower-cases, strips non-word characters, splits on whitespace and
// drops tokens of two characters or fewer.
func tokenize(text string) []string {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(cleaned)
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// AddDocument indexes the given text under id. Adding the same id twice
// redefines its term vector but re-increments document-frequency accounting;
// that skew is an accepted index-building-time cost.
func (x *Index) AddDocument(id, text string) {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}
	x.termCounts[id] = counts
	for term := range counts {
		x.docFreq[term]++
	}
	x.docCount++
}

// Len returns the number of AddDocument calls since the last Clear.
func (x *Index) Len() int {
	return x.docCount
}

// Search ranks all indexed documents by TF-IDF cosine similarity with the
// query, returning up to topK results with similarity > 0, best first.
func (x *Index) Search(query string, topK int) []Result {
	if topK <= 0 || x.docCount == 0 {
		return nil
	}

	queryCounts := make(map[string]int)
	for _, tok := range tokenize(query) {
		queryCounts[tok]++
	}
	if len(queryCounts) == 0 {
		return nil
	}

	queryWeights := make(map[string]float64, len(queryCounts))
	var queryNormSq float64
	for term, tf := range queryCounts {
		w := float64(tf) * x.idf(term)
		queryWeights[term] = w
		queryNormSq += w * w
	}
	if queryNormSq == 0 {
		return nil
	}
	queryNorm := math.Sqrt(queryNormSq)

	var results []Result
	for id, counts := range x.termCounts {
		var dot, docNormSq float64
		for term, tf := range counts {
			w := float64(tf) * x.idf(term)
			docNormSq += w * w
			if qw, ok := queryWeights[term]; ok {
				dot += qw * w
			}
		}
		if dot <= 0 || docNormSq == 0 {
			continue
		}
		results = append(results, Result{
			ID:    id,
			Score: dot / (queryNorm * math.Sqrt(docNormSq)),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// idf returns ln(N/df) for the term, or 0 when the term is absent from the
// corpus entirely. Never divides by zero.
func (x *Index) idf(term string) float64 {
	df := x.docFreq[term]
	if df == 0 || x.docCount == 0 {
		return 0
	}
	return math.Log(float64(x.docCount) / float64(df))
}

// Clear resets all internal state, used before a full corpus reload.
func (x *Index) Clear() {
	x.termCounts = make(map[string]map[string]int)
	x.docFreq = make(map[string]int)
	x.docCount = 0
}
