package search

import "github.com/loomnotes/oracle/internal/corpus"

// Method identifies which retrieval strategy produced a result.
type Method string

const (
	MethodSemantic Method = "semantic"
	MethodLexical  Method = "lexical"
	MethodHybrid   Method = "hybrid"
)

// Default hybrid fusion weights.
const (
	DefaultSemanticWeight = 0.7
	DefaultLexicalWeight  = 0.3
)

// Defaults supplies the fallback values applied to zero-valued Options
// fields, typically sourced from the daemon's retrieval configuration. Its
// own zero values fall back to the package constants.
type Defaults struct {
	TopK           int
	MinScore       float64
	SemanticWeight float64
	LexicalWeight  float64
}

// Options controls a single search call. Zero values select the engine's
// configured defaults: hybrid retrieval, topK 5, weights 0.7/0.3, no
// filtering, unless the engine was built with different ones.
type Options struct {
	TopK           int     `json:"top_k,omitempty"`
	MinScore       float64 `json:"min_score,omitempty"`
	Method         Method  `json:"method,omitempty"`
	SemanticWeight float64 `json:"semantic_weight,omitempty"`
	LexicalWeight  float64 `json:"lexical_weight,omitempty"`

	// Allow-list filters. An empty list means no filtering on that axis.
	Strands []string `json:"strands,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Types   []string `json:"types,omitempty"`
}

func (o Options) withDefaults(d Defaults) Options {
	if o.TopK <= 0 {
		o.TopK = d.TopK
		if o.TopK <= 0 {
			o.TopK = 5
		}
	}
	if o.MinScore == 0 {
		o.MinScore = d.MinScore
	}
	if o.Method == "" {
		o.Method = MethodHybrid
	}
	if o.SemanticWeight == 0 && o.LexicalWeight == 0 {
		o.SemanticWeight = d.SemanticWeight
		o.LexicalWeight = d.LexicalWeight
		if o.SemanticWeight == 0 && o.LexicalWeight == 0 {
			o.SemanticWeight = DefaultSemanticWeight
			o.LexicalWeight = DefaultLexicalWeight
		}
	}
	return o
}

// ScoredResult is a chunk plus its retrieval score and display fields.
// Created fresh per query, never persisted.
type ScoredResult struct {
	Chunk   *corpus.Chunk `json:"chunk"`
	Score   float64       `json:"score"`
	Method  Method        `json:"method"`
	Snippet string        `json:"snippet"`
	Title   string        `json:"title,omitempty"`
	Tags    []string      `json:"tags,omitempty"`
}
