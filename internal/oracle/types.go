package oracle

import (
	"time"

	"github.com/loomnotes/oracle/internal/backend"
	"github.com/loomnotes/oracle/internal/search"
)

// Mode selects how an answer is produced.
type Mode string

const (
	// ModeExtractive answers from retrieved passages only, never calling a
	// generative backend.
	ModeExtractive Mode = "extractive"
	// ModeGenerative prefers the remote generative backend.
	ModeGenerative Mode = "generative"
	// ModeHybrid prefers the remote backend but accepts extractive output.
	ModeHybrid Mode = "hybrid"
	// ModeFallback marks a no-results response. Never requested, only returned.
	ModeFallback Mode = "fallback"
)

// AnswerOptions shapes the answer half of a query.
type AnswerOptions struct {
	Mode        Mode    `json:"mode,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Model       string  `json:"model,omitempty"`
	Stream      bool    `json:"stream,omitempty"`
	Citations   bool    `json:"citations,omitempty"`
	// SkipSocratic suppresses the follow-up questions every successful
	// answer carries by default.
	SkipSocratic bool   `json:"skip_socratic,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Request is a caller-constructed oracle query. Validated at entry.
type Request struct {
	Question string         `json:"question"`
	Answer   AnswerOptions  `json:"answer_options,omitempty"`
	Search   search.Options `json:"search_options,omitempty"`
	DryRun   bool           `json:"dry_run,omitempty"`
}

// Citation points an answer fragment back at its source chunk.
type Citation struct {
	Index    int     `json:"index"` // 1-based rank
	ChunkID  string  `json:"chunk_id"`
	StrandID string  `json:"strand_id"`
	Title    string  `json:"title,omitempty"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// RelatedDocument suggests further reading drawn from lower-ranked results.
type RelatedDocument struct {
	StrandID      string `json:"strand_id"`
	Title         string `json:"title,omitempty"`
	MatchStrength string `json:"match_strength"`
}

// CostEstimate is the dry-run price breakdown, in USD.
type CostEstimate struct {
	Tokens        int     `json:"tokens"`
	EmbeddingUSD  float64 `json:"embedding_usd"`
	GenerationUSD float64 `json:"generation_usd"`
	TotalUSD      float64 `json:"total_usd"`
}

// Metadata carries per-response diagnostics.
type Metadata struct {
	LatencyMs     int64         `json:"latency_ms"`
	Backend       string        `json:"backend"`
	SearchMethod  search.Method `json:"search_method,omitempty"`
	CorpusSize    int           `json:"corpus_size"`
	ResultCount   int           `json:"result_count"`
	EstimatedCost *CostEstimate `json:"estimated_cost,omitempty"`
}

// Response is the oracle's answer to one query.
type Response struct {
	QueryID           string                `json:"query_id"`
	Question          string                `json:"question"`
	Answer            string                `json:"answer"`
	Confidence        float64               `json:"confidence"`
	Mode              Mode                  `json:"mode"`
	Citations         []Citation            `json:"citations,omitempty"`
	Results           []search.ScoredResult `json:"results,omitempty"`
	SocraticQuestions []string              `json:"socratic_questions,omitempty"`
	RelatedDocuments  []RelatedDocument     `json:"related_documents,omitempty"`
	Metadata          Metadata              `json:"metadata"`
	Offline           bool                  `json:"offline"`
	Degraded          bool                  `json:"degraded"`
	DegradedReason    string                `json:"degraded_reason,omitempty"`
}

// EventType identifies a streaming event.
type EventType string

const (
	EventText     EventType = "text"
	EventCitation EventType = "citation"
	EventSocratic EventType = "socratic"
	EventMetadata EventType = "metadata"
	EventDone     EventType = "done"
)

// Event is one frame of a streaming response. The remote backend's SSE frames
// use the same vocabulary, so proxying is a straight translation.
type Event struct {
	Type     EventType `json:"type"`
	Content  string    `json:"content,omitempty"`
	Citation *Citation `json:"citation,omitempty"`
	Question string    `json:"question,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Status is the orchestrator's readiness stage.
type Status string

const (
	StatusUninitialized     Status = "uninitialized"
	StatusInitializing      Status = "initializing"
	StatusLoadingEmbeddings Status = "loading-embeddings"
	StatusReady             Status = "ready"
	StatusError             Status = "error"
)

// HistoryEntry records one completed query, most recent first.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

// State is a point-in-time snapshot of the orchestrator, readable by anyone.
type State struct {
	Status           Status         `json:"status"`
	Message          string         `json:"message,omitempty"`
	Backend          backend.Status `json:"backend"`
	RemoteAvailable  bool           `json:"remote_available"`
	EmbeddingsLoaded bool           `json:"embeddings_loaded"`
	ChunkCount       int            `json:"chunk_count"`
	LastError        string         `json:"last_error,omitempty"`
	Querying         bool           `json:"querying"`
	History          []HistoryEntry `json:"history,omitempty"`
}
