// Package search turns a question into ranked results over the loaded corpus.
// It owns the chunk corpus, the lexical index, and a handle to the embedding
// backend, and is the single authority for retrieval.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loomnotes/oracle/internal/backend"
	"github.com/loomnotes/oracle/internal/corpus"
	"github.com/loomnotes/oracle/internal/lexical"
)

// ErrNotInitialized is returned by Search before Initialize has completed.
var ErrNotInitialized = errors.New("search engine not initialized")

type engineState int

const (
	stateUninitialized engineState = iota
	stateInitializing
	stateReady
)

// Engine performs semantic, lexical, or hybrid retrieval with filtering.
// All index state is read-only after Initialize, so concurrent Search calls
// need no locking.
type Engine struct {
	backend  backend.Backend
	source   corpus.Source
	defaults Defaults

	mu    sync.Mutex
	state engineState
	ready chan struct{}

	chunks    map[string]*corpus.Chunk
	docChunks map[string][]string // strand id -> ordered chunk ids
	lex       *lexical.Index

	corpusLoaded bool
	hasVectors   bool
	model        string
	dimensions   int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDefaults sets the fallback values applied to zero-valued query options.
func WithDefaults(d Defaults) EngineOption {
	return func(e *Engine) { e.defaults = d }
}

// NewEngine creates an Engine over the given embedding backend and corpus
// source. Call Initialize before Search.
func NewEngine(b backend.Backend, source corpus.Source, opts ...EngineOption) *Engine {
	e := &Engine{
		backend:   b,
		source:    source,
		chunks:    make(map[string]*corpus.Chunk),
		docChunks: make(map[string][]string),
		lex:       lexical.NewIndex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize probes the embedding backend and loads the corpus artifact.
// Both failures are non-fatal: the engine degrades to lexical-only (or to an
// empty corpus) and logs a warning. Concurrent callers coalesce on the first
// initialization; calling again after completion returns immediately.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case stateReady:
		e.mu.Unlock()
		return nil
	case stateInitializing:
		ready := e.ready
		e.mu.Unlock()
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.state = stateInitializing
	e.ready = make(chan struct{})
	ready := e.ready
	e.mu.Unlock()

	e.doInitialize(ctx)

	e.mu.Lock()
	e.state = stateReady
	e.mu.Unlock()
	close(ready)
	return nil
}

func (e *Engine) doInitialize(ctx context.Context) {
	status, err := e.backend.Initialize(ctx)
	if err != nil {
		slog.Warn("embedding backend initialization failed, semantic search disabled", "error", err)
	}

	artifact, err := e.source.Fetch(ctx)
	if err != nil {
		slog.Warn("corpus artifact unavailable, continuing in lexical-only mode", "error", err)
		return
	}

	e.model = artifact.Model
	e.dimensions = artifact.Dimensions

	for path, doc := range artifact.Documents {
		for i := range doc.Chunks {
			ch := doc.Chunks[i]
			if ch.StrandID == "" {
				ch.StrandID = doc.StrandID
			}
			if ch.Title == "" {
				ch.Title = doc.Title
			}
			if ch.Summary == "" {
				ch.Summary = doc.Summary
			}
			if ch.Type == "" {
				ch.Type = doc.Type
			}
			if len(ch.Tags) == 0 {
				ch.Tags = doc.Tags
			}
			if ch.ID == "" {
				ch.ID = fmt.Sprintf("%s#%d", path, i)
			}

			e.chunks[ch.ID] = &ch
			e.docChunks[ch.StrandID] = append(e.docChunks[ch.StrandID], ch.ID)
			e.lex.AddDocument(ch.ID, ch.Text)
			if len(ch.Embedding) > 0 {
				e.hasVectors = true
			}
		}
	}
	e.corpusLoaded = true

	slog.Info("corpus loaded",
		"documents", len(artifact.Documents),
		"chunks", len(e.chunks),
		"model", artifact.Model,
		"semantic", status.Available && e.hasVectors,
	)
}

// Ready reports whether Initialize has completed.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateReady
}

// ChunkCount returns the number of loaded chunks.
func (e *Engine) ChunkCount() int {
	return len(e.chunks)
}

// CorpusLoaded reports whether the embeddings artifact was loaded.
func (e *Engine) CorpusLoaded() bool {
	return e.corpusLoaded
}

// BackendStatus returns the embedding backend's last health snapshot.
func (e *Engine) BackendStatus() backend.Status {
	return e.backend.GetStatus()
}

// semanticCapable reports whether semantic retrieval can actually run: the
// backend must be available and the corpus must carry vectors.
func (e *Engine) semanticCapable() bool {
	return e.backend.IsSemanticAvailable() && e.hasVectors
}

// Dispose releases the backend and clears all indexes.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backend.Dispose()
	e.chunks = make(map[string]*corpus.Chunk)
	e.docChunks = make(map[string][]string)
	e.lex.Clear()
	e.corpusLoaded = false
	e.hasVectors = false
	e.state = stateUninitialized
	e.ready = nil
}

// Search retrieves ranked results for the query. The returned results carry
// the method that actually ran: a semantic or hybrid request degrades to
// lexical when no embedding capability exists, and says so.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]ScoredResult, error) {
	if !e.Ready() {
		return nil, ErrNotInitialized
	}
	opts = opts.withDefaults(e.defaults)

	// Fetch double the requested amount so the post-filter has headroom.
	fetchK := opts.TopK * 2

	var results []ScoredResult
	switch opts.Method {
	case MethodSemantic:
		results = e.semanticSearch(ctx, query, fetchK)
	case MethodLexical:
		results = e.lexicalSearch(query, fetchK)
	case MethodHybrid:
		var err error
		results, err = e.hybridSearch(ctx, query, fetchK, opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown search method %q", opts.Method)
	}

	return postProcess(results, opts), nil
}

// semanticSearch embeds the query once and scores it against every chunk
// vector. Falls back to lexical — reporting method lexical, never claiming
// semantic — when the backend is unavailable, the corpus has no vectors, or
// the embed call fails.
func (e *Engine) semanticSearch(ctx context.Context, query string, fetchK int) []ScoredResult {
	if !e.semanticCapable() {
		return e.lexicalSearch(query, fetchK)
	}

	queryVec, err := e.backend.Embed(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, falling back to lexical search", "error", err)
		return e.lexicalSearch(query, fetchK)
	}

	results := make([]ScoredResult, 0, len(e.chunks))
	for _, ch := range e.chunks {
		if len(ch.Embedding) == 0 {
			continue
		}
		score := cosine(queryVec, ch.Embedding)
		if score <= 0 {
			continue
		}
		results = append(results, e.makeResult(ch, score, MethodSemantic))
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > fetchK {
		results = results[:fetchK]
	}
	return results
}

// lexicalSearch delegates to the TF-IDF index.
func (e *Engine) lexicalSearch(query string, fetchK int) []ScoredResult {
	hits := e.lex.Search(query, fetchK)
	results := make([]ScoredResult, 0, len(hits))
	for _, h := range hits {
		ch, ok := e.chunks[h.ID]
		if !ok {
			continue
		}
		results = append(results, e.makeResult(ch, h.Score, MethodLexical))
	}
	return results
}

// hybridSearch runs the semantic and lexical legs concurrently and fuses
// their scores: hybrid = semantic*wS + lexical*wL, with a missing leg score
// contributing 0 for that id. When no semantic capability exists at all the
// engine degrades to the plain lexical result set rather than down-weighting
// every score by the lexical weight.
func (e *Engine) hybridSearch(ctx context.Context, query string, fetchK int, opts Options) ([]ScoredResult, error) {
	if !e.semanticCapable() {
		return e.lexicalSearch(query, fetchK), nil
	}

	var semantic, lex []ScoredResult
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		semantic = e.semanticSearch(gCtx, query, fetchK)
		return nil
	})
	g.Go(func() error {
		lex = e.lexicalSearch(query, fetchK)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The semantic leg may itself have degraded to lexical (embed failure
	// mid-query). Fusing two lexical result sets would double-count, so pass
	// the lexical results through unchanged in that case.
	if len(semantic) > 0 && semantic[0].Method == MethodLexical {
		return lex, nil
	}

	semScores := make(map[string]float64, len(semantic))
	for _, r := range semantic {
		semScores[r.Chunk.ID] = r.Score
	}
	lexScores := make(map[string]float64, len(lex))
	for _, r := range lex {
		lexScores[r.Chunk.ID] = r.Score
	}

	seen := make(map[string]bool, len(semScores)+len(lexScores))
	var results []ScoredResult
	for _, set := range [][]ScoredResult{semantic, lex} {
		for _, r := range set {
			id := r.Chunk.ID
			if seen[id] {
				continue
			}
			seen[id] = true
			combined := semScores[id]*opts.SemanticWeight + lexScores[id]*opts.LexicalWeight
			results = append(results, e.makeResult(r.Chunk, combined, MethodHybrid))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (e *Engine) makeResult(ch *corpus.Chunk, score float64, method Method) ScoredResult {
	snippet := ch.Summary
	if snippet == "" {
		snippet = ch.Text
	}
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return ScoredResult{
		Chunk:   ch,
		Score:   score,
		Method:  method,
		Snippet: snippet,
		Title:   ch.Title,
		Tags:    ch.Tags,
	}
}

// postProcess applies allow-list filters, the minimum-score cut, and the
// final topK truncation. It runs for every method.
func postProcess(results []ScoredResult, opts Options) []ScoredResult {
	strands := toSet(opts.Strands)
	tags := toSet(opts.Tags)
	types := toSet(opts.Types)

	filtered := results[:0]
	for _, r := range results {
		if len(strands) > 0 && !strands[r.Chunk.StrandID] {
			continue
		}
		if len(types) > 0 && !types[r.Chunk.Type] {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(r.Chunk.Tags, tags) {
			continue
		}
		if r.Score < opts.MinScore {
			continue
		}
		filtered = append(filtered, r)
	}

	if len(filtered) > opts.TopK {
		filtered = filtered[:opts.TopK]
	}
	return filtered
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func hasAnyTag(tags []string, allowed map[string]bool) bool {
	for _, t := range tags {
		if allowed[t] {
			return true
		}
	}
	return false
}
