// Package oracle orchestrates query answering over the search engine: it
// picks an execution strategy (remote generative backend when reachable,
// local extractive synthesis otherwise), tracks readiness, and guarantees the
// caller a usable response under any backend-availability combination.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomnotes/oracle/internal/backend"
	"github.com/loomnotes/oracle/internal/search"
)

// ErrEmptyQuestion is a caller error: the request carried no question.
var ErrEmptyQuestion = errors.New("question must not be empty")

// ErrNotInitialized is returned when Query runs before Initialize completed.
var ErrNotInitialized = errors.New("oracle not initialized")

// historyCap bounds the in-memory query history.
const historyCap = 100

// defaultTokenDelay paces local word-by-word streaming.
const defaultTokenDelay = 20 * time.Millisecond

// Searcher is the retrieval dependency, satisfied by *search.Engine.
type Searcher interface {
	Initialize(ctx context.Context) error
	Search(ctx context.Context, query string, opts search.Options) ([]search.ScoredResult, error)
	ChunkCount() int
	CorpusLoaded() bool
	BackendStatus() backend.Status
	Dispose()
}

// RemoteBackend is the optional generative dependency, satisfied by
// *remote.Client.
type RemoteBackend interface {
	Health(ctx context.Context) bool
	Query(ctx context.Context, payload any) (json.RawMessage, error)
	Stream(ctx context.Context, payload any) (io.ReadCloser, error)
}

// HistoryRecorder persists completed queries. Best effort: failures are
// logged, never surfaced.
type HistoryRecorder interface {
	Record(entry HistoryEntry) error
}

// Oracle is the query orchestrator. One instance per process; collaborators
// are injected so tests can substitute doubles.
type Oracle struct {
	engine     Searcher
	remote     RemoteBackend
	recorder   HistoryRecorder
	tokenDelay time.Duration

	mu              sync.Mutex
	status          Status
	message         string
	lastError       string
	querying        bool
	remoteAvailable bool
	ready           chan struct{}
	history         []HistoryEntry
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithRemote attaches a remote generative backend.
func WithRemote(r RemoteBackend) Option {
	return func(o *Oracle) { o.remote = r }
}

// WithHistoryRecorder attaches a persistent query log.
func WithHistoryRecorder(rec HistoryRecorder) Option {
	return func(o *Oracle) { o.recorder = rec }
}

// WithTokenDelay overrides the local streaming pace. Zero disables the delay
// (used by tests).
func WithTokenDelay(d time.Duration) Option {
	return func(o *Oracle) { o.tokenDelay = d }
}

// New creates an Oracle over the given search engine.
func New(engine Searcher, opts ...Option) *Oracle {
	o := &Oracle{
		engine:     engine,
		status:     StatusUninitialized,
		tokenDelay: defaultTokenDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initialize walks the readiness state machine:
// uninitialized → initializing → loading-embeddings → ready. Idempotent:
// calls after completion return immediately, concurrent callers coalesce on
// the first attempt. Only a fully failed initialization — no corpus AND no
// embedding backend — lands in the error state, and even then the oracle
// stays queryable.
func (o *Oracle) Initialize(ctx context.Context) error {
	o.mu.Lock()
	switch o.status {
	case StatusReady, StatusError:
		o.mu.Unlock()
		return nil
	case StatusInitializing, StatusLoadingEmbeddings:
		ready := o.ready
		o.mu.Unlock()
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	o.status = StatusInitializing
	o.message = "checking backends"
	o.ready = make(chan struct{})
	ready := o.ready
	o.mu.Unlock()

	defer close(ready)

	// Remote availability is checked once and cached for the session; a later
	// failed remote call triggers per-query fallback, not a recheck.
	remoteAvailable := o.remote != nil && o.remote.Health(ctx)

	o.setPhase(StatusLoadingEmbeddings, "loading embeddings artifact")
	if err := o.engine.Initialize(ctx); err != nil {
		o.mu.Lock()
		o.status = StatusError
		o.message = "initialization failed"
		o.lastError = err.Error()
		o.remoteAvailable = remoteAvailable
		o.mu.Unlock()
		return fmt.Errorf("initializing search engine: %w", err)
	}

	o.mu.Lock()
	o.remoteAvailable = remoteAvailable
	if !o.engine.CorpusLoaded() && !o.engine.BackendStatus().Available {
		// Zero usable capability. Still queryable: every query will produce a
		// degraded no-results response rather than an error.
		o.status = StatusError
		o.message = "no corpus and no embedding backend available"
		o.lastError = o.message
	} else {
		o.status = StatusReady
		o.message = fmt.Sprintf("ready with %d chunks", o.engine.ChunkCount())
	}
	o.mu.Unlock()
	return nil
}

// Dispose releases the search engine and resets the state machine.
func (o *Oracle) Dispose() {
	o.engine.Dispose()
	o.mu.Lock()
	o.status = StatusUninitialized
	o.message = "disposed"
	o.querying = false
	o.ready = nil
	o.mu.Unlock()
}

// State returns a point-in-time snapshot, including the bounded history.
func (o *Oracle) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	history := make([]HistoryEntry, len(o.history))
	copy(history, o.history)
	return State{
		Status:           o.status,
		Message:          o.message,
		Backend:          o.engine.BackendStatus(),
		RemoteAvailable:  o.remoteAvailable,
		EmbeddingsLoaded: o.engine.CorpusLoaded(),
		ChunkCount:       o.engine.ChunkCount(),
		LastError:        o.lastError,
		Querying:         o.querying,
		History:          history,
	}
}

// History returns up to limit recent entries, most recent first.
func (o *Oracle) History(limit int) []HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit <= 0 || limit > len(o.history) {
		limit = len(o.history)
	}
	out := make([]HistoryEntry, limit)
	copy(out, o.history[:limit])
	return out
}

// Query answers a single request. It never fails because of backend or
// search degradation — only programmer-error-class problems (empty question,
// querying before initialization) return an error.
func (o *Oracle) Query(ctx context.Context, req Request) (*Response, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	queryID := uuid.New().String()
	start := time.Now()
	o.setQuerying(true)
	defer o.setQuerying(false)

	if req.DryRun {
		// Dry runs show up in history like any other query; estimating a
		// cost always succeeds.
		o.recordHistory(queryID, req.Question, true)
		return o.dryRunResponse(queryID, req), nil
	}

	if o.remoteEligible(req) {
		resp, err := o.remoteQuery(ctx, queryID, req, start)
		if err == nil {
			o.recordHistory(queryID, req.Question, true)
			return resp, nil
		}
		slog.Warn("remote query failed, answering locally", "query_id", queryID, "error", err)
	}

	resp := o.localQuery(ctx, queryID, req, start)
	o.recordHistory(queryID, req.Question, !resp.Degraded)
	return resp, nil
}

func (o *Oracle) validate(req Request) error {
	if strings.TrimSpace(req.Question) == "" {
		return ErrEmptyQuestion
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != StatusReady && o.status != StatusError {
		return ErrNotInitialized
	}
	return nil
}

// remoteEligible decides the execution path per query, never cached: the
// remote backend must have been reachable at init and the caller must not
// have demanded strictly extractive answers.
func (o *Oracle) remoteEligible(req Request) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.remote != nil && o.remoteAvailable && req.Answer.Mode != ModeExtractive
}

// remotePayload is the wire shape sent to the remote backend: the request
// plus the query id minted for it.
type remotePayload struct {
	QueryID string `json:"query_id"`
	Request
}

func (o *Oracle) remoteQuery(ctx context.Context, queryID string, req Request, start time.Time) (*Response, error) {
	raw, err := o.remote.Query(ctx, remotePayload{QueryID: queryID, Request: req})
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed remote response: %w", err)
	}
	if resp.QueryID == "" {
		resp.QueryID = queryID
	}
	if resp.Question == "" {
		resp.Question = req.Question
	}
	if resp.Mode == "" {
		resp.Mode = req.Answer.Mode
	}
	resp.Offline = false
	resp.Metadata.LatencyMs = time.Since(start).Milliseconds()
	resp.Metadata.Backend = "remote"
	resp.Metadata.CorpusSize = o.engine.ChunkCount()
	return &resp, nil
}

// localQuery is the extractive path. It always returns a response.
func (o *Oracle) localQuery(ctx context.Context, queryID string, req Request, start time.Time) *Response {
	opts := req.Search
	if opts.TopK <= 0 && req.Answer.Citations {
		// Citations want a deeper result list for the related-documents band;
		// otherwise the engine's configured default applies.
		opts.TopK = 10
	}

	results, err := o.engine.Search(ctx, req.Question, opts)
	if err != nil {
		slog.Warn("search failed, returning degraded response", "query_id", queryID, "error", err)
		results = nil
	}

	if len(results) == 0 {
		return o.noResultsResponse(queryID, req, start)
	}

	top := results
	if len(top) > 5 {
		top = top[:5]
	}

	resp := &Response{
		QueryID:    queryID,
		Question:   req.Question,
		Answer:     synthesizeAnswer(req.Question, top),
		Confidence: confidence(results),
		Mode:       ModeExtractive,
		Citations:  buildCitations(top),
		Results:    results,
		Offline:    !o.isRemoteAvailable(),
	}
	if !req.Answer.SkipSocratic {
		resp.SocraticQuestions = socraticQuestions(req.Question, top)
	}
	resp.RelatedDocuments = relatedDocuments(results, top)

	resp.Metadata = Metadata{
		LatencyMs:    time.Since(start).Milliseconds(),
		Backend:      o.backendLabel(results),
		SearchMethod: results[0].Method,
		CorpusSize:   o.engine.ChunkCount(),
		ResultCount:  len(results),
	}
	return resp
}

// noResultsResponse is the defined degraded shape for an empty result set.
func (o *Oracle) noResultsResponse(queryID string, req Request, start time.Time) *Response {
	return &Response{
		QueryID:    queryID,
		Question:   req.Question,
		Answer:     "I couldn't find anything in your knowledge base that addresses this question. Try rephrasing it, or add more notes on the topic first.",
		Confidence: 0,
		Mode:       ModeFallback,
		SocraticQuestions: []string{
			clarifyingQuestion(req.Question),
		},
		Degraded:       true,
		DegradedReason: "no-results",
		Offline:        !o.isRemoteAvailable(),
		Metadata: Metadata{
			LatencyMs:  time.Since(start).Milliseconds(),
			Backend:    o.backendLabel(nil),
			CorpusSize: o.engine.ChunkCount(),
		},
	}
}

// dryRunResponse estimates cost without touching the search engine.
func (o *Oracle) dryRunResponse(queryID string, req Request) *Response {
	est := estimateCost(req)
	mode := req.Answer.Mode
	if mode == "" {
		mode = ModeExtractive
	}
	return &Response{
		QueryID:  queryID,
		Question: req.Question,
		Answer:   "",
		Mode:     mode,
		Offline:  !o.isRemoteAvailable(),
		Metadata: Metadata{
			Backend:       o.backendLabel(nil),
			CorpusSize:    o.engine.ChunkCount(),
			EstimatedCost: &est,
		},
	}
}

// backendLabel names the embedding backend that actually served the results.
func (o *Oracle) backendLabel(results []search.ScoredResult) string {
	status := o.engine.BackendStatus()
	if len(results) > 0 && results[0].Method != search.MethodLexical && status.Model != "" {
		return status.Model
	}
	if status.Available && status.Model != "" {
		return status.Model
	}
	return "lexical-only"
}

func (o *Oracle) isRemoteAvailable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.remoteAvailable
}

func (o *Oracle) setQuerying(v bool) {
	o.mu.Lock()
	o.querying = v
	o.mu.Unlock()
}

func (o *Oracle) setPhase(s Status, msg string) {
	o.mu.Lock()
	o.status = s
	o.message = msg
	o.mu.Unlock()
}

// recordHistory appends to the bounded most-recent-first history and writes
// through to the persistent recorder when one is attached.
func (o *Oracle) recordHistory(id, question string, success bool) {
	entry := HistoryEntry{
		ID:        id,
		Question:  question,
		Timestamp: time.Now().UTC(),
		Success:   success,
	}

	o.mu.Lock()
	o.history = append([]HistoryEntry{entry}, o.history...)
	if len(o.history) > historyCap {
		o.history = o.history[:historyCap]
	}
	o.mu.Unlock()

	if o.recorder != nil {
		if err := o.recorder.Record(entry); err != nil {
			slog.Warn("persisting query history failed", "query_id", id, "error", err)
		}
	}
}
