package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/loomnotes/oracle/internal/backend"
	"github.com/loomnotes/oracle/internal/corpus"
	"github.com/loomnotes/oracle/internal/search"
)

type mockSearcher struct {
	initErr      error
	results      []search.ScoredResult
	searchErr    error
	chunkCount   int
	corpusLoaded bool
	status       backend.Status

	initCalls   int
	searchCalls int
}

func (m *mockSearcher) Initialize(ctx context.Context) error {
	m.initCalls++
	return m.initErr
}

func (m *mockSearcher) Search(ctx context.Context, query string, opts search.Options) ([]search.ScoredResult, error) {
	m.searchCalls++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.results, nil
}

func (m *mockSearcher) ChunkCount() int               { return m.chunkCount }
func (m *mockSearcher) CorpusLoaded() bool            { return m.corpusLoaded }
func (m *mockSearcher) BackendStatus() backend.Status { return m.status }
func (m *mockSearcher) Dispose()                      {}

type mockRemote struct {
	healthy  bool
	queryFn  func(payload any) (json.RawMessage, error)
	streamFn func(payload any) (io.ReadCloser, error)

	queryCalls  int
	streamCalls int
}

func (m *mockRemote) Health(ctx context.Context) bool { return m.healthy }

func (m *mockRemote) Query(ctx context.Context, payload any) (json.RawMessage, error) {
	m.queryCalls++
	if m.queryFn == nil {
		return nil, errors.New("no query stub")
	}
	return m.queryFn(payload)
}

func (m *mockRemote) Stream(ctx context.Context, payload any) (io.ReadCloser, error) {
	m.streamCalls++
	if m.streamFn == nil {
		return nil, errors.New("no stream stub")
	}
	return m.streamFn(payload)
}

type mockRecorder struct {
	entries []HistoryEntry
	err     error
}

func (m *mockRecorder) Record(entry HistoryEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

// scoredResults fabricates n results with descending scores starting at top.
func scoredResults(n int, top float64) []search.ScoredResult {
	results := make([]search.ScoredResult, n)
	for i := range results {
		results[i] = search.ScoredResult{
			Chunk: &corpus.Chunk{
				ID:       fmt.Sprintf("chunk-%d", i),
				StrandID: fmt.Sprintf("strand-%d", i),
				Text:     fmt.Sprintf("Recursion is a technique where a function calls itself. Example %d.", i),
			},
			Score:  top - float64(i)*0.1,
			Method: search.MethodHybrid,
			Title:  fmt.Sprintf("Note %d", i),
			Tags:   []string{"programming"},
		}
	}
	return results
}

func readySearcher(results []search.ScoredResult) *mockSearcher {
	return &mockSearcher{
		results:      results,
		chunkCount:   42,
		corpusLoaded: true,
		status:       backend.Status{Available: true, Model: "nomic-embed-text", Dimensions: 768},
	}
}

func initialized(t *testing.T, engine Searcher, opts ...Option) *Oracle {
	t.Helper()
	o := New(engine, opts...)
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return o
}

func TestQueryBeforeInitialize(t *testing.T) {
	o := New(readySearcher(nil))
	_, err := o.Query(context.Background(), Request{Question: "hello"})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestQueryEmptyQuestion(t *testing.T) {
	o := initialized(t, readySearcher(nil))
	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := o.Query(context.Background(), Request{Question: q}); !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("Query(%q) err = %v, want ErrEmptyQuestion", q, err)
		}
	}
}

func TestInitializeIdempotent(t *testing.T) {
	engine := readySearcher(nil)
	o := initialized(t, engine)
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if engine.initCalls != 1 {
		t.Errorf("engine initialized %d times, want 1", engine.initCalls)
	}
	if got := o.State().Status; got != StatusReady {
		t.Errorf("status = %q, want ready", got)
	}
}

func TestInitializeNoCapabilityEntersErrorStateButStaysQueryable(t *testing.T) {
	engine := &mockSearcher{corpusLoaded: false, status: backend.Status{Available: false}}
	o := initialized(t, engine)

	if got := o.State().Status; got != StatusError {
		t.Fatalf("status = %q, want error", got)
	}

	resp, err := o.Query(context.Background(), Request{Question: "anything"})
	if err != nil {
		t.Fatalf("Query in error state: %v", err)
	}
	if !resp.Degraded || resp.Mode != ModeFallback {
		t.Errorf("degraded = %v mode = %q, want degraded fallback", resp.Degraded, resp.Mode)
	}
}

func TestInitializeEngineFailure(t *testing.T) {
	engine := &mockSearcher{initErr: errors.New("artifact exploded")}
	o := New(engine)
	if err := o.Initialize(context.Background()); err == nil {
		t.Fatal("expected initialization error")
	}
	state := o.State()
	if state.Status != StatusError {
		t.Errorf("status = %q, want error", state.Status)
	}
	if state.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestQueryNoResultsShape(t *testing.T) {
	o := initialized(t, readySearcher(nil))
	resp, err := o.Query(context.Background(), Request{Question: "quantum badgers"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Mode != ModeFallback {
		t.Errorf("mode = %q, want fallback", resp.Mode)
	}
	if resp.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", resp.Confidence)
	}
	if !resp.Degraded || resp.DegradedReason != "no-results" {
		t.Errorf("degraded = %v reason = %q", resp.Degraded, resp.DegradedReason)
	}
	if len(resp.SocraticQuestions) != 1 {
		t.Errorf("got %d socratic questions, want 1", len(resp.SocraticQuestions))
	}
	if resp.Answer == "" {
		t.Error("degraded response must still carry an answer")
	}
}

func TestQuerySearchErrorDegradesToNoResults(t *testing.T) {
	engine := readySearcher(nil)
	engine.searchErr = errors.New("index corrupted")
	o := initialized(t, engine)

	resp, err := o.Query(context.Background(), Request{Question: "hello"})
	if err != nil {
		t.Fatalf("Query must absorb search failure, got: %v", err)
	}
	if !resp.Degraded {
		t.Error("response not marked degraded")
	}
}

func TestQueryLocalExtractive(t *testing.T) {
	results := scoredResults(8, 0.9)
	o := initialized(t, readySearcher(results))

	resp, err := o.Query(context.Background(), Request{Question: "What is recursion?"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if resp.Mode != ModeExtractive {
		t.Errorf("mode = %q, want extractive", resp.Mode)
	}
	if !strings.Contains(resp.Answer, "Recursion is a technique") {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Citations) != 5 {
		t.Errorf("got %d citations, want 5", len(resp.Citations))
	}
	if resp.Citations[0].Index != 1 || resp.Citations[0].ChunkID != "chunk-0" {
		t.Errorf("first citation = %+v", resp.Citations[0])
	}

	wantConf := (0.9 + 0.8 + 0.7) / 3
	if diff := resp.Confidence - wantConf; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", resp.Confidence, wantConf)
	}

	if len(resp.SocraticQuestions) == 0 || len(resp.SocraticQuestions) > 3 {
		t.Errorf("got %d socratic questions", len(resp.SocraticQuestions))
	}
	if resp.Metadata.CorpusSize != 42 || resp.Metadata.ResultCount != 8 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	if resp.Metadata.SearchMethod != search.MethodHybrid {
		t.Errorf("search method = %q", resp.Metadata.SearchMethod)
	}
	if !resp.Offline {
		t.Error("no remote configured, response must be offline")
	}
}

func TestQuerySocraticOnByDefault(t *testing.T) {
	o := initialized(t, readySearcher(scoredResults(5, 0.9)))
	resp, err := o.Query(context.Background(), Request{Question: "What is recursion?"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.SocraticQuestions) == 0 {
		t.Fatal("default-options query carried no socratic questions")
	}
	// All fixture results are tagged "programming", so the connecting
	// question must reference that tag.
	var tagged bool
	for _, q := range resp.SocraticQuestions {
		if strings.Contains(q, "programming") {
			tagged = true
		}
	}
	if !tagged {
		t.Errorf("no socratic question references the dominant tag: %v", resp.SocraticQuestions)
	}
}

func TestQuerySocraticSkipped(t *testing.T) {
	o := initialized(t, readySearcher(scoredResults(5, 0.9)))
	resp, err := o.Query(context.Background(), Request{
		Question: "What is recursion?",
		Answer:   AnswerOptions{SkipSocratic: true},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.SocraticQuestions) != 0 {
		t.Errorf("socratic questions present despite skip: %v", resp.SocraticQuestions)
	}
}

func TestQueryRelatedDocumentsExcludeCitedStrands(t *testing.T) {
	results := scoredResults(8, 0.9)
	// Rank 6 shares a strand with a cited result and must not be suggested.
	results[5].Chunk.StrandID = "strand-0"
	o := initialized(t, readySearcher(results))

	resp, err := o.Query(context.Background(), Request{Question: "tell me about recursion"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, rd := range resp.RelatedDocuments {
		if rd.StrandID == "strand-0" {
			t.Errorf("cited strand suggested as related: %+v", rd)
		}
	}
	if len(resp.RelatedDocuments) != 2 {
		t.Errorf("got %d related documents, want 2", len(resp.RelatedDocuments))
	}
}

func TestQueryDryRunNeverSearches(t *testing.T) {
	engine := readySearcher(scoredResults(3, 0.9))
	o := initialized(t, engine)

	resp, err := o.Query(context.Background(), Request{
		Question: "What is recursion?",
		Answer:   AnswerOptions{Mode: ModeGenerative},
		DryRun:   true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if engine.searchCalls != 0 {
		t.Errorf("dry run searched %d times, want 0", engine.searchCalls)
	}
	if resp.Answer != "" {
		t.Errorf("dry run answer = %q, want empty", resp.Answer)
	}
	est := resp.Metadata.EstimatedCost
	if est == nil {
		t.Fatal("dry run response missing cost estimate")
	}
	if est.Tokens <= 0 || est.TotalUSD <= 0 {
		t.Errorf("estimate = %+v", est)
	}
}

func TestQueryDryRunRecordedInHistory(t *testing.T) {
	rec := &mockRecorder{}
	o := initialized(t, readySearcher(scoredResults(3, 0.9)), WithHistoryRecorder(rec))

	if _, err := o.Query(context.Background(), Request{Question: "how much?", DryRun: true}); err != nil {
		t.Fatalf("Query: %v", err)
	}

	history := o.History(0)
	if len(history) != 1 || history[0].Question != "how much?" {
		t.Fatalf("history = %+v", history)
	}
	if !history[0].Success {
		t.Error("dry run recorded as failure")
	}
	if len(rec.entries) != 1 {
		t.Errorf("recorder entries = %+v", rec.entries)
	}
}

func TestQueryRemote(t *testing.T) {
	remote := &mockRemote{
		healthy: true,
		queryFn: func(payload any) (json.RawMessage, error) {
			return json.RawMessage(`{"answer":"a generative answer","confidence":0.95,"mode":"generative"}`), nil
		},
	}
	o := initialized(t, readySearcher(nil), WithRemote(remote))

	resp, err := o.Query(context.Background(), Request{
		Question: "What is recursion?",
		Answer:   AnswerOptions{Mode: ModeGenerative},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Answer != "a generative answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Metadata.Backend != "remote" {
		t.Errorf("backend = %q, want remote", resp.Metadata.Backend)
	}
	if resp.Question != "What is recursion?" {
		t.Errorf("question not filled in: %q", resp.Question)
	}
	if resp.Offline {
		t.Error("remote answer marked offline")
	}
}

func TestQueryRemoteFailureFallsBackLocally(t *testing.T) {
	remote := &mockRemote{
		healthy: true,
		queryFn: func(payload any) (json.RawMessage, error) {
			return nil, errors.New("remote down mid-session")
		},
	}
	o := initialized(t, readySearcher(scoredResults(5, 0.9)), WithRemote(remote))

	resp, err := o.Query(context.Background(), Request{
		Question: "What is recursion?",
		Answer:   AnswerOptions{Mode: ModeHybrid},
	})
	if err != nil {
		t.Fatalf("Query must fall back, got: %v", err)
	}
	if resp.Mode != ModeExtractive {
		t.Errorf("mode = %q, want extractive fallback", resp.Mode)
	}
	if remote.queryCalls != 1 {
		t.Errorf("remote queried %d times, want 1", remote.queryCalls)
	}
}

func TestQueryExtractiveModeSkipsRemote(t *testing.T) {
	remote := &mockRemote{healthy: true}
	o := initialized(t, readySearcher(scoredResults(5, 0.9)), WithRemote(remote))

	if _, err := o.Query(context.Background(), Request{
		Question: "What is recursion?",
		Answer:   AnswerOptions{Mode: ModeExtractive},
	}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if remote.queryCalls != 0 {
		t.Errorf("extractive query hit the remote backend %d times", remote.queryCalls)
	}
}

func TestQueryUnhealthyRemoteNeverCalled(t *testing.T) {
	remote := &mockRemote{healthy: false}
	o := initialized(t, readySearcher(scoredResults(5, 0.9)), WithRemote(remote))

	resp, err := o.Query(context.Background(), Request{
		Question: "What is recursion?",
		Answer:   AnswerOptions{Mode: ModeGenerative},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if remote.queryCalls != 0 {
		t.Error("unhealthy remote was still queried")
	}
	if !resp.Offline {
		t.Error("response not marked offline")
	}
}

func TestHistoryOrderAndCap(t *testing.T) {
	o := initialized(t, readySearcher(scoredResults(3, 0.9)))

	for i := 0; i < historyCap+10; i++ {
		if _, err := o.Query(context.Background(), Request{Question: fmt.Sprintf("question %d", i)}); err != nil {
			t.Fatalf("Query %d: %v", i, err)
		}
	}

	history := o.History(0)
	if len(history) != historyCap {
		t.Fatalf("history length = %d, want %d", len(history), historyCap)
	}
	if history[0].Question != fmt.Sprintf("question %d", historyCap+9) {
		t.Errorf("most recent entry = %q", history[0].Question)
	}

	limited := o.History(5)
	if len(limited) != 5 {
		t.Errorf("History(5) returned %d entries", len(limited))
	}
}

func TestHistoryRecorderWriteThrough(t *testing.T) {
	rec := &mockRecorder{}
	o := initialized(t, readySearcher(scoredResults(3, 0.9)), WithHistoryRecorder(rec))

	if _, err := o.Query(context.Background(), Request{Question: "persist me"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rec.entries) != 1 || rec.entries[0].Question != "persist me" {
		t.Fatalf("recorder entries = %+v", rec.entries)
	}
	if !rec.entries[0].Success {
		t.Error("successful query recorded as failure")
	}
}

func TestHistoryRecorderFailureIsAbsorbed(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	o := initialized(t, readySearcher(scoredResults(3, 0.9)), WithHistoryRecorder(rec))

	if _, err := o.Query(context.Background(), Request{Question: "still works"}); err != nil {
		t.Fatalf("Query must tolerate recorder failure: %v", err)
	}
	if len(o.History(0)) != 1 {
		t.Error("in-memory history lost on recorder failure")
	}
}

func TestDisposeResetsState(t *testing.T) {
	o := initialized(t, readySearcher(nil))
	o.Dispose()
	if got := o.State().Status; got != StatusUninitialized {
		t.Errorf("status after dispose = %q", got)
	}
	if _, err := o.Query(context.Background(), Request{Question: "hello"}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized after dispose", err)
	}
}
