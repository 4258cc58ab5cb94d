package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loomnotes/oracle/internal/corpus"
	"github.com/loomnotes/oracle/internal/oracle"
	"github.com/loomnotes/oracle/internal/search"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPTool_AskOracle(t *testing.T) {
	var captured oracle.Request
	deps := MCPDeps{
		Oracle: &mockOracle{
			queryFn: func(_ context.Context, req oracle.Request) (*oracle.Response, error) {
				captured = req
				return &oracle.Response{QueryID: "q-1", Answer: "cited answer"}, nil
			},
		},
	}
	handler := mcpAskOracle(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask_oracle", map[string]interface{}{
		"question": "What is recursion?",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var resp oracle.Response
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "cited answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if !captured.Answer.Citations || captured.Answer.SkipSocratic {
		t.Errorf("request options = %+v", captured.Answer)
	}

	// Opting out maps onto SkipSocratic.
	if _, err := handler(context.Background(), makeCallToolRequest("ask_oracle", map[string]interface{}{
		"question": "What is recursion?",
		"socratic": false,
	})); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !captured.Answer.SkipSocratic {
		t.Errorf("socratic=false not honored: %+v", captured.Answer)
	}
}

func TestMCPTool_AskOracleRequiresQuestion(t *testing.T) {
	handler := mcpAskOracle(MCPDeps{Oracle: &mockOracle{}})

	result, err := handler(context.Background(), makeCallToolRequest("ask_oracle", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing question")
	}
}

func TestMCPTool_AskOracleQueryFailure(t *testing.T) {
	handler := mcpAskOracle(MCPDeps{
		Oracle: &mockOracle{
			queryFn: func(_ context.Context, _ oracle.Request) (*oracle.Response, error) {
				return nil, errors.New("not ready")
			},
		},
	})

	result, err := handler(context.Background(), makeCallToolRequest("ask_oracle", map[string]interface{}{
		"question": "hello",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error when query fails")
	}
}

func TestMCPTool_SearchCorpus(t *testing.T) {
	deps := MCPDeps{
		Search: &mockSearch{results: []search.ScoredResult{
			{Chunk: &corpus.Chunk{ID: "c1", StrandID: "s1"}, Score: 0.75, Method: search.MethodLexical, Snippet: "a snippet"},
		}},
	}
	handler := mcpSearchCorpus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_corpus", map[string]interface{}{
		"query": "recursion",
		"limit": 3,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var out []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0]["chunk_id"] != "c1" {
		t.Errorf("results = %+v", out)
	}
}

func TestMCPTool_SearchCorpusEmpty(t *testing.T) {
	handler := mcpSearchCorpus(MCPDeps{Search: &mockSearch{}})

	result, err := handler(context.Background(), makeCallToolRequest("search_corpus", map[string]interface{}{
		"query": "nothing matches",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("empty result = %q, want []", got)
	}
}

func TestMCPResource_State(t *testing.T) {
	deps := MCPDeps{
		Oracle: &mockOracle{state: oracle.State{Status: oracle.StatusReady, ChunkCount: 3}},
	}
	handler := mcpResourceState(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("oracle://state"))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var state oracle.State
	if err := json.Unmarshal([]byte(tc.Text), &state); err != nil {
		t.Fatal(err)
	}
	if state.Status != oracle.StatusReady || state.ChunkCount != 3 {
		t.Errorf("state = %+v", state)
	}
}
