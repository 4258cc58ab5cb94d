package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loomnotes/oracle/internal/oracle"
	"github.com/loomnotes/oracle/internal/search"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Oracle OracleService
	Search SearchService
}

// NewMCPServer creates an MCP server exposing the oracle's tools and state.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"loom-oracle",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("loom-oracle — question answering over a personal knowledge base, with citations back to source notes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_oracle",
			mcp.WithDescription("Ask a question against the knowledge base and get a cited answer."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("mode", mcp.Description("Answer mode: extractive, generative, or hybrid (default extractive)")),
			mcp.WithBoolean("socratic", mcp.Description("Include Socratic follow-up questions (default true)")),
		),
		mcpAskOracle(deps),
	)

	s.AddTool(
		mcp.NewTool("search_corpus",
			mcp.WithDescription("Search the knowledge base and return scored chunks without synthesizing an answer."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithString("method", mcp.Description("Search method: semantic, lexical, or hybrid (default hybrid)")),
		),
		mcpSearchCorpus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"oracle://state",
			"Oracle State",
			mcp.WithResourceDescription("Current orchestrator state as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceState(deps),
	)

	return s
}

func mcpAskOracle(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		mode := oracle.Mode(req.GetString("mode", ""))
		socratic := req.GetBool("socratic", true)

		resp, err := deps.Oracle.Query(ctx, oracle.Request{
			Question: question,
			Answer: oracle.AnswerOptions{
				Mode:         mode,
				Citations:    true,
				SkipSocratic: !socratic,
			},
		})
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchCorpus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		opts := search.Options{
			TopK:   limit,
			Method: search.Method(req.GetString("method", "")),
		}

		results, err := deps.Search.Search(ctx, query, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ChunkID  string  `json:"chunk_id"`
			StrandID string  `json:"strand_id"`
			Title    string  `json:"title,omitempty"`
			Snippet  string  `json:"snippet"`
			Score    float64 `json:"score"`
			Method   string  `json:"method"`
		}

		out := make([]chunkResult, len(results))
		for i, r := range results {
			out[i] = chunkResult{
				ChunkID:  r.Chunk.ID,
				StrandID: r.Chunk.StrandID,
				Title:    r.Title,
				Snippet:  r.Snippet,
				Score:    r.Score,
				Method:   string(r.Method),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceState(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Oracle.State())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal state: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
