package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomnotes/oracle/internal/oracle"
	"github.com/loomnotes/oracle/internal/search"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the knowledge base",
	Long: `Ask a question against the knowledge base.

Examples:
  oracle ask "What is recursion?"
  oracle ask --mode hybrid --no-socratic "How do goroutines work?"
  oracle ask --stream "Summarize my notes on testing"
  oracle ask --dry-run --mode generative "How expensive is this question?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := args[0]
		mode, _ := cmd.Flags().GetString("mode")
		noSocratic, _ := cmd.Flags().GetBool("no-socratic")
		stream, _ := cmd.Flags().GetBool("stream")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		req := oracle.Request{
			Question: question,
			Answer: oracle.AnswerOptions{
				Mode:         oracle.Mode(mode),
				Citations:    true,
				SkipSocratic: noSocratic,
			},
			DryRun: dryRun,
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if stream && !dryRun {
			return streamAnswer(cmd.Context(), client, req)
		}

		resp, err := client.post(cmd.Context(), "/v1/oracle/query", req)
		if err != nil {
			return err
		}

		var out oracle.Response
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		printResponse(out)
		return nil
	},
}

func streamAnswer(ctx context.Context, client *apiClient, req oracle.Request) error {
	resp, err := client.post(ctx, "/v1/oracle/query/stream", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeJSON(resp, &struct{}{})
	}

	var citations []oracle.Citation
	var socratic []string

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var ev oracle.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case oracle.EventText:
			fmt.Print(ev.Content)
		case oracle.EventCitation:
			if ev.Citation != nil {
				citations = append(citations, *ev.Citation)
			}
		case oracle.EventSocratic:
			socratic = append(socratic, ev.Question)
		}
	}
	fmt.Println()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}

	printCitations(citations)
	printSocratic(socratic)
	return nil
}

func printResponse(resp oracle.Response) {
	if resp.Metadata.EstimatedCost != nil {
		est := resp.Metadata.EstimatedCost
		printStatus("Tokens", "%d", est.Tokens)
		printStatus("Embedding", "$%.6f", est.EmbeddingUSD)
		printStatus("Generation", "$%.6f", est.GenerationUSD)
		printStatus("Total", "$%.6f", est.TotalUSD)
		return
	}

	fmt.Println(resp.Answer)

	if resp.Degraded {
		printWarning("degraded answer (%s)", resp.DegradedReason)
	}

	printCitations(resp.Citations)
	printSocratic(resp.SocraticQuestions)

	if len(resp.RelatedDocuments) > 0 {
		fmt.Println()
		fmt.Println(paint(ansiBold, "Related:"))
		for _, rd := range resp.RelatedDocuments {
			title := rd.Title
			if title == "" {
				title = rd.StrandID
			}
			fmt.Printf("  %s (%s)\n", title, rd.MatchStrength)
		}
	}

	fmt.Fprintf(os.Stderr, "\n%s mode=%s confidence=%.2f backend=%s latency=%dms\n",
		paint(ansiBold, "—"), resp.Mode, resp.Confidence,
		resp.Metadata.Backend, resp.Metadata.LatencyMs)
}

func printCitations(citations []oracle.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(paint(ansiBold, "Citations:"))
	for _, c := range citations {
		title := c.Title
		if title == "" {
			title = c.StrandID
		}
		fmt.Printf("  [%d] %s (score %.2f)\n      %s\n", c.Index, title, c.Score, c.Snippet)
	}
}

func printSocratic(questions []string) {
	if len(questions) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(paint(ansiBold, "Questions to explore:"))
	for _, q := range questions {
		fmt.Printf("  • %s\n", q)
	}
}

func init() {
	askCmd.Flags().String("mode", "", "answer mode: extractive, generative, or hybrid")
	askCmd.Flags().Bool("no-socratic", false, "suppress Socratic follow-up questions")
	askCmd.Flags().Bool("stream", false, "stream the answer as it is produced")
	askCmd.Flags().Bool("dry-run", false, "estimate cost without answering")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base without synthesizing an answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		method, _ := cmd.Flags().GetString("method")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"query": args[0],
			"options": search.Options{
				TopK:   topK,
				Method: search.Method(method),
			},
		}
		resp, err := client.post(cmd.Context(), "/v1/search", body)
		if err != nil {
			return err
		}

		var out struct {
			Results []search.ScoredResult `json:"results"`
			Count   int                   `json:"count"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if out.Count == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, r := range out.Results {
			title := r.Title
			if title == "" && r.Chunk != nil {
				title = r.Chunk.StrandID
			}
			fmt.Printf("%2d. %s (%.3f, %s)\n    %s\n", i+1, paint(ansiBold, title), r.Score, r.Method, r.Snippet)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("top-k", 5, "maximum number of results")
	searchCmd.Flags().String("method", "", "search method: semantic, lexical, or hybrid")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/oracle/history?limit=%d", limit))
		if err != nil {
			return err
		}

		var entries []oracle.HistoryEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("no queries yet")
			return nil
		}
		for _, e := range entries {
			mark := paint(ansiGreen, "✓")
			if !e.Success {
				mark = paint(ansiYellow, "⚠")
			}
			fmt.Printf("%s %s  %s\n", mark, e.Timestamp.Local().Format(time.DateTime), e.Question)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of entries")
}
