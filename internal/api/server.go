// Package api exposes the oracle over HTTP (chi) and MCP (stdio).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/loomnotes/oracle/internal/oracle"
	"github.com/loomnotes/oracle/internal/search"
)

const maxRequestBodySize = 1 << 20 // 1MB

// OracleService abstracts the orchestrator for the API layer.
type OracleService interface {
	Query(ctx context.Context, req oracle.Request) (*oracle.Response, error)
	QueryStream(ctx context.Context, req oracle.Request) (<-chan oracle.Event, error)
	State() oracle.State
	History(limit int) []oracle.HistoryEntry
}

// SearchService abstracts raw corpus search for the API layer.
type SearchService interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.ScoredResult, error)
}

type Deps struct {
	Oracle OracleService
	Search SearchService
}

// NewHandler returns the daemon's HTTP handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/v1/oracle/state", handleState(deps))
	r.Post("/v1/oracle/query", handleQuery(deps))
	r.Post("/v1/oracle/query/stream", handleQueryStream(deps))
	r.Get("/v1/oracle/history", handleHistory(deps))
	r.Post("/v1/search", handleSearch(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Oracle.State())
	}
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQueryRequest(w, r)
		if !ok {
			return
		}

		resp, err := deps.Oracle.Query(r.Context(), req)
		if err != nil {
			httpError(w, statusForQueryError(err), "invalid_request_error", "%v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleQueryStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQueryRequest(w, r)
		if !ok {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		events, err := deps.Oracle.QueryStream(r.Context(), req)
		if err != nil {
			httpError(w, statusForQueryError(err), "invalid_request_error", "%v", err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		for ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		// Terminal sentinel, matching the wire protocol clients expect.
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries := deps.Oracle.History(limit)
		if entries == nil {
			entries = []oracle.HistoryEntry{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

type searchRequest struct {
	Query   string         `json:"query"`
	Options search.Options `json:"options,omitempty"`
}

type searchResponse struct {
	Results []search.ScoredResult `json:"results"`
	Count   int                   `json:"count"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		results, err := deps.Search.Search(r.Context(), req.Query, req.Options)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "search failed: %v", err)
			return
		}
		if results == nil {
			results = []search.ScoredResult{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{Results: results, Count: len(results)})
	}
}

func decodeQueryRequest(w http.ResponseWriter, r *http.Request) (oracle.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req oracle.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return oracle.Request{}, false
	}
	return req, true
}

func statusForQueryError(err error) int {
	if errors.Is(err, oracle.ErrNotInitialized) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
