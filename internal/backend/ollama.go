package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomnotes/oracle/internal/ollama"
)

// Compile-time check that OllamaBackend implements Backend.
var _ Backend = (*OllamaBackend)(nil)

// OllamaBackend produces embeddings via a local Ollama server.
type OllamaBackend struct {
	client *ollama.Client
	model  string

	mu     sync.RWMutex
	status Status
}

// NewOllamaBackend creates a backend for the given Ollama base URL and
// embedding model name.
func NewOllamaBackend(baseURL, model string) *OllamaBackend {
	return &OllamaBackend{
		client: ollama.New(baseURL),
		model:  model,
		status: Status{Model: model, Message: "not initialized"},
	}
}

// Initialize probes the Ollama server and checks the embedding model is
// installed. An unreachable server or missing model is not an error: the
// backend records itself unavailable and the engine degrades to lexical mode.
func (b *OllamaBackend) Initialize(ctx context.Context) (Status, error) {
	status := Status{Model: b.model}

	switch {
	case !b.client.IsRunning(ctx):
		status.Message = "ollama server not reachable"
	case !b.client.HasModel(ctx, b.model):
		status.Message = fmt.Sprintf("embedding model %q not installed", b.model)
	default:
		// Probe with a trivial embed to learn the vector dimensionality.
		vec, err := b.client.Embed(ctx, b.model, "ping")
		if err != nil {
			status.Message = fmt.Sprintf("embed probe failed: %v", err)
			break
		}
		status.Available = true
		status.Dimensions = len(vec)
		status.Message = "ready"
	}

	if !status.Available {
		slog.Warn("embedding backend unavailable", "model", b.model, "reason", status.Message)
	}

	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
	return status, nil
}

// Embed returns the embedding vector for text.
func (b *OllamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return b.client.Embed(ctx, b.model, text)
}

// IsSemanticAvailable reports the last recorded availability. Never panics.
func (b *OllamaBackend) IsSemanticAvailable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status.Available
}

// GetStatus returns the last recorded health snapshot. Never panics.
func (b *OllamaBackend) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Dispose marks the backend unavailable. The underlying HTTP client holds no
// persistent connections worth closing.
func (b *OllamaBackend) Dispose() {
	b.mu.Lock()
	b.status = Status{Model: b.model, Message: "disposed"}
	b.mu.Unlock()
}
