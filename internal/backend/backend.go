// Package backend defines the embedding-backend boundary of the oracle. The
// search engine talks to this interface only; concrete implementations wrap
// whatever actually produces vectors (Ollama locally, a mock in tests).
package backend

import "context"

// Status is a snapshot of backend health.
type Status struct {
	Available  bool   `json:"available"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Backend converts text to fixed-length vectors and reports its own health.
//
// IsSemanticAvailable and GetStatus never fail; Embed may, and callers are
// expected to fall back to lexical search when it does.
type Backend interface {
	// Initialize probes the backend and records its status. Safe to call more
	// than once; a failed probe is reported via the returned Status, not an
	// error, unless the probe itself could not run.
	Initialize(ctx context.Context) (Status, error)

	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// IsSemanticAvailable reports whether Embed can be expected to work.
	IsSemanticAvailable() bool

	// GetStatus returns the last recorded health snapshot.
	GetStatus() Status

	// Dispose releases any resources held by the backend.
	Dispose()
}
