// Package corpus defines the precomputed-embeddings artifact consumed by the
// search engine, and sources that fetch it. The artifact is produced offline
// by the indexing tooling and is read-only at runtime.
package corpus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Chunk is a contiguous slice of a source document. Immutable once loaded.
type Chunk struct {
	ID        string    `json:"id"`
	StrandID  string    `json:"strand_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Offset    int       `json:"offset"`

	// Display metadata inherited from the owning document.
	Title   string   `json:"title,omitempty"`
	Summary string   `json:"summary,omitempty"`
	Type    string   `json:"type,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Document groups the chunks of one source document.
type Document struct {
	StrandID string   `json:"strand_id"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary,omitempty"`
	Type     string   `json:"type,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Chunks   []Chunk  `json:"chunks"`
}

// Artifact is a versioned snapshot of the embedded corpus.
type Artifact struct {
	Version       int                 `json:"version"`
	Model         string              `json:"model"`
	Dimensions    int                 `json:"dimensions"`
	GeneratedAt   time.Time           `json:"generated_at"`
	DocumentCount int                 `json:"document_count"`
	ChunkCount    int                 `json:"chunk_count"`
	Documents     map[string]Document `json:"documents"`
}

// Parse decodes an artifact from its JSON encoding.
func Parse(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing corpus artifact: %w", err)
	}
	if a.Documents == nil {
		a.Documents = map[string]Document{}
	}
	return &a, nil
}
