package corpus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Source fetches the corpus artifact from wherever it lives.
type Source interface {
	Fetch(ctx context.Context) (*Artifact, error)
}

// maxArtifactSize caps how much artifact JSON we are willing to read (256MB).
const maxArtifactSize = 256 << 20

// HTTPSource fetches the artifact from a well-known URL.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource creates a Source for an artifact served over HTTP.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url: url,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Fetch downloads and parses the artifact.
func (s *HTTPSource) Fetch(ctx context.Context) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating artifact request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching corpus artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching corpus artifact: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
	if err != nil {
		return nil, fmt.Errorf("reading corpus artifact: %w", err)
	}
	return Parse(data)
}

// FileSource reads the artifact from the local filesystem.
type FileSource struct {
	path string
}

// NewFileSource creates a Source for an artifact stored on disk.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Fetch reads and parses the artifact file.
func (s *FileSource) Fetch(_ context.Context) (*Artifact, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus artifact: %w", err)
	}
	return Parse(data)
}

// NewSource picks an HTTP or file source based on the location's scheme.
func NewSource(location string) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPSource(location)
	}
	return NewFileSource(location)
}
