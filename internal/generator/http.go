// Package generator holds the upstream content generator client and the
// context retriever used by the generation endpoint.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"labsync/internal/logging"
	"labsync/pkg/types"
)

// maxResponseBytes caps how much of an upstream reply is read
const maxResponseBytes = 4 << 20

// HTTPGenerator posts request documents to an upstream generation service
// and decodes the JSON document it answers with
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// Option configures an HTTPGenerator
type Option func(*HTTPGenerator)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGenerator) { g.client = c }
}

// WithTimeout bounds a single upstream call
func WithTimeout(d time.Duration) Option {
	return func(g *HTTPGenerator) {
		if d > 0 {
			g.client = &http.Client{Timeout: d, Transport: g.client.Transport}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *HTTPGenerator) { g.logger = l }
}

// NewHTTPGenerator creates a generator for endpoint
func NewHTTPGenerator(endpoint string, opts ...Option) *HTTPGenerator {
	g := &HTTPGenerator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements interfaces.Generator
func (g *HTTPGenerator) Generate(ctx context.Context, request types.Document) (types.Document, error) {
	if g.endpoint == "" {
		return nil, ErrNoEndpoint
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call upstream: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("upstream error", "status", resp.StatusCode, "endpoint", g.endpoint)
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	return DecodeDocument(raw)
}

// DecodeDocument parses generated text into a document. Markdown code fences
// around the JSON are removed, and a {"text": "..."} wrapper is unwrapped.
func DecodeDocument(raw []byte) (types.Document, error) {
	text := StripCodeFence(string(raw))

	var doc types.Document
	if err := json.Unmarshal([]byte(text), &doc); err != nil || doc == nil {
		return nil, ErrMalformedResponse
	}
	if inner, ok := doc["text"].(string); ok && len(doc) == 1 {
		return DecodeDocument([]byte(inner))
	}
	return doc, nil
}

// StripCodeFence removes a surrounding ``` or ```json fence
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
