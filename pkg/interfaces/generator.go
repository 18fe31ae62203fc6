package interfaces

import (
	"context"

	"labsync/pkg/types"
)

// Generator calls the upstream content generator. Prompt construction and
// response parsing live behind this boundary.
type Generator interface {
	Generate(ctx context.Context, request types.Document) (types.Document, error)
}

// Retriever returns ranked context snippets for a query. A nil Retriever or
// an empty result both mean no context is available.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string, k int) ([]string, error)
}
