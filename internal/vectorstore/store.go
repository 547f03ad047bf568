// Package vectorstore persists the document corpus and serves
// similarity search with quarantine-aware filtering.
package vectorstore

import (
	"context"
	"errors"

	"ragshield/internal/document"
)

// ErrNotFound is returned when a doc_id has no row in the corpus.
var ErrNotFound = errors.New("document not found")

// DefaultK is the retrieval depth when the caller passes none.
const DefaultK = 5

// Embedder produces embedding vectors for text. Implementations must
// be deterministic for a given input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one retrieval hit: the document plus its cosine distance
// from the query (0 identical, 2 opposite).
type Result struct {
	Document document.Document `json:"document"`
	Distance float64           `json:"distance"`
}

// Store is the corpus contract the pipeline depends on. The filter
// argument is restricted to single-key equality on metadata fields.
type Store interface {
	Ingest(ctx context.Context, doc document.Document) error
	Retrieve(ctx context.Context, query string, k int, excludeQuarantined bool, filter map[string]string) ([]Result, error)
	MarkQuarantined(ctx context.Context, docID, quarantineID string) error
	RestoreDocument(ctx context.Context, docID string) error
	GetAllDocuments(ctx context.Context) ([]document.Document, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}
