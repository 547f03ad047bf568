// Package ingest loads corpus documents from disk into the vector
// store. It is run once at startup or after a demo reset.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ragshield/internal/document"
	"ragshield/internal/events"
	"ragshield/internal/search"
	"ragshield/internal/vectorstore"
)

// categories are processed in this order. The directory name doubles
// as the document category.
var categories = []string{"clean", "poisoned", "golden"}

// advisoryDomains are matched against document content to infer the
// source, most authoritative first.
var advisoryDomains = []string{
	"nvd.nist.gov",
	"ubuntu.com/security",
	"debian.org/security",
	"cve.mitre.org",
}

// Result summarizes one ingestion run.
type Result struct {
	Total      int
	ByCategory map[string]int
}

// Ingester walks a corpus directory and loads every document into the
// vector store.
type Ingester struct {
	store    vectorstore.Store
	embedder vectorstore.Embedder
	events   *events.Logger
}

// NewIngester creates a corpus ingester.
func NewIngester(store vectorstore.Store, embedder vectorstore.Embedder, ev *events.Logger) *Ingester {
	return &Ingester{store: store, embedder: embedder, events: ev}
}

// Run ingests corpus/{clean,poisoned,golden}/*.txt. Missing category
// directories are skipped with a warning; a completion event with
// per-category counts is logged at the end.
func (i *Ingester) Run(ctx context.Context, corpusDir string) (*Result, error) {
	result := &Result{ByCategory: make(map[string]int)}

	for _, category := range categories {
		dir := filepath.Join(corpusDir, category)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Warn("corpus directory not found", "dir", dir)
				continue
			}
			return nil, fmt.Errorf("failed to read corpus directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
				continue
			}
			if err := i.ingestFile(ctx, filepath.Join(dir, entry.Name()), category); err != nil {
				return nil, err
			}
			result.ByCategory[category]++
			result.Total++
		}

		slog.Info("corpus category ingested", "category", category, "documents", result.ByCategory[category])
	}

	err := i.events.LogSystemEvent(events.EventCorpusIngested,
		fmt.Sprintf("Corpus ingestion completed: %d documents loaded", result.Total),
		map[string]interface{}{
			"total_documents": result.Total,
			"clean":           result.ByCategory["clean"],
			"poisoned":        result.ByCategory["poisoned"],
			"golden":          result.ByCategory["golden"],
		})
	if err != nil {
		return nil, fmt.Errorf("failed to log ingestion event: %w", err)
	}

	return result, nil
}

func (i *Ingester) ingestFile(ctx context.Context, path, category string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- corpus path from trusted config
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", path, err)
	}

	name := filepath.Base(path)
	docID := strings.TrimSuffix(name, filepath.Ext(name))
	content := string(data)

	embedding, err := i.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed document %s: %w", docID, err)
	}

	doc := document.Document{
		DocID:   docID,
		Content: content,
		Metadata: document.Metadata{
			Source:   inferSource(content, category),
			Category: category,
			Filename: name,
		},
		Embedding: embedding,
	}
	if ids := search.ExtractCVEIDs(content); len(ids) > 0 {
		doc.Metadata.CVEIDs = ids[0]
	}

	if err := i.store.Ingest(ctx, doc); err != nil {
		return err
	}

	slog.Info("document ingested", "doc_id", docID, "category", category, "source", doc.Metadata.Source)
	return nil
}

// inferSource maps advisory domains in the content to a source label.
// Documents naming no known domain fall back to their corpus category.
func inferSource(content, category string) string {
	contentLower := strings.ToLower(content)
	for _, domain := range advisoryDomains {
		if strings.Contains(contentLower, domain) {
			return domain
		}
	}
	switch category {
	case "golden":
		return "golden"
	case "clean":
		return "clean"
	default:
		return "unknown"
	}
}
