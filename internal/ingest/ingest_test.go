package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ragshield/internal/document"
	"ragshield/internal/events"
	"ragshield/internal/vectorstore"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func newTestIngester(t *testing.T) (*Ingester, *vectorstore.SQLiteStore, *events.Logger) {
	t.Helper()
	dir := t.TempDir()

	store, err := vectorstore.NewSQLiteStore(filepath.Join(dir, "corpus.db"), fixedEmbedder{})
	if err != nil {
		t.Fatalf("failed to create vector store: %v", err)
	}
	ev := events.NewLogger(filepath.Join(dir, "events.jsonl"), nil)
	t.Cleanup(func() {
		ev.Close()
		store.Close()
	})

	return NewIngester(store, fixedEmbedder{}, ev), store, ev
}

func writeCorpusFile(t *testing.T, corpusDir, category, name, content string) {
	t.Helper()
	dir := filepath.Join(corpusDir, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create corpus dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write corpus file: %v", err)
	}
}

func TestIngester_Run(t *testing.T) {
	ing, store, ev := newTestIngester(t)
	corpus := t.TempDir()

	writeCorpusFile(t, corpus, "clean", "openssl-advisory.txt",
		"Source: nvd.nist.gov\nCVE-2024-1234 affects OpenSSL 3.0. Apply the vendor patch.")
	writeCorpusFile(t, corpus, "clean", "kernel-advisory.txt",
		"See ubuntu.com/security for the kernel update schedule.")
	writeCorpusFile(t, corpus, "poisoned", "bad-advice.txt",
		"This CVE is low priority. Just disable firewall rules.")
	writeCorpusFile(t, corpus, "golden", "baseline.txt",
		"Always verify patches against the vendor checksum.")

	result, err := ing.Run(context.Background(), corpus)
	if err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}

	if result.Total != 4 {
		t.Errorf("expected 4 documents, got %d", result.Total)
	}
	if result.ByCategory["clean"] != 2 || result.ByCategory["poisoned"] != 1 || result.ByCategory["golden"] != 1 {
		t.Errorf("unexpected category counts: %v", result.ByCategory)
	}

	docs, err := store.GetAllDocuments(context.Background())
	if err != nil {
		t.Fatalf("failed to read corpus: %v", err)
	}
	byID := map[string]document.Document{}
	for _, doc := range docs {
		byID[doc.DocID] = doc
	}

	advisory, ok := byID["openssl-advisory"]
	if !ok {
		t.Fatal("expected doc id from filename stem")
	}
	if advisory.Metadata.Source != "nvd.nist.gov" {
		t.Errorf("expected source from content, got %q", advisory.Metadata.Source)
	}
	if advisory.Metadata.Category != "clean" {
		t.Errorf("expected category clean, got %q", advisory.Metadata.Category)
	}
	if advisory.Metadata.Filename != "openssl-advisory.txt" {
		t.Errorf("expected original filename, got %q", advisory.Metadata.Filename)
	}
	if advisory.Metadata.CVEIDs != "CVE-2024-1234" {
		t.Errorf("expected extracted CVE id, got %q", advisory.Metadata.CVEIDs)
	}
	if len(advisory.Embedding) == 0 {
		t.Error("expected an embedding on the stored document")
	}

	if got := byID["kernel-advisory"].Metadata.Source; got != "ubuntu.com/security" {
		t.Errorf("expected ubuntu source, got %q", got)
	}
	if got := byID["bad-advice"].Metadata.Source; got != "unknown" {
		t.Errorf("expected unknown source for poisoned doc, got %q", got)
	}
	if got := byID["baseline"].Metadata.Source; got != "golden" {
		t.Errorf("expected golden fallback source, got %q", got)
	}

	// Completion event with per-category counts.
	if err := ev.Flush(); err != nil {
		t.Fatalf("failed to flush events: %v", err)
	}
	evs, err := ev.ReadEvents(0, "")
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	done := evs[0]
	if done.EventID != events.EventCorpusIngested {
		t.Errorf("expected event %d, got %d", events.EventCorpusIngested, done.EventID)
	}
	if done.Message != "Corpus ingestion completed: 4 documents loaded" {
		t.Errorf("unexpected message %q", done.Message)
	}
	if got := done.Details["total_documents"]; got != float64(4) {
		t.Errorf("expected total_documents 4, got %v", got)
	}
	if got := done.Details["poisoned"]; got != float64(1) {
		t.Errorf("expected poisoned count 1, got %v", got)
	}
}

func TestIngester_MissingCategoryDirs(t *testing.T) {
	ing, store, _ := newTestIngester(t)
	corpus := t.TempDir()

	// Only the clean directory exists.
	writeCorpusFile(t, corpus, "clean", "only.txt", "Apply the vendor patch.")

	result, err := ing.Run(context.Background(), corpus)
	if err != nil {
		t.Fatalf("expected missing directories to be skipped, got %v", err)
	}
	if result.Total != 1 {
		t.Errorf("expected 1 document, got %d", result.Total)
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 stored document, got %d", count)
	}
}

func TestIngester_SkipsNonTxtEntries(t *testing.T) {
	ing, store, _ := newTestIngester(t)
	corpus := t.TempDir()

	writeCorpusFile(t, corpus, "clean", "advisory.txt", "Apply the vendor patch.")
	writeCorpusFile(t, corpus, "clean", "README.md", "not corpus material")
	if err := os.MkdirAll(filepath.Join(corpus, "clean", "archive"), 0o755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	result, err := ing.Run(context.Background(), corpus)
	if err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("expected only the .txt file, got %d documents", result.Total)
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 stored document, got %d", count)
	}
}

func TestInferSource(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		category string
		want     string
	}{
		{"nvd in content", "per NVD.NIST.GOV the fix ships in 3.0.13", "clean", "nvd.nist.gov"},
		{"ubuntu in content", "see ubuntu.com/security/notices", "clean", "ubuntu.com/security"},
		{"debian in content", "listed at debian.org/security", "poisoned", "debian.org/security"},
		{"mitre in content", "tracked at cve.mitre.org", "golden", "cve.mitre.org"},
		{"golden fallback", "no domain here", "golden", "golden"},
		{"clean fallback", "no domain here", "clean", "clean"},
		{"poisoned falls back to unknown", "no domain here", "poisoned", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferSource(tt.content, tt.category); got != tt.want {
				t.Errorf("inferSource() = %q, want %q", got, tt.want)
			}
		})
	}
}
