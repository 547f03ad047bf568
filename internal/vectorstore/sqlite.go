package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	_ "modernc.org/sqlite"

	"ragshield/internal/document"
	"ragshield/internal/search"
)

// filterColumns maps filter keys to their dedicated columns. Any
// other key is matched against the extra metadata blob in Go.
var filterColumns = map[string]string{
	"doc_id":   "doc_id",
	"source":   "source",
	"category": "category",
	"filename": "filename",
	"cve_ids":  "cve_ids",
}

// SQLiteStore is a brute-force vector store over a single documents
// table. Embeddings live in a BLOB column as little-endian float32;
// ranking is cosine distance computed in Go. At corpus sizes in the
// low thousands a full scan beats index maintenance.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

// NewSQLiteStore opens (or creates) the corpus database. The embedder
// turns retrieval queries into vectors.
func NewSQLiteStore(dbPath string, embedder Embedder) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers during ingestion.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db, embedder: embedder}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("vector store initialized", "path", dbPath)
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL DEFAULT '',
		cve_ids TEXT NOT NULL DEFAULT '',
		is_quarantined INTEGER NOT NULL DEFAULT 0,
		quarantine_id TEXT NOT NULL DEFAULT '',
		extra TEXT NOT NULL DEFAULT '{}',
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
	CREATE INDEX IF NOT EXISTS idx_documents_cve_ids ON documents(cve_ids);
	CREATE INDEX IF NOT EXISTS idx_documents_quarantined ON documents(is_quarantined);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ingest inserts or replaces a document. When the metadata carries no
// CVE ID, the first one found in the content is extracted into it, so
// exact-match retrieval filters work without caller cooperation.
func (s *SQLiteStore) Ingest(ctx context.Context, doc document.Document) error {
	meta := doc.Metadata
	if meta.CVEIDs == "" {
		if ids := search.ExtractCVEIDs(doc.Content); len(ids) > 0 {
			meta.CVEIDs = ids[0]
		}
	}

	extra := []byte("{}")
	if len(meta.Extra) > 0 {
		var err error
		extra, err = json.Marshal(meta.Extra)
		if err != nil {
			return fmt.Errorf("failed to encode extra metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents
		(doc_id, content, source, category, filename, cve_ids, is_quarantined, quarantine_id, extra, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocID,
		doc.Content,
		meta.Source,
		meta.Category,
		meta.Filename,
		meta.CVEIDs,
		boolToInt(meta.IsQuarantined),
		meta.QuarantineID,
		string(extra),
		encodeEmbedding(doc.Embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to ingest document %s: %w", doc.DocID, err)
	}

	slog.Debug("document ingested", "doc_id", doc.DocID, "source", meta.Source)
	return nil
}

// Retrieve embeds the query and returns the k nearest documents by
// cosine distance. Quarantined documents are excluded unless asked
// for; the filter narrows candidates by metadata equality.
func (s *SQLiteStore) Retrieve(ctx context.Context, query string, k int, excludeQuarantined bool, filter map[string]string) ([]Result, error) {
	if k <= 0 {
		k = DefaultK
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryNorm := norm32(queryVec)

	sqlQuery := `
		SELECT doc_id, content, source, category, filename, cve_ids, is_quarantined, quarantine_id, extra, embedding
		FROM documents WHERE 1=1`
	args := []interface{}{}

	if excludeQuarantined {
		sqlQuery += " AND is_quarantined = 0"
	}
	extraFilter := map[string]string{}
	for key, value := range filter {
		if col, ok := filterColumns[key]; ok {
			sqlQuery += fmt.Sprintf(" AND %s = ?", col)
			args = append(args, value)
		} else {
			extraFilter[key] = value
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if !matchesExtra(doc.Metadata.Extra, extraFilter) {
			continue
		}
		results = append(results, Result{
			Document: doc,
			Distance: cosineDistance(queryVec, queryNorm, doc.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan documents: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance == results[j].Distance {
			return results[i].Document.DocID < results[j].Document.DocID
		}
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// MarkQuarantined soft-deletes a document from retrieval.
func (s *SQLiteStore) MarkQuarantined(ctx context.Context, docID, quarantineID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_quarantined = 1, quarantine_id = ? WHERE doc_id = ?`,
		quarantineID, docID)
	if err != nil {
		return fmt.Errorf("failed to mark document quarantined: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, docID)
	}

	slog.Info("document marked quarantined", "doc_id", docID, "quarantine_id", quarantineID)
	return nil
}

// RestoreDocument clears the quarantine flag so the document re-enters
// retrieval.
func (s *SQLiteStore) RestoreDocument(ctx context.Context, docID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_quarantined = 0, quarantine_id = '' WHERE doc_id = ?`,
		docID)
	if err != nil {
		return fmt.Errorf("failed to restore document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, docID)
	}

	slog.Info("document restored to retrieval", "doc_id", docID)
	return nil
}

// GetAllDocuments returns the full corpus with embeddings, in stable
// doc_id order. The integrity engine scores against this snapshot.
func (s *SQLiteStore) GetAllDocuments(ctx context.Context) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, content, source, category, filename, cve_ids, is_quarantined, quarantine_id, extra, embedding
		FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan documents: %w", err)
	}
	return docs, nil
}

// Count returns the number of documents in the corpus.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// Reset drops every document. Used by the demo reset.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("failed to reset corpus: %w", err)
	}
	slog.Info("vector store reset")
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanDocument(rows *sql.Rows) (document.Document, error) {
	var (
		doc         document.Document
		quarantined int
		extraStr    string
		blob        []byte
	)
	err := rows.Scan(
		&doc.DocID,
		&doc.Content,
		&doc.Metadata.Source,
		&doc.Metadata.Category,
		&doc.Metadata.Filename,
		&doc.Metadata.CVEIDs,
		&quarantined,
		&doc.Metadata.QuarantineID,
		&extraStr,
		&blob,
	)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.Metadata.IsQuarantined = quarantined != 0
	if extraStr != "" && extraStr != "{}" {
		if err := json.Unmarshal([]byte(extraStr), &doc.Metadata.Extra); err != nil {
			return document.Document{}, fmt.Errorf("failed to decode extra metadata for %s: %w", doc.DocID, err)
		}
	}
	doc.Embedding = decodeEmbedding(blob)
	return doc, nil
}

func matchesExtra(extra map[string]interface{}, filter map[string]string) bool {
	for key, want := range filter {
		got, ok := extra[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// cosineDistance returns 1 - cos(query, vec). Documents without a
// usable embedding sort last.
func cosineDistance(query []float32, queryNorm float64, vec []float32) float64 {
	if queryNorm == 0 || len(vec) != len(query) {
		return 2.0
	}
	vecNorm := norm32(vec)
	if vecNorm == 0 {
		return 2.0
	}

	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(vec[i])
	}
	return 1.0 - dot/(queryNorm*vecNorm)
}

func norm32(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
