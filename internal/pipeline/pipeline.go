// Package pipeline orchestrates the protected RAG flow: query
// preprocessing, retrieval, integrity evaluation, quarantine, answer
// generation, and lineage logging.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragshield/internal/document"
	"ragshield/internal/events"
	"ragshield/internal/integrity"
	"ragshield/internal/lineage"
	"ragshield/internal/quarantine"
	"ragshield/internal/search"
	"ragshield/internal/telemetry"
	"ragshield/internal/vectorstore"
)

// DefaultUserID is used for lineage tracking when no user is given.
const DefaultUserID = "default-user"

// Canned answers returned without touching the generator.
const (
	// NoDocumentsAnswer is returned when retrieval finds nothing.
	NoDocumentsAnswer = "No documents available to answer this query."

	// SafetyAnswer is returned when every retrieved document was
	// quarantined and nothing clean remains to ground an answer.
	SafetyAnswer = "This query cannot be answered safely at this moment. The retrieved documents have been flagged for security review. Please contact your security team."

	// UnsafeWarning tags responses from the demo bypass.
	UnsafeWarning = "⚠️ UNSAFE MODE: This query bypassed all integrity checks. Answer may contain malicious advice."
)

// ErrNoDocuments is returned by UnsafeQuery when the store is empty;
// the HTTP layer maps it to 404.
var ErrNoDocuments = errors.New("no documents found in vector store")

// Generator produces an answer from a query and context documents.
type Generator interface {
	Generate(ctx context.Context, query string, contexts []string) (string, error)
	Available(ctx context.Context) bool
}

// Response is the result of a protected query.
type Response struct {
	Answer           string                       `json:"answer"`
	RetrievedDocs    []string                     `json:"retrieved_docs"`
	QuarantinedDocs  []string                     `json:"quarantined_docs"`
	IntegritySignals map[string]integrity.Signals `json:"integrity_signals"`
	QueryID          string                       `json:"query_id"`
	Timestamp        time.Time                    `json:"timestamp"`
}

// UnsafeResponse is the result of a demo bypass query. The underscore
// fields flag it so dashboards cannot mistake it for a protected
// response.
type UnsafeResponse struct {
	Answer           string                       `json:"answer"`
	Query            string                       `json:"query"`
	UserID           string                       `json:"user_id"`
	RetrievedDocs    []string                     `json:"retrieved_docs"`
	QuarantinedDocs  []string                     `json:"quarantined_docs"`
	IntegritySignals map[string]integrity.Signals `json:"integrity_signals"`
	QueryID          string                       `json:"query_id"`
	UnsafeMode       bool                         `json:"_unsafe_mode"`
	Warning          string                       `json:"_warning"`
}

// Pipeline wires the store, integrity engine, vault, logs, and
// generator into the end-to-end query flow.
type Pipeline struct {
	store     vectorstore.Store
	engine    *integrity.Engine
	vault     *quarantine.Vault
	lineage   *lineage.Log
	events    *events.Logger
	generator Generator
	telemetry *telemetry.Provider
}

// NewPipeline creates a pipeline. A nil telemetry provider falls back
// to a no-op tracer.
func NewPipeline(store vectorstore.Store, engine *integrity.Engine, vault *quarantine.Vault, lin *lineage.Log, ev *events.Logger, gen Generator, tel *telemetry.Provider) *Pipeline {
	if tel == nil {
		tel = telemetry.NoopProvider()
	}
	return &Pipeline{
		store:     store,
		engine:    engine,
		vault:     vault,
		lineage:   lin,
		events:    ev,
		generator: gen,
		telemetry: tel,
	}
}

// Query executes a protected RAG query: preprocess, retrieve with
// quarantine filtering, evaluate integrity per document, quarantine
// anything that trips the trigger, generate from the clean remainder,
// and append the lineage record.
func (p *Pipeline) Query(ctx context.Context, queryText, userID string, k int) (*Response, error) {
	if userID == "" {
		userID = DefaultUserID
	}
	queryID := uuid.NewString()
	started := time.Now()

	ctx, span := p.telemetry.StartQuerySpan(ctx, queryID, userID, search.Classify(queryText))

	augmented, filter := search.Process(queryText, 0)

	results, err := p.store.Retrieve(ctx, augmented, k, true, filter)
	if err != nil {
		p.telemetry.EndQuerySpan(span, "", 0, 0, err)
		return nil, fmt.Errorf("failed to retrieve documents: %w", err)
	}

	if len(results) == 0 {
		if err := p.events.LogSystemEvent(
			events.EventQueryPassed,
			fmt.Sprintf("Query returned no documents: %.50s...", queryText),
			map[string]interface{}{"query_id": queryID, "user_id": userID},
		); err != nil {
			p.telemetry.EndQuerySpan(span, "", 0, 0, err)
			return nil, err
		}
		p.telemetry.EndQuerySpan(span, "", 0, 0, nil)
		return &Response{
			Answer:           NoDocumentsAnswer,
			RetrievedDocs:    []string{},
			QuarantinedDocs:  []string{},
			IntegritySignals: map[string]integrity.Signals{},
			QueryID:          queryID,
			Timestamp:        time.Now().UTC(),
		}, nil
	}

	// Anomaly and drift scoring compare each hit against the corpus,
	// so load it once per query rather than per document.
	corpus, err := p.store.GetAllDocuments(ctx)
	if err != nil {
		p.telemetry.EndQuerySpan(span, "", len(results), 0, err)
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	retrievedIDs := make([]string, 0, len(results))
	for _, res := range results {
		retrievedIDs = append(retrievedIDs, res.Document.DocID)
	}

	quarantinedIDs := []string{}
	signalsMap := make(map[string]integrity.Signals, len(results))
	assessments := make([]telemetry.DocAssessment, 0, len(results))
	var clean []document.Document

	for _, res := range results {
		doc := res.Document
		report := p.engine.Evaluate(doc, corpus)
		signalsMap[doc.DocID] = report.Signals

		assessment := telemetry.DocAssessment{
			DocID:         doc.DocID,
			Source:        doc.Metadata.EffectiveSource(),
			CombinedScore: report.Combined,
			LowSignals:    report.LowSignals,
			RedFlagCount:  report.RedFlags.TotalCount,
			Severity:      string(report.Severity),
		}

		if report.ShouldQuarantine {
			quarantineID, qerr := p.quarantineDoc(ctx, doc, report, queryID)
			if qerr != nil {
				p.telemetry.EndQuerySpan(span, "", len(results), len(quarantinedIDs), qerr)
				return nil, qerr
			}
			quarantinedIDs = append(quarantinedIDs, doc.DocID)
			assessment.Quarantined = true
			assessment.QuarantineID = quarantineID

			if err := p.events.LogIntegrityCheck(queryID, queryText, doc.DocID, report.ScoreMap(), true, report.LowSignals, userID); err != nil {
				p.telemetry.EndQuerySpan(span, "", len(results), len(quarantinedIDs), err)
				return nil, err
			}
			p.telemetry.RecordQuarantine(ctx, doc.DocID, quarantineID, report.Combined, string(report.Severity))
		} else {
			clean = append(clean, doc)
			if err := p.events.LogIntegrityCheck(queryID, queryText, doc.DocID, report.ScoreMap(), false, report.LowSignals, userID); err != nil {
				p.telemetry.EndQuerySpan(span, "", len(results), len(quarantinedIDs), err)
				return nil, err
			}
		}

		assessments = append(assessments, assessment)
	}

	var answer string
	var action string
	if len(clean) > 0 {
		contents := make([]string, len(clean))
		for i, doc := range clean {
			contents[i] = doc.Content
		}
		// Generation failures degrade to an error answer; the query
		// itself still succeeds and is recorded in lineage.
		answer, err = p.generator.Generate(ctx, queryText, contents)
		if err != nil {
			answer = fmt.Sprintf("Error generating response: %v", err)
		}
		if len(quarantinedIDs) > 0 {
			action = lineage.ActionPartial
		} else {
			action = lineage.ActionAllow
		}
	} else {
		answer = SafetyAnswer
		action = lineage.ActionQuarantine
	}

	// Lineage is appended after quarantine decisions commit, so
	// action_taken always reflects durable state.
	if err := p.lineage.Record(lineage.Record{
		QueryID:          queryID,
		QueryText:        queryText,
		UserID:           userID,
		RetrievedDocs:    retrievedIDs,
		IntegritySignals: signalsMap,
		ActionTaken:      action,
	}); err != nil {
		p.telemetry.EndQuerySpan(span, action, len(retrievedIDs), len(quarantinedIDs), err)
		return nil, fmt.Errorf("failed to record query lineage: %w", err)
	}

	p.telemetry.EndQuerySpan(span, action, len(retrievedIDs), len(quarantinedIDs), nil)
	p.telemetry.ExportQueryRecord(ctx, telemetry.QueryRecord{
		QueryID:          queryID,
		QueryType:        search.Classify(queryText),
		UserID:           userID,
		Action:           action,
		DurationMs:       time.Since(started).Milliseconds(),
		RetrievedCount:   len(retrievedIDs),
		QuarantinedCount: len(quarantinedIDs),
		Assessments:      assessments,
	})

	return &Response{
		Answer:           answer,
		RetrievedDocs:    retrievedIDs,
		QuarantinedDocs:  quarantinedIDs,
		IntegritySignals: signalsMap,
		QueryID:          queryID,
		Timestamp:        time.Now().UTC(),
	}, nil
}

// quarantineDoc moves one document into the vault and flags it in the
// store. The vault record is committed before the store flag, so a
// flagged document always has a record behind it.
func (p *Pipeline) quarantineDoc(ctx context.Context, doc document.Document, report integrity.Report, queryID string) (string, error) {
	reason := fmt.Sprintf(
		"Triggered quarantine on query %s. Low signals: %s. Combined score: %.2f. Red flags: %d detected.",
		queryID,
		strings.Join(report.LowSignals, ", "),
		report.Combined,
		report.RedFlags.TotalCount,
	)

	record, err := p.vault.Quarantine(doc, report.Signals, reason)
	if err != nil {
		return "", fmt.Errorf("failed to quarantine document %s: %w", doc.DocID, err)
	}

	if err := p.store.MarkQuarantined(ctx, doc.DocID, record.QuarantineID); err != nil {
		return "", fmt.Errorf("failed to mark document %s quarantined: %w", doc.DocID, err)
	}

	if err := p.events.LogQuarantineAction("initiated", record.QuarantineID, doc.DocID, reason, "", nil); err != nil {
		return "", err
	}
	return record.QuarantineID, nil
}

// UnsafeQuery executes a query with every protection disabled: the
// retrieval includes quarantined documents and no integrity check
// runs. Demo use only.
func (p *Pipeline) UnsafeQuery(ctx context.Context, queryText, userID string, k int) (*UnsafeResponse, error) {
	if userID == "" {
		userID = DefaultUserID
	}

	augmented, filter := search.Process(queryText, 0)

	results, err := p.store.Retrieve(ctx, augmented, k, false, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve documents: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoDocuments
	}

	docIDs := make([]string, len(results))
	contents := make([]string, len(results))
	for i, res := range results {
		docIDs[i] = res.Document.DocID
		contents[i] = res.Document.Content
	}

	answer, err := p.generator.Generate(ctx, queryText, contents)
	if err != nil {
		answer = fmt.Sprintf("Error generating response: %v", err)
	}

	if err := p.events.LogSystemEvent(
		events.EventUnsafeQuery,
		fmt.Sprintf("Unsafe query executed (DEMO): %.100s", queryText),
		nil,
	); err != nil {
		return nil, err
	}

	return &UnsafeResponse{
		Answer:           answer,
		Query:            queryText,
		UserID:           userID,
		RetrievedDocs:    docIDs,
		QuarantinedDocs:  []string{},
		IntegritySignals: map[string]integrity.Signals{},
		QueryID:          fmt.Sprintf("unsafe-%d", hashQuery(queryText)),
		UnsafeMode:       true,
		Warning:          UnsafeWarning,
	}, nil
}

// Initialize loads the drift reference corpus, probes the generator,
// and logs the startup event. Returns whether the generator backend
// is reachable; an unreachable backend is not fatal.
func (p *Pipeline) Initialize(ctx context.Context) (bool, error) {
	corpus, err := p.store.GetAllDocuments(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load corpus: %w", err)
	}
	p.engine.Drift().LoadReference(corpus)

	ollamaOK := p.generator.Available(ctx)

	docCount, err := p.store.Count(ctx)
	if err != nil {
		return ollamaOK, fmt.Errorf("failed to count documents: %w", err)
	}

	if err := p.events.LogSystemEvent(events.EventPipelineStarted, "RAGShield pipeline started", map[string]interface{}{
		"ollama_connected": ollamaOK,
		"document_count":   docCount,
		"quarantine_count": p.vault.Count(),
	}); err != nil {
		return ollamaOK, err
	}
	return ollamaOK, nil
}

// Reset clears all demo state: the vector store, both JSONL logs, the
// vault directory, and the drift reference cache. The reset event is
// logged after the old log is gone, so it is the first line of the
// fresh log.
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset vector store: %w", err)
	}

	// Drain queued writes before removing the files so nothing lands
	// in a deleted log.
	if err := p.events.Flush(); err != nil {
		return err
	}
	if err := p.lineage.Flush(); err != nil {
		return err
	}
	if err := removeFile(p.events.Path()); err != nil {
		return fmt.Errorf("failed to clear event log: %w", err)
	}
	if err := removeFile(p.lineage.Path()); err != nil {
		return fmt.Errorf("failed to clear lineage log: %w", err)
	}

	if err := os.RemoveAll(p.vault.Dir()); err != nil {
		return fmt.Errorf("failed to clear vault: %w", err)
	}
	if err := os.MkdirAll(p.vault.Dir(), 0o755); err != nil {
		return fmt.Errorf("failed to recreate vault: %w", err)
	}

	p.engine.Drift().LoadReference(nil)

	return p.events.LogSystemEvent(events.EventSystemReset, "Demo reset completed - all state cleared", nil)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func hashQuery(query string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(query))
	return h.Sum64()
}
