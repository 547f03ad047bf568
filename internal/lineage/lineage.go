// Package lineage records which documents served which queries, and
// answers the incident-response question "who was affected" when one
// of those documents turns out to be poisoned.
package lineage

import (
	"time"

	"ragshield/internal/integrity"
	"ragshield/internal/jsonl"
)

// Action values recorded per query.
const (
	ActionAllow      = "allow"
	ActionPartial    = "partial"
	ActionQuarantine = "quarantine"
)

// Record is one append-only lineage entry: a query, who asked it, and
// which documents answered it.
type Record struct {
	QueryID          string                       `json:"query_id"`
	QueryText        string                       `json:"query_text"`
	Timestamp        time.Time                    `json:"timestamp"`
	UserID           string                       `json:"user_id"`
	RetrievedDocs    []string                     `json:"retrieved_docs"`
	IntegritySignals map[string]integrity.Signals `json:"integrity_signals,omitempty"`
	ActionTaken      string                       `json:"action_taken,omitempty"`
}

// Log is the append-only lineage journal.
type Log struct {
	sink *jsonl.Sink
}

// NewLog opens the journal at path.
func NewLog(path string) *Log {
	return &Log{sink: jsonl.NewSink(path)}
}

// Path returns the journal file path.
func (l *Log) Path() string {
	return l.sink.Path()
}

// Record appends one lineage entry. A zero timestamp is filled with
// the current UTC time.
func (l *Log) Record(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.RetrievedDocs == nil {
		rec.RetrievedDocs = []string{}
	}
	return l.sink.Append(rec)
}

// Count returns the number of logged queries.
func (l *Log) Count() (int, error) {
	return jsonl.CountLines(l.sink.Path())
}

// Flush blocks until every queued entry has hit the disk.
func (l *Log) Flush() error {
	return l.sink.Flush()
}

// Close stops the journal writer.
func (l *Log) Close() error {
	return l.sink.Close()
}
