// Package events implements the append-only security event log and
// its live fan-out to subscribers.
package events

import (
	"time"
)

// Level classifies an event for SIEM consumers.
type Level string

const (
	LevelInformation Level = "Information"
	LevelWarning     Level = "Warning"
	LevelError       Level = "Error"
	LevelCritical    Level = "Critical"
)

// Category groups events by the subsystem that emitted them.
type Category string

const (
	CategoryIntegrity   Category = "Integrity"
	CategoryQuarantine  Category = "Quarantine"
	CategoryBlastRadius Category = "BlastRadius"
	CategorySystem      Category = "System"
)

// Event IDs are a stable wire contract; downstream SIEM rules key off
// these integers and they must never be renumbered.
const (
	// Integrity events (1001-1999)
	EventQueryPassed         = 1001
	EventQueryFlagged        = 1002
	EventQuarantineTriggered = 1003

	// Quarantine events (2001-2999)
	EventQuarantineInitiated = 2001
	EventConfirmedMalicious  = 2002
	EventDocumentRestored    = 2003
	EventStateChanged        = 2004

	// Blast radius events (3001-3999)
	EventAssessmentRequested = 3001
	EventHighImpactDetected  = 3002
	EventAnalysisCompleted   = 3003

	// System events (4001-4999)
	EventPipelineStarted = 4001
	EventTrustDegraded   = 4002
	EventCorpusIngested  = 4003
	EventSystemReset     = 4004

	// EventUnsafeQuery shares 4003 with ingestion; the demo bypass logs
	// under the same system id.
	EventUnsafeQuery = EventCorpusIngested
)

// Catalog maps every defined event ID to its canonical description.
var Catalog = map[int]string{
	EventQueryPassed:         "Query processed - all integrity checks passed",
	EventQueryFlagged:        "Query flagged - combined score below warning threshold",
	EventQuarantineTriggered: "Query triggered quarantine - 2+ signals below threshold",

	EventQuarantineInitiated: "Document quarantine initiated",
	EventConfirmedMalicious:  "Document confirmed malicious by analyst",
	EventDocumentRestored:    "False positive - document restored",
	EventStateChanged:        "Quarantine state changed",

	EventAssessmentRequested: "Blast radius assessment requested",
	EventHighImpactDetected:  "High-impact blast radius detected (>10 queries or >3 users)",
	EventAnalysisCompleted:   "Blast radius analysis completed",

	EventPipelineStarted: "RAGShield pipeline started",
	EventTrustDegraded:   "Source trust degradation detected",
	EventCorpusIngested:  "Corpus ingestion completed",
	EventSystemReset:     "System reset initiated",
}

// Event is one structured log entry, shaped for SIEM index fields.
type Event struct {
	EventID   int                    `json:"event_id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Category  Category               `json:"category"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details"`
	UserID    string                 `json:"user_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}
