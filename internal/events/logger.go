package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ragshield/internal/jsonl"
)

// Logger appends events to the JSONL sink and fans them out to live
// subscribers. All writes to the file go through the sink's single
// writer goroutine, so concurrent callers never interleave lines.
type Logger struct {
	sink        *jsonl.Sink
	broadcaster Broadcaster
}

// NewLogger creates a logger writing to path. The broadcaster may be
// nil when no live subscribers are needed (ingestion, tests).
func NewLogger(path string, broadcaster Broadcaster) *Logger {
	return &Logger{
		sink:        jsonl.NewSink(path),
		broadcaster: broadcaster,
	}
}

// Path returns the event log file path.
func (l *Logger) Path() string {
	return l.sink.Path()
}

// Log appends one event. A zero timestamp is filled with the current
// UTC time.
func (l *Logger) Log(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Details == nil {
		ev.Details = map[string]interface{}{}
	}

	if err := l.sink.Append(ev); err != nil {
		return err
	}
	if l.broadcaster != nil {
		l.broadcaster.Publish(ev)
	}
	return nil
}

// LogIntegrityCheck records the outcome of an integrity evaluation for
// one document: 1003 (Error) when it triggered quarantine, 1001
// (Information) when it passed.
func (l *Logger) LogIntegrityCheck(queryID, queryText, docID string, scores map[string]float64, quarantined bool, lowSignals []string, userID string) error {
	var (
		eventID int
		level   Level
		message string
	)
	if quarantined {
		eventID = EventQuarantineTriggered
		level = LevelError
		message = fmt.Sprintf("Query triggered quarantine - document %s flagged", docID)
	} else {
		eventID = EventQueryPassed
		level = LevelInformation
		message = fmt.Sprintf("Query processed - integrity checks passed for %s", docID)
	}
	if userID == "" {
		userID = "system"
	}
	if lowSignals == nil {
		lowSignals = []string{}
	}

	return l.Log(Event{
		EventID:  eventID,
		Level:    level,
		Category: CategoryIntegrity,
		Message:  message,
		UserID:   userID,
		Details: map[string]interface{}{
			"query_id":         queryID,
			"query_text":       truncate(queryText, 100),
			"doc_id":           docID,
			"integrity_scores": scores,
			"quarantined":      quarantined,
			"low_signals":      lowSignals,
		},
	})
}

// LogQuarantineAction records a vault lifecycle action. "initiated" is
// a Warning; analyst actions are Information.
func (l *Logger) LogQuarantineAction(action, quarantineID, docID, reason, analyst string, integritySignals map[string]interface{}) error {
	eventID := EventQuarantineInitiated
	switch action {
	case "initiated":
		eventID = EventQuarantineInitiated
	case "confirmed":
		eventID = EventConfirmedMalicious
	case "restored":
		eventID = EventDocumentRestored
	case "state_changed":
		eventID = EventStateChanged
	}

	level := LevelInformation
	if action == "initiated" {
		level = LevelWarning
	}

	details := map[string]interface{}{
		"quarantine_id": quarantineID,
		"doc_id":        docID,
		"reason":        reason,
		"action":        action,
		"analyst":       analyst,
	}
	if integritySignals != nil {
		details["integrity_signals"] = integritySignals
	}

	userID := analyst
	if userID == "" {
		userID = "system"
	}

	return l.Log(Event{
		EventID:  eventID,
		Level:    level,
		Category: CategoryQuarantine,
		Message:  fmt.Sprintf("Document %s: %s", action, docID),
		UserID:   userID,
		Details:  details,
	})
}

// LogBlastRadius records the outcome of an impact analysis: 3002
// (Warning) for HIGH/CRITICAL severity, 3003 (Information) otherwise.
func (l *Logger) LogBlastRadius(docID, severity string, affectedQueries, affectedUsers int, analyst string) error {
	eventID := EventAnalysisCompleted
	level := LevelInformation
	if severity == "HIGH" || severity == "CRITICAL" {
		eventID = EventHighImpactDetected
		level = LevelWarning
	}

	userID := analyst
	if userID == "" {
		userID = "system"
	}

	return l.Log(Event{
		EventID:  eventID,
		Level:    level,
		Category: CategoryBlastRadius,
		Message:  fmt.Sprintf("Blast radius analysis: %s - Severity: %s", docID, severity),
		UserID:   userID,
		Details: map[string]interface{}{
			"doc_id":           docID,
			"severity":         severity,
			"affected_queries": affectedQueries,
			"affected_users":   affectedUsers,
		},
	})
}

// LogSystemEvent records a system-level event with the given ID.
func (l *Logger) LogSystemEvent(eventID int, message string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return l.Log(Event{
		EventID:  eventID,
		Level:    LevelInformation,
		Category: CategorySystem,
		Message:  message,
		Details:  details,
	})
}

// ReadEvents returns up to limit events, most recent first, parsing
// the log from the end backward. Malformed lines are skipped; level
// filters when non-empty.
func (l *Logger) ReadEvents(limit int, level Level) ([]Event, error) {
	return ReadEventsFile(l.sink.Path(), limit, level)
}

// EventCount returns the number of non-blank lines in the log.
func (l *Logger) EventCount() (int, error) {
	return jsonl.CountLines(l.sink.Path())
}

// Flush blocks until every queued event has hit the disk.
func (l *Logger) Flush() error {
	return l.sink.Flush()
}

// Close stops the writer. The broadcaster is owned by the caller and
// is not closed here.
func (l *Logger) Close() error {
	return l.sink.Close()
}

// ReadEventsFile parses an event log from the end backward. A missing
// file yields an empty slice.
func ReadEventsFile(path string, limit int, level Level) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	lines := bytes.Split(data, []byte("\n"))
	events := []Event{}
	for i := len(lines) - 1; i >= 0; i-- {
		if len(bytes.TrimSpace(lines[i])) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(lines[i], &ev); err != nil {
			// Skip malformed lines, including a torn final write.
			continue
		}
		if level != "" && ev.Level != level {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
