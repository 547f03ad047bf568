package lineage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ragshield/internal/integrity"
	"ragshield/internal/quarantine"
)

// DefaultLookback is the impact-analysis window when none is given.
const DefaultLookback = 24 * time.Hour

// Severity classifies the blast radius of a poisoned document.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Thresholds are the query/user counts that bump severity. CRITICAL
// and HIGH trigger on either count; MEDIUM requires both.
type Thresholds struct {
	CriticalQueries int
	CriticalUsers   int
	HighQueries     int
	HighUsers       int
	MediumQueries   int
	MediumUsers     int
}

// DefaultThresholds returns the stock severity table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalQueries: 20,
		CriticalUsers:   10,
		HighQueries:     5,
		HighUsers:       3,
		MediumQueries:   1,
		MediumUsers:     1,
	}
}

// QueryDetail is one affected query in a blast-radius report.
type QueryDetail struct {
	QueryID     string    `json:"query_id"`
	QueryText   string    `json:"query_text"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
	ActionTaken string    `json:"action_taken"`
}

// Report is the impact analysis for one quarantined document.
type Report struct {
	DocID              string             `json:"doc_id"`
	FilePath           string             `json:"file_path,omitempty"`
	AffectedQueries    int                `json:"affected_queries"`
	AffectedUsers      []string           `json:"affected_users"`
	TimeWindowStart    time.Time          `json:"time_window_start"`
	TimeWindowEnd      time.Time          `json:"time_window_end"`
	Severity           Severity           `json:"severity"`
	RecommendedActions []string           `json:"recommended_actions"`
	QueryDetails       []QueryDetail      `json:"query_details"`
	IntegritySignals   *integrity.Signals `json:"integrity_signals,omitempty"`
	QuarantineReason   string             `json:"quarantine_reason,omitempty"`
}

// Analyzer scans the lineage journal to compute blast radius. The
// vault is optional; when present, reports are enriched with the
// quarantine record of the analyzed document.
type Analyzer struct {
	log        *Log
	vault      *quarantine.Vault
	thresholds Thresholds
	lookback   time.Duration
}

// NewAnalyzer builds an analyzer over the given journal. A zero
// lookback falls back to DefaultLookback.
func NewAnalyzer(log *Log, vault *quarantine.Vault, thresholds Thresholds, lookback time.Duration) *Analyzer {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Analyzer{
		log:        log,
		vault:      vault,
		thresholds: thresholds,
		lookback:   lookback,
	}
}

// AnalyzeImpact scans the journal for queries that retrieved docID
// within the lookback window. A zero lookback uses the analyzer's
// default. A missing journal or a window with no hits yields the
// empty LOW report.
func (a *Analyzer) AnalyzeImpact(docID string, lookback time.Duration) (*Report, error) {
	if lookback <= 0 {
		lookback = a.lookback
	}

	// Drain queued appends so a query that just returned is visible
	// to its own impact analysis.
	if err := a.log.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush lineage journal: %w", err)
	}

	f, err := os.Open(a.log.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return emptyReport(docID), nil
		}
		return nil, fmt.Errorf("failed to open lineage log: %w", err)
	}
	defer f.Close()

	cutoff := time.Now().UTC().Add(-lookback)
	details := []QueryDetail{}
	users := make(map[string]struct{})
	var earliest, latest time.Time

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Skip torn lines from interrupted writes.
			continue
		}
		if !containsDoc(rec.RetrievedDocs, docID) || rec.Timestamp.Before(cutoff) {
			continue
		}

		details = append(details, QueryDetail{
			QueryID:     rec.QueryID,
			QueryText:   rec.QueryText,
			UserID:      rec.UserID,
			Timestamp:   rec.Timestamp,
			ActionTaken: rec.ActionTaken,
		})
		users[rec.UserID] = struct{}{}
		if earliest.IsZero() || rec.Timestamp.Before(earliest) {
			earliest = rec.Timestamp
		}
		if rec.Timestamp.After(latest) {
			latest = rec.Timestamp
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan lineage log: %w", err)
	}

	if len(details) == 0 {
		return emptyReport(docID), nil
	}

	severity := a.severityFor(len(details), len(users))
	report := &Report{
		DocID:              docID,
		AffectedQueries:    len(details),
		AffectedUsers:      sortedUsers(users),
		TimeWindowStart:    earliest,
		TimeWindowEnd:      latest,
		Severity:           severity,
		RecommendedActions: recommendations(severity, len(users), docID),
		QueryDetails:       details,
	}
	a.enrich(report)
	return report, nil
}

// severityFor classifies impact by affected query and user counts.
func (a *Analyzer) severityFor(queries, users int) Severity {
	t := a.thresholds
	switch {
	case queries >= t.CriticalQueries || users >= t.CriticalUsers:
		return SeverityCritical
	case queries >= t.HighQueries || users >= t.HighUsers:
		return SeverityHigh
	case queries >= t.MediumQueries && users >= t.MediumUsers:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// enrich attaches the vault record of the analyzed document, when one
// exists.
func (a *Analyzer) enrich(report *Report) {
	if a.vault == nil {
		return
	}
	record, err := a.vault.FindByDocID(report.DocID)
	if err != nil {
		return
	}
	scores := record.IntegrityScores
	report.FilePath = filepath.Join(a.vault.Dir(), record.QuarantineID, "content.txt")
	report.IntegritySignals = &scores
	report.QuarantineReason = record.Reason
}

func recommendations(severity Severity, userCount int, docID string) []string {
	recs := []string{
		fmt.Sprintf("Review query lineage log for document %s", docID),
		fmt.Sprintf("Notify %d affected user(s) about potentially compromised guidance", userCount),
	}

	if severity == SeverityHigh || severity == SeverityCritical {
		recs = append(recs,
			"Conduct full security audit of recent actions",
			"Review any remediation steps taken based on this document",
			"Consider investigating document source for additional compromised content",
			"Escalate to security incident response team",
		)
	}
	if severity == SeverityCritical {
		recs = append(recs,
			"Initiate emergency response protocol",
			"Audit all user sessions in affected time window",
			"Consider temporary suspension of affected document source",
		)
	}
	return recs
}

func emptyReport(docID string) *Report {
	now := time.Now().UTC()
	return &Report{
		DocID:              docID,
		AffectedQueries:    0,
		AffectedUsers:      []string{},
		TimeWindowStart:    now,
		TimeWindowEnd:      now,
		Severity:           SeverityLow,
		RecommendedActions: []string{"No affected queries found in lookback window"},
		QueryDetails:       []QueryDetail{},
	}
}

func containsDoc(docs []string, docID string) bool {
	for _, d := range docs {
		if d == docID {
			return true
		}
	}
	return false
}

func sortedUsers(users map[string]struct{}) []string {
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
