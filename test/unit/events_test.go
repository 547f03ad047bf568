package unit

import (
	"path/filepath"
	"testing"

	"ragshield/internal/events"
)

// Event IDs are consumed by SIEM correlation rules; renumbering one is
// a breaking change even when the Go constant names stay the same.
func TestEventIDs_Frozen(t *testing.T) {
	frozen := map[string]struct {
		got  int
		want int
	}{
		"EventQueryPassed":         {events.EventQueryPassed, 1001},
		"EventQueryFlagged":        {events.EventQueryFlagged, 1002},
		"EventQuarantineTriggered": {events.EventQuarantineTriggered, 1003},
		"EventQuarantineInitiated": {events.EventQuarantineInitiated, 2001},
		"EventConfirmedMalicious":  {events.EventConfirmedMalicious, 2002},
		"EventDocumentRestored":    {events.EventDocumentRestored, 2003},
		"EventStateChanged":        {events.EventStateChanged, 2004},
		"EventAssessmentRequested": {events.EventAssessmentRequested, 3001},
		"EventHighImpactDetected":  {events.EventHighImpactDetected, 3002},
		"EventAnalysisCompleted":   {events.EventAnalysisCompleted, 3003},
		"EventPipelineStarted":     {events.EventPipelineStarted, 4001},
		"EventTrustDegraded":       {events.EventTrustDegraded, 4002},
		"EventCorpusIngested":      {events.EventCorpusIngested, 4003},
		"EventSystemReset":         {events.EventSystemReset, 4004},
	}

	for name, ids := range frozen {
		if ids.got != ids.want {
			t.Errorf("%s = %d, want %d", name, ids.got, ids.want)
		}
	}

	// The demo bypass logs under the ingestion id rather than a number
	// of its own.
	if events.EventUnsafeQuery != events.EventCorpusIngested {
		t.Errorf("EventUnsafeQuery = %d, want alias of EventCorpusIngested", events.EventUnsafeQuery)
	}
}

func TestEventCatalog_CoversEveryID(t *testing.T) {
	if len(events.Catalog) != 14 {
		t.Fatalf("catalog has %d entries, want 14", len(events.Catalog))
	}
	for id, desc := range events.Catalog {
		if desc == "" {
			t.Errorf("catalog entry %d has empty description", id)
		}
		if id < 1001 || id > 4999 {
			t.Errorf("catalog id %d outside the 1001-4999 range", id)
		}
	}
}

// Each helper owns its id/level/category mapping; this pins the full
// table so a helper edit cannot silently shift an event's identity.
func TestLoggerHelpers_EventMapping(t *testing.T) {
	cases := []struct {
		name         string
		log          func(l *events.Logger) error
		wantID       int
		wantLevel    events.Level
		wantCategory events.Category
		wantUserID   string
	}{
		{
			name: "integrity passed",
			log: func(l *events.Logger) error {
				return l.LogIntegrityCheck("q1", "what is CVE-2024-3400", "doc-1", nil, false, nil, "analyst_kim")
			},
			wantID:       1001,
			wantLevel:    events.LevelInformation,
			wantCategory: events.CategoryIntegrity,
			wantUserID:   "analyst_kim",
		},
		{
			name: "integrity quarantine",
			log: func(l *events.Logger) error {
				return l.LogIntegrityCheck("q2", "how to harden sshd", "doc-2", nil, true, []string{"trust (0.10)"}, "")
			},
			wantID:       1003,
			wantLevel:    events.LevelError,
			wantCategory: events.CategoryIntegrity,
			wantUserID:   "system",
		},
		{
			name: "quarantine initiated",
			log: func(l *events.Logger) error {
				return l.LogQuarantineAction("initiated", "Q-1", "doc-3", "low signals", "", nil)
			},
			wantID:       2001,
			wantLevel:    events.LevelWarning,
			wantCategory: events.CategoryQuarantine,
			wantUserID:   "system",
		},
		{
			name: "quarantine confirmed",
			log: func(l *events.Logger) error {
				return l.LogQuarantineAction("confirmed", "Q-1", "doc-3", "verified", "analyst_lee", nil)
			},
			wantID:       2002,
			wantLevel:    events.LevelInformation,
			wantCategory: events.CategoryQuarantine,
			wantUserID:   "analyst_lee",
		},
		{
			name: "quarantine restored",
			log: func(l *events.Logger) error {
				return l.LogQuarantineAction("restored", "Q-1", "doc-3", "false positive", "analyst_lee", nil)
			},
			wantID:       2003,
			wantLevel:    events.LevelInformation,
			wantCategory: events.CategoryQuarantine,
			wantUserID:   "analyst_lee",
		},
		{
			name: "quarantine state changed",
			log: func(l *events.Logger) error {
				return l.LogQuarantineAction("state_changed", "Q-1", "doc-3", "", "analyst_lee", nil)
			},
			wantID:       2004,
			wantLevel:    events.LevelInformation,
			wantCategory: events.CategoryQuarantine,
			wantUserID:   "analyst_lee",
		},
		{
			name: "blast radius low",
			log: func(l *events.Logger) error {
				return l.LogBlastRadius("doc-4", "LOW", 0, 0, "analyst_kim")
			},
			wantID:       3003,
			wantLevel:    events.LevelInformation,
			wantCategory: events.CategoryBlastRadius,
			wantUserID:   "analyst_kim",
		},
		{
			name: "blast radius medium",
			log: func(l *events.Logger) error {
				return l.LogBlastRadius("doc-4", "MEDIUM", 2, 1, "analyst_kim")
			},
			wantID:       3003,
			wantLevel:    events.LevelInformation,
			wantCategory: events.CategoryBlastRadius,
			wantUserID:   "analyst_kim",
		},
		{
			name: "blast radius high",
			log: func(l *events.Logger) error {
				return l.LogBlastRadius("doc-4", "HIGH", 7, 4, "")
			},
			wantID:       3002,
			wantLevel:    events.LevelWarning,
			wantCategory: events.CategoryBlastRadius,
			wantUserID:   "system",
		},
		{
			name: "blast radius critical",
			log: func(l *events.Logger) error {
				return l.LogBlastRadius("doc-4", "CRITICAL", 25, 12, "")
			},
			wantID:       3002,
			wantLevel:    events.LevelWarning,
			wantCategory: events.CategoryBlastRadius,
			wantUserID:   "system",
		},
		{
			name: "system event",
			log: func(l *events.Logger) error {
				return l.LogSystemEvent(events.EventSystemReset, "System reset initiated", nil)
			},
			wantID:       4004,
			wantLevel:    events.LevelInformation,
			wantCategory: events.CategorySystem,
			wantUserID:   "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger := events.NewLogger(filepath.Join(t.TempDir(), "events.jsonl"), nil)
			defer logger.Close()

			if err := tc.log(logger); err != nil {
				t.Fatalf("log: %v", err)
			}
			if err := logger.Flush(); err != nil {
				t.Fatalf("flush: %v", err)
			}

			got, err := logger.ReadEvents(1, "")
			if err != nil {
				t.Fatalf("read events: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("got %d events, want 1", len(got))
			}

			ev := got[0]
			if ev.EventID != tc.wantID {
				t.Errorf("event id = %d, want %d", ev.EventID, tc.wantID)
			}
			if ev.Level != tc.wantLevel {
				t.Errorf("level = %s, want %s", ev.Level, tc.wantLevel)
			}
			if ev.Category != tc.wantCategory {
				t.Errorf("category = %s, want %s", ev.Category, tc.wantCategory)
			}
			if ev.UserID != tc.wantUserID {
				t.Errorf("user id = %q, want %q", ev.UserID, tc.wantUserID)
			}
			if ev.Timestamp.IsZero() {
				t.Error("timestamp should be filled on log")
			}
			if ev.Details == nil {
				t.Error("details should never be nil on the wire")
			}
		})
	}
}
