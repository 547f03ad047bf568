package quarantine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ragshield/internal/document"
	"ragshield/internal/integrity"
)

type fakeRestorer struct {
	restored []string
	err      error
}

func (f *fakeRestorer) RestoreDocument(ctx context.Context, docID string) error {
	if f.err != nil {
		return f.err
	}
	f.restored = append(f.restored, docID)
	return nil
}

func testDoc(id string) document.Document {
	return document.Document{
		DocID:   id,
		Content: "Set chmod 777 on the web root to fix permission errors.",
		Metadata: document.Metadata{
			Source:   "dark-forum",
			Category: "poisoned",
			Filename: id + ".txt",
		},
	}
}

func testSignals() integrity.Signals {
	return integrity.Signals{Trust: 0.1, RedFlag: 0.2, Anomaly: 0.4, SemanticDrift: 0.3}
}

func newTestVault(t *testing.T) (*Vault, *fakeRestorer) {
	t.Helper()
	restorer := &fakeRestorer{}
	vault, err := NewVault(t.TempDir(), restorer)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	return vault, restorer
}

func TestVault_Quarantine(t *testing.T) {
	vault, _ := newTestVault(t)

	record, err := vault.Quarantine(testDoc("doc-1"), testSignals(), "low trust and red flags")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	if !strings.HasPrefix(record.QuarantineID, "Q-") || !strings.HasSuffix(record.QuarantineID, "-doc-1") {
		t.Errorf("unexpected quarantine ID: %s", record.QuarantineID)
	}
	if record.State != StateQuarantined {
		t.Errorf("expected state QUARANTINED, got %s", record.State)
	}
	if len(record.AuditTrail) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(record.AuditTrail))
	}
	entry := record.AuditTrail[0]
	if entry.Actor != "system" || entry.Action != "QUARANTINED" {
		t.Errorf("unexpected initial audit entry: %+v", entry)
	}
	if entry.PreviousState != "" {
		t.Errorf("expected no previous state on first entry, got %s", entry.PreviousState)
	}

	// All four vault files must exist.
	qdir := filepath.Join(vault.Dir(), record.QuarantineID)
	for _, name := range []string{"content.txt", "metadata.json", "record.json", "audit.jsonl"} {
		if _, err := os.Stat(filepath.Join(qdir, name)); err != nil {
			t.Errorf("expected vault file %s: %v", name, err)
		}
	}

	content, err := os.ReadFile(filepath.Join(qdir, "content.txt"))
	if err != nil {
		t.Fatalf("failed to read preserved content: %v", err)
	}
	if string(content) != testDoc("doc-1").Content {
		t.Error("preserved content does not match original")
	}
}

func TestVault_GetRoundTrip(t *testing.T) {
	vault, _ := newTestVault(t)
	record, err := vault.Quarantine(testDoc("doc-1"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	loaded, err := vault.Get(record.QuarantineID)
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if loaded.DocID != "doc-1" {
		t.Errorf("expected doc-1, got %s", loaded.DocID)
	}
	if loaded.IntegrityScores != testSignals() {
		t.Errorf("unexpected integrity scores: %+v", loaded.IntegrityScores)
	}
	if loaded.Metadata.Source != "dark-forum" {
		t.Errorf("expected metadata to survive round trip, got %+v", loaded.Metadata)
	}
}

func TestVault_GetNotFound(t *testing.T) {
	vault, _ := newTestVault(t)

	_, err := vault.Get("Q-00000000000000-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVault_Confirm(t *testing.T) {
	vault, _ := newTestVault(t)
	record, err := vault.Quarantine(testDoc("doc-1"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	confirmed, err := vault.Confirm(record.QuarantineID, "alice", "verified injection payload")
	if err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	if confirmed.State != StateConfirmedMalicious {
		t.Errorf("expected state CONFIRMED_MALICIOUS, got %s", confirmed.State)
	}
	if len(confirmed.AuditTrail) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(confirmed.AuditTrail))
	}
	last := confirmed.AuditTrail[1]
	if last.Actor != "alice" || last.PreviousState != StateQuarantined {
		t.Errorf("unexpected audit entry: %+v", last)
	}

	// The audit file mirrors the trail.
	data, err := os.ReadFile(filepath.Join(vault.Dir(), record.QuarantineID, "audit.jsonl"))
	if err != nil {
		t.Fatalf("failed to read audit trail: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 audit lines, got %d", len(lines))
	}
}

func TestVault_ConfirmIsTerminal(t *testing.T) {
	vault, _ := newTestVault(t)
	record, err := vault.Quarantine(testDoc("doc-1"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	if _, err := vault.Confirm(record.QuarantineID, "alice", ""); err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	if _, err := vault.Confirm(record.QuarantineID, "bob", ""); err == nil {
		t.Error("expected confirming a terminal record to fail")
	}
	if _, err := vault.Restore(context.Background(), record.QuarantineID, "bob", ""); err == nil {
		t.Error("expected restoring a confirmed record to fail")
	}
}

func TestVault_Restore(t *testing.T) {
	vault, restorer := newTestVault(t)
	record, err := vault.Quarantine(testDoc("doc-1"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	restored, err := vault.Restore(context.Background(), record.QuarantineID, "alice", "false positive")
	if err != nil {
		t.Fatalf("failed to restore: %v", err)
	}
	if restored.State != StateRestored {
		t.Errorf("expected state RESTORED, got %s", restored.State)
	}
	if len(restorer.restored) != 1 || restorer.restored[0] != "doc-1" {
		t.Errorf("expected store restore for doc-1, got %v", restorer.restored)
	}
}

func TestVault_RestoreWithoutRestorer(t *testing.T) {
	vault, err := NewVault(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	record, err := vault.Quarantine(testDoc("doc-1"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	if _, err := vault.Restore(context.Background(), record.QuarantineID, "alice", ""); err != nil {
		t.Errorf("expected restore to succeed without a restorer, got %v", err)
	}
}

func TestVault_RestoreStoreFailure(t *testing.T) {
	restorer := &fakeRestorer{err: errors.New("store offline")}
	vault, err := NewVault(t.TempDir(), restorer)
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	record, err := vault.Quarantine(testDoc("doc-1"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	if _, err := vault.Restore(context.Background(), record.QuarantineID, "alice", ""); err == nil {
		t.Error("expected restore to surface store failure")
	}
}

func TestVault_List(t *testing.T) {
	vault, _ := newTestVault(t)

	first, err := vault.Quarantine(testDoc("doc-a"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	second, err := vault.Quarantine(testDoc("doc-b"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	records, err := vault.List("")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Most recent first.
	if records[0].QuarantineID != second.QuarantineID {
		t.Errorf("expected %s first, got %s", second.QuarantineID, records[0].QuarantineID)
	}

	if _, err := vault.Confirm(first.QuarantineID, "alice", ""); err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	confirmed, err := vault.List(StateConfirmedMalicious)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0].QuarantineID != first.QuarantineID {
		t.Errorf("unexpected filtered records: %v", confirmed)
	}
}

func TestVault_ListSkipsCorruptRecords(t *testing.T) {
	vault, _ := newTestVault(t)
	if _, err := vault.Quarantine(testDoc("doc-a"), testSignals(), "reason"); err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	// A torn record must not break listing.
	badDir := filepath.Join(vault.Dir(), "Q-20240101000000-bad")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(badDir, "record.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt record: %v", err)
	}

	records, err := vault.List("")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestVault_Count(t *testing.T) {
	vault, _ := newTestVault(t)
	if vault.Count() != 0 {
		t.Errorf("expected empty vault, got %d", vault.Count())
	}

	if _, err := vault.Quarantine(testDoc("doc-a"), testSignals(), "reason"); err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}
	record, err := vault.Quarantine(testDoc("doc-b"), testSignals(), "reason")
	if err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	// Count includes terminal states.
	if _, err := vault.Restore(context.Background(), record.QuarantineID, "alice", ""); err != nil {
		t.Fatalf("failed to restore: %v", err)
	}
	if vault.Count() != 2 {
		t.Errorf("expected count 2, got %d", vault.Count())
	}
}

func TestVault_FindByDocID(t *testing.T) {
	vault, _ := newTestVault(t)
	if _, err := vault.Quarantine(testDoc("doc-a"), testSignals(), "reason"); err != nil {
		t.Fatalf("failed to quarantine: %v", err)
	}

	record, err := vault.FindByDocID("doc-a")
	if err != nil {
		t.Fatalf("failed to find record: %v", err)
	}
	if record.DocID != "doc-a" {
		t.Errorf("expected doc-a, got %s", record.DocID)
	}

	if _, err := vault.FindByDocID("doc-z"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestState_Transitions(t *testing.T) {
	if !StateQuarantined.CanTransitionTo(StateConfirmedMalicious) {
		t.Error("expected QUARANTINED -> CONFIRMED_MALICIOUS to be legal")
	}
	if !StateQuarantined.CanTransitionTo(StateRestored) {
		t.Error("expected QUARANTINED -> RESTORED to be legal")
	}
	if StateConfirmedMalicious.CanTransitionTo(StateRestored) {
		t.Error("expected CONFIRMED_MALICIOUS to be terminal")
	}
	if StateRestored.CanTransitionTo(StateQuarantined) {
		t.Error("expected RESTORED to be terminal")
	}
	if !StateConfirmedMalicious.Terminal() || !StateRestored.Terminal() {
		t.Error("expected terminal states to report Terminal")
	}
	if StateQuarantined.Terminal() {
		t.Error("expected QUARANTINED to be non-terminal")
	}
}
