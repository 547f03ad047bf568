package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ragshield/internal/document"
	"ragshield/internal/integrity"
)

// ErrNotFound is returned when a quarantine ID has no vault entry.
var ErrNotFound = errors.New("quarantine record not found")

// Restorer clears the quarantine flag on a document so it re-enters
// retrieval. The vector store implements this.
type Restorer interface {
	RestoreDocument(ctx context.Context, docID string) error
}

// Vault stores quarantined documents on disk. Each record owns a
// directory Q-{timestamp}-{doc_id} holding content.txt,
// metadata.json, record.json, and audit.jsonl.
type Vault struct {
	dir      string
	restorer Restorer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewVault opens (or creates) a vault rooted at dir. The restorer may
// be nil, in which case Restore only updates vault state.
func NewVault(dir string, restorer Restorer) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &Vault{
		dir:      dir,
		restorer: restorer,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the vault root directory.
func (v *Vault) Dir() string {
	return v.dir
}

// lockFor returns the mutex serializing updates to one record.
func (v *Vault) lockFor(quarantineID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[quarantineID]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[quarantineID] = lock
	}
	return lock
}

// Quarantine vaults a document: preserves its content and metadata,
// opens the record in state QUARANTINED, and starts the audit trail.
func (v *Vault) Quarantine(doc document.Document, signals integrity.Signals, reason string) (*Record, error) {
	now := time.Now().UTC()
	quarantineID := fmt.Sprintf("Q-%s-%s", now.Format("20060102150405"), doc.DocID)

	qdir := filepath.Join(v.dir, quarantineID)
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(qdir, "content.txt"), []byte(doc.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to preserve content: %w", err)
	}

	metaJSON, err := json.MarshalIndent(doc.Metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(qdir, "metadata.json"), metaJSON, 0o644); err != nil {
		return nil, fmt.Errorf("failed to preserve metadata: %w", err)
	}

	record := &Record{
		QuarantineID:    quarantineID,
		DocID:           doc.DocID,
		State:           StateQuarantined,
		QuarantinedAt:   now,
		Reason:          reason,
		IntegrityScores: signals,
		OriginalContent: doc.Content,
		Metadata:        doc.Metadata,
		AuditTrail: []AuditEntry{{
			Timestamp: now,
			Action:    string(StateQuarantined),
			Actor:     "system",
			Notes:     reason,
		}},
	}

	if err := v.saveRecord(record); err != nil {
		return nil, err
	}
	if err := v.appendAudit(quarantineID, record.AuditTrail[0]); err != nil {
		return nil, err
	}

	slog.Info("document quarantined",
		"quarantine_id", quarantineID,
		"doc_id", doc.DocID,
		"reason", reason)

	return record, nil
}

// Confirm records an analyst verdict that the document is malicious.
// The record must be in state QUARANTINED.
func (v *Vault) Confirm(quarantineID, analyst, notes string) (*Record, error) {
	return v.advance(quarantineID, StateConfirmedMalicious, analyst, notes)
}

// Restore marks the record as a false positive and clears the
// quarantine flag in retrieval. The vault record is committed before
// the store flag so the audit trail never lags the store.
func (v *Vault) Restore(ctx context.Context, quarantineID, analyst, notes string) (*Record, error) {
	record, err := v.advance(quarantineID, StateRestored, analyst, notes)
	if err != nil {
		return nil, err
	}

	if v.restorer != nil {
		if err := v.restorer.RestoreDocument(ctx, record.DocID); err != nil {
			return nil, fmt.Errorf("failed to restore document %s in store: %w", record.DocID, err)
		}
	}

	slog.Info("document restored",
		"quarantine_id", quarantineID,
		"doc_id", record.DocID,
		"analyst", analyst)

	return record, nil
}

func (v *Vault) advance(quarantineID string, next State, actor, notes string) (*Record, error) {
	lock := v.lockFor(quarantineID)
	lock.Lock()
	defer lock.Unlock()

	record, err := v.Get(quarantineID)
	if err != nil {
		return nil, err
	}

	entry, err := record.transition(next, actor, notes)
	if err != nil {
		return nil, err
	}

	if err := v.saveRecord(record); err != nil {
		return nil, err
	}
	if err := v.appendAudit(quarantineID, entry); err != nil {
		return nil, err
	}
	return record, nil
}

// Get loads one record by quarantine ID.
func (v *Vault) Get(quarantineID string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(v.dir, quarantineID, "record.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, quarantineID)
		}
		return nil, fmt.Errorf("failed to read quarantine record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode quarantine record %s: %w", quarantineID, err)
	}
	return &record, nil
}

// List returns all records, most recent first. An empty state lists
// everything. Corrupted records are skipped.
func (v *Vault) List(state State) ([]*Record, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault directory: %w", err)
	}

	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "Q-") {
			continue
		}
		record, err := v.Get(entry.Name())
		if err != nil {
			continue
		}
		if state != "" && record.State != state {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].QuarantinedAt.After(records[j].QuarantinedAt)
	})
	return records, nil
}

// Count returns the number of vault entries across all states.
func (v *Vault) Count() int {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "Q-") {
			count++
		}
	}
	return count
}

// FindByDocID returns the most recent record for a document, or
// ErrNotFound when the document was never quarantined.
func (v *Vault) FindByDocID(docID string) (*Record, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault directory: %w", err)
	}

	var newest *Record
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), "-"+docID) {
			continue
		}
		record, err := v.Get(entry.Name())
		if err != nil {
			continue
		}
		if newest == nil || record.QuarantinedAt.After(newest.QuarantinedAt) {
			newest = record
		}
	}

	if newest == nil {
		return nil, fmt.Errorf("%w: doc %s", ErrNotFound, docID)
	}
	return newest, nil
}

func (v *Vault) saveRecord(record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode quarantine record: %w", err)
	}
	path := filepath.Join(v.dir, record.QuarantineID, "record.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write quarantine record: %w", err)
	}
	return nil
}

func (v *Vault) appendAudit(quarantineID string, entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	path := filepath.Join(v.dir, quarantineID, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit trail: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
