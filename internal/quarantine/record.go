// Package quarantine manages the on-disk vault for documents pulled
// out of retrieval, including the analyst state machine and its audit
// trail.
package quarantine

import (
	"fmt"
	"time"

	"ragshield/internal/document"
	"ragshield/internal/integrity"
)

// State is the lifecycle position of a quarantined document.
type State string

const (
	// StateDetected marks a document flagged but not yet vaulted.
	StateDetected State = "DETECTED"
	// StateQuarantined is the entry state for every vault record.
	StateQuarantined State = "QUARANTINED"
	// StateConfirmedMalicious is terminal: an analyst confirmed the
	// document is hostile.
	StateConfirmedMalicious State = "CONFIRMED_MALICIOUS"
	// StateRestored is terminal: an analyst cleared a false positive.
	StateRestored State = "RESTORED"
)

var validTransitions = map[State][]State{
	StateDetected:    {StateQuarantined},
	StateQuarantined: {StateConfirmedMalicious, StateRestored},
}

// CanTransitionTo reports whether next is a legal successor state.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no successors.
func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// AuditEntry is one state transition in a record's audit trail.
// PreviousState is empty on the initial entry.
type AuditEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor"`
	Notes         string    `json:"notes"`
	PreviousState State     `json:"previous_state,omitempty"`
}

// Record is a vault entry: the preserved document plus the scores
// that condemned it and every action taken since.
type Record struct {
	QuarantineID    string            `json:"quarantine_id"`
	DocID           string            `json:"doc_id"`
	State           State             `json:"state"`
	QuarantinedAt   time.Time         `json:"quarantined_at"`
	Reason          string            `json:"reason"`
	IntegrityScores integrity.Signals `json:"integrity_scores"`
	OriginalContent string            `json:"original_content"`
	Metadata        document.Metadata `json:"metadata"`
	AuditTrail      []AuditEntry      `json:"audit_trail"`
}

// transition moves the record to next and appends the matching audit
// entry. The entry's action mirrors the destination state.
func (r *Record) transition(next State, actor, notes string) (AuditEntry, error) {
	if !r.State.CanTransitionTo(next) {
		return AuditEntry{}, fmt.Errorf("invalid state transition %s -> %s for %s", r.State, next, r.QuarantineID)
	}

	entry := AuditEntry{
		Timestamp:     time.Now().UTC(),
		Action:        string(next),
		Actor:         actor,
		Notes:         notes,
		PreviousState: r.State,
	}
	r.State = next
	r.AuditTrail = append(r.AuditTrail, entry)
	return entry, nil
}
