package integrity

import (
	"testing"

	"ragshield/internal/document"
)

func newTestTrustScorer() *TrustScorer {
	return NewTrustScorer([]TrustEntry{
		{Source: "nvd.nist.gov", Score: 1.0},
		{Source: "cve.mitre.org", Score: 1.0},
		{Source: "ubuntu.com/security", Score: 0.9},
		{Source: "internal_kb", Score: 0.9},
		{Source: "golden", Score: 0.95},
		{Source: "clean", Score: 0.85},
		{Source: "unknown", Score: 0.3},
		{Source: "poisoned", Score: 0.1},
	})
}

func TestTrustScorer_ExactMatch(t *testing.T) {
	scorer := newTestTrustScorer()

	if got := scorer.Score("nvd.nist.gov", ""); got != 1.0 {
		t.Errorf("expected score 1.0, got %v", got)
	}
}

func TestTrustScorer_CaseInsensitive(t *testing.T) {
	scorer := newTestTrustScorer()

	if got := scorer.Score("NVD.NIST.GOV", ""); got != 1.0 {
		t.Errorf("expected score 1.0, got %v", got)
	}
}

func TestTrustScorer_SourceContainsEntry(t *testing.T) {
	scorer := newTestTrustScorer()

	if got := scorer.Score("https://nvd.nist.gov/vuln/detail/CVE-2024-1234", ""); got != 1.0 {
		t.Errorf("expected score 1.0, got %v", got)
	}
}

func TestTrustScorer_EntryContainsSource(t *testing.T) {
	scorer := newTestTrustScorer()

	// "ubuntu.com/security" contains "ubuntu.com".
	if got := scorer.Score("ubuntu.com", ""); got != 0.9 {
		t.Errorf("expected score 0.9, got %v", got)
	}
}

func TestTrustScorer_SubstringFirstMatchWins(t *testing.T) {
	scorer := NewTrustScorer([]TrustEntry{
		{Source: "security-feed", Score: 0.9},
		{Source: "feed", Score: 0.2},
	})

	if got := scorer.Score("corp-security-feed-mirror", ""); got != 0.9 {
		t.Errorf("expected first table entry to win with 0.9, got %v", got)
	}
	if got := scorer.Score("legacy-feed", ""); got != 0.2 {
		t.Errorf("expected score 0.2, got %v", got)
	}
}

func TestTrustScorer_CategoryFallback(t *testing.T) {
	scorer := newTestTrustScorer()

	if got := scorer.Score("mystery-host", "golden"); got != 0.95 {
		t.Errorf("expected category fallback score 0.95, got %v", got)
	}
}

func TestTrustScorer_UnknownFallback(t *testing.T) {
	scorer := newTestTrustScorer()

	if got := scorer.Score("mystery-host", "weird"); got != 0.3 {
		t.Errorf("expected unknown score 0.3, got %v", got)
	}
}

func TestTrustScorer_EmptySourceTreatedAsUnknown(t *testing.T) {
	scorer := newTestTrustScorer()

	// An empty source must not substring-match every entry.
	if got := scorer.Score("", "clean"); got != 0.3 {
		t.Errorf("expected score 0.3, got %v", got)
	}
}

func TestTrustScorer_DefaultWhenTableHasNoUnknown(t *testing.T) {
	scorer := NewTrustScorer([]TrustEntry{
		{Source: "nvd.nist.gov", Score: 1.0},
	})

	if got := scorer.Score("mystery-host", ""); got != DefaultUnknownTrust {
		t.Errorf("expected default %v, got %v", DefaultUnknownTrust, got)
	}
}

func TestTrustScorer_ScoreDocument(t *testing.T) {
	scorer := newTestTrustScorer()
	doc := document.Document{
		DocID:    "doc-1",
		Metadata: document.Metadata{Source: "cve.mitre.org", Category: "clean"},
	}

	if got := scorer.ScoreDocument(doc); got != 1.0 {
		t.Errorf("expected score 1.0, got %v", got)
	}
}
