// Package integrity implements the four-signal document scoring
// pipeline and the quarantine trigger rule.
package integrity

import (
	"strings"

	"ragshield/internal/document"
)

// DefaultUnknownTrust is used when a source matches nothing in the
// trust table and the table itself carries no "unknown" entry.
const DefaultUnknownTrust = 0.3

// TrustEntry maps a source name to its reputation score. Table order
// matters: substring matching returns the first hit.
type TrustEntry struct {
	Source string
	Score  float64
}

// TrustScorer maps document metadata to a source-reputation score.
type TrustScorer struct {
	entries []TrustEntry
	exact   map[string]float64
}

// NewTrustScorer builds a scorer over the given table. Source names
// are compared lowercased.
func NewTrustScorer(entries []TrustEntry) *TrustScorer {
	t := &TrustScorer{
		entries: make([]TrustEntry, 0, len(entries)),
		exact:   make(map[string]float64, len(entries)),
	}
	for _, e := range entries {
		key := strings.ToLower(e.Source)
		t.entries = append(t.entries, TrustEntry{Source: key, Score: e.Score})
		if _, ok := t.exact[key]; !ok {
			t.exact[key] = e.Score
		}
	}
	return t
}

// Score returns the reputation score for a document source. Lookup
// order: exact table key, then a single substring scan in table order
// (either direction), then the category as a table key, then the
// "unknown" fallback.
func (t *TrustScorer) Score(source, category string) float64 {
	s := strings.ToLower(source)
	if s == "" {
		s = "unknown"
	}

	if score, ok := t.exact[s]; ok {
		return score
	}

	for _, e := range t.entries {
		if strings.Contains(s, e.Source) || strings.Contains(e.Source, s) {
			return e.Score
		}
	}

	if score, ok := t.exact[strings.ToLower(category)]; ok {
		return score
	}

	return t.unknownScore()
}

// ScoreDocument scores a document's metadata.
func (t *TrustScorer) ScoreDocument(doc document.Document) float64 {
	return t.Score(doc.Metadata.Source, doc.Metadata.Category)
}

func (t *TrustScorer) unknownScore() float64 {
	if score, ok := t.exact["unknown"]; ok {
		return score
	}
	return DefaultUnknownTrust
}
