package integrity

import (
	"fmt"

	"ragshield/internal/document"
)

// DefaultThreshold is the per-signal threshold for the trigger rule.
const DefaultThreshold = 0.5

// DefaultWarningThreshold is the combined-score floor for a CLEAN
// severity rating.
const DefaultWarningThreshold = 0.7

// Severity classifies a document for reports. It does not drive the
// quarantine decision; the trigger rule does.
type Severity string

const (
	SeverityClean      Severity = "CLEAN"
	SeveritySuspicious Severity = "SUSPICIOUS"
	SeverityMalicious  Severity = "MALICIOUS"
	SeverityCritical   Severity = "CRITICAL"
)

// Weights are the fixed signal weights; they must sum to 1.0.
type Weights struct {
	Trust         float64
	RedFlag       float64
	Anomaly       float64
	SemanticDrift float64
}

// DefaultWeights returns the system constants.
func DefaultWeights() Weights {
	return Weights{Trust: 0.25, RedFlag: 0.35, Anomaly: 0.15, SemanticDrift: 0.25}
}

// Signals is the immutable four-score tuple for one document. Field
// names on the wire match the lineage and quarantine snapshots.
type Signals struct {
	Trust         float64 `json:"trust_score"`
	RedFlag       float64 `json:"red_flag_score"`
	Anomaly       float64 `json:"anomaly_score"`
	SemanticDrift float64 `json:"semantic_drift_score"`
}

// Combined returns the weighted sum of the four signals.
func (s Signals) Combined(w Weights) float64 {
	return s.Trust*w.Trust + s.RedFlag*w.RedFlag + s.Anomaly*w.Anomaly + s.SemanticDrift*w.SemanticDrift
}

// LowSignals returns the names of signals strictly below threshold,
// each formatted with its value to two decimals.
func (s Signals) LowSignals(threshold float64) []string {
	low := []string{}
	if s.Trust < threshold {
		low = append(low, fmt.Sprintf("trust (%.2f)", s.Trust))
	}
	if s.RedFlag < threshold {
		low = append(low, fmt.Sprintf("red_flag (%.2f)", s.RedFlag))
	}
	if s.Anomaly < threshold {
		low = append(low, fmt.Sprintf("anomaly (%.2f)", s.Anomaly))
	}
	if s.SemanticDrift < threshold {
		low = append(low, fmt.Sprintf("semantic_drift (%.2f)", s.SemanticDrift))
	}
	return low
}

// LowCount returns how many signals sit strictly below threshold.
func (s Signals) LowCount(threshold float64) int {
	count := 0
	for _, v := range []float64{s.Trust, s.RedFlag, s.Anomaly, s.SemanticDrift} {
		if v < threshold {
			count++
		}
	}
	return count
}

// RedFlagSummary is the per-category match breakdown for reports.
type RedFlagSummary struct {
	Detected           map[string][]string `json:"detected"`
	TotalCount         int                 `json:"total_count"`
	CategoriesAffected int                 `json:"categories_affected"`
}

// Report is the full evaluation outcome for one document.
type Report struct {
	DocID            string         `json:"doc_id"`
	Signals          Signals        `json:"signals"`
	Combined         float64        `json:"combined_score"`
	ShouldQuarantine bool           `json:"should_quarantine"`
	LowSignals       []string       `json:"low_signals"`
	RedFlags         RedFlagSummary `json:"red_flags"`
	Severity         Severity       `json:"severity"`
}

// ScoreMap returns the five-score map used in event details.
func (r Report) ScoreMap() map[string]float64 {
	return map[string]float64{
		"trust":          r.Signals.Trust,
		"red_flag":       r.Signals.RedFlag,
		"anomaly":        r.Signals.Anomaly,
		"semantic_drift": r.Signals.SemanticDrift,
		"combined":       r.Combined,
	}
}

// Engine combines the four scorers, the trigger rule, and the
// severity mapping.
type Engine struct {
	trust     *TrustScorer
	redFlag   *RedFlagDetector
	anomaly   *AnomalyScorer
	drift     *DriftScorer
	weights   Weights
	threshold float64
	warning   float64
}

// NewEngine wires the four scorers together. Zero thresholds fall
// back to the defaults.
func NewEngine(trust *TrustScorer, redFlag *RedFlagDetector, anomaly *AnomalyScorer, drift *DriftScorer, weights Weights, threshold, warningThreshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if warningThreshold <= 0 {
		warningThreshold = DefaultWarningThreshold
	}
	return &Engine{
		trust:     trust,
		redFlag:   redFlag,
		anomaly:   anomaly,
		drift:     drift,
		weights:   weights,
		threshold: threshold,
		warning:   warningThreshold,
	}
}

// Threshold returns the per-signal trigger threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Weights returns the configured signal weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Drift exposes the drift scorer so startup and reset paths can
// reload the golden reference set.
func (e *Engine) Drift() *DriftScorer {
	return e.drift
}

// EvaluateSignals computes all four signals for a document against a
// corpus snapshot. All signals are computed unconditionally; there is
// no short-circuit.
func (e *Engine) EvaluateSignals(doc document.Document, corpus []document.Document) Signals {
	return Signals{
		Trust:         e.trust.ScoreDocument(doc),
		RedFlag:       e.redFlag.Score(doc.Content, doc.Metadata.Category),
		Anomaly:       e.anomaly.Score(doc, corpus),
		SemanticDrift: e.drift.Score(doc.Embedding),
	}
}

// Evaluate computes signals and builds the full report for a
// document.
func (e *Engine) Evaluate(doc document.Document, corpus []document.Document) Report {
	signals := e.EvaluateSignals(doc, corpus)
	return e.BuildReport(doc, signals)
}

// BuildReport derives the trigger outcome, red-flag breakdown, and
// severity from already-computed signals.
func (e *Engine) BuildReport(doc document.Document, signals Signals) Report {
	detected, total := e.redFlag.Detect(doc.Content)
	combined := signals.Combined(e.weights)
	lowCount := signals.LowCount(e.threshold)

	return Report{
		DocID:            doc.DocID,
		Signals:          signals,
		Combined:         combined,
		ShouldQuarantine: lowCount >= 2,
		LowSignals:       signals.LowSignals(e.threshold),
		RedFlags: RedFlagSummary{
			Detected:           detected,
			TotalCount:         total,
			CategoriesAffected: len(detected),
		},
		Severity: e.severity(combined, lowCount),
	}
}

// ShouldQuarantine applies the trigger rule: at least 2 of the 4
// signals strictly below threshold.
func (e *Engine) ShouldQuarantine(signals Signals) bool {
	return signals.LowCount(e.threshold) >= 2
}

func (e *Engine) severity(combined float64, lowCount int) Severity {
	switch {
	case combined >= e.warning:
		return SeverityClean
	case combined >= e.threshold:
		return SeveritySuspicious
	case lowCount >= 3:
		return SeverityCritical
	default:
		return SeverityMalicious
	}
}
