package integrity

import (
	"math"

	"ragshield/internal/document"
)

// AnomalyScorer scores a document against the current corpus
// distribution: how common its source is, and how far its trust score
// sits from the corpus mean.
type AnomalyScorer struct {
	trust *TrustScorer
}

// NewAnomalyScorer builds a scorer that derives trust statistics via
// the given trust scorer.
func NewAnomalyScorer(trust *TrustScorer) *AnomalyScorer {
	return &AnomalyScorer{trust: trust}
}

// Score returns the anomaly signal in [0,1]. Corpora smaller than 3
// documents carry no usable statistics and score 1.0.
func (a *AnomalyScorer) Score(doc document.Document, corpus []document.Document) float64 {
	n := len(corpus)
	if n < 3 {
		return 1.0
	}

	source := doc.Metadata.EffectiveSource()
	sameSource := 0
	trustScores := make([]float64, 0, n)
	for _, d := range corpus {
		if d.Metadata.EffectiveSource() == source {
			sameSource++
		}
		trustScores = append(trustScores, a.trust.ScoreDocument(d))
	}

	// Sources representing under 20% of the corpus score
	// proportionally lower.
	docFreq := float64(sameSource) / float64(n)
	frequencyScore := math.Min(docFreq/0.2, 1.0)

	varianceScore := 1.0
	mean, stddev := meanStddev(trustScores)
	if stddev > 0 {
		docTrust := a.trust.ScoreDocument(doc)
		z := math.Abs(docTrust-mean) / stddev
		varianceScore = math.Max(0, 1.0-z/3.0)
	}

	return 0.6*frequencyScore + 0.4*varianceScore
}

func meanStddev(values []float64) (float64, float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	// Sample standard deviation.
	return mean, math.Sqrt(sq / (n - 1))
}
