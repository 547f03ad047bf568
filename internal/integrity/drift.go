package integrity

import (
	"log/slog"
	"math"
	"strings"
	"sync/atomic"

	"ragshield/internal/document"
)

// neutralDrift is returned when no comparison is possible: empty
// golden cache, missing embedding, or a zero-norm vector.
const neutralDrift = 0.5

// DriftScorer compares document embeddings against a cached golden
// reference set. The cache is an immutable snapshot swapped atomically
// so scoring never observes a partially loaded set.
type DriftScorer struct {
	golden atomic.Pointer[goldenSet]
}

type goldenSet struct {
	vectors [][]float32
	norms   []float64
}

// NewDriftScorer creates a scorer with an empty reference cache.
func NewDriftScorer() *DriftScorer {
	return &DriftScorer{}
}

// LoadReference rebuilds the golden cache from a corpus snapshot.
// Golden membership: category "golden" or a source containing
// "golden"; when no such documents exist, category "clean" is the
// fallback baseline. Zero-norm vectors are skipped.
func (d *DriftScorer) LoadReference(corpus []document.Document) {
	set := collectGolden(corpus, isGoldenDoc)
	if len(set.vectors) == 0 {
		set = collectGolden(corpus, func(doc document.Document) bool {
			return doc.Metadata.Category == "clean"
		})
	}

	d.golden.Store(set)
	slog.Info("golden reference set loaded", "vectors", len(set.vectors))
}

// Size returns the number of cached reference vectors.
func (d *DriftScorer) Size() int {
	set := d.golden.Load()
	if set == nil {
		return 0
	}
	return len(set.vectors)
}

// Score returns the drift signal in [0,1] for a target embedding: the
// maximum cosine similarity against the cache, rescaled from [-1,1].
// A single close golden neighbor certifies the document.
func (d *DriftScorer) Score(embedding []float32) float64 {
	set := d.golden.Load()
	if set == nil || len(set.vectors) == 0 {
		return neutralDrift
	}

	norm := vectorNorm(embedding)
	if len(embedding) == 0 || norm == 0 {
		return neutralDrift
	}

	best := math.Inf(-1)
	for i, g := range set.vectors {
		if len(g) != len(embedding) {
			continue
		}
		cos := dot(embedding, g) / (norm * set.norms[i])
		if cos > best {
			best = cos
		}
	}
	if math.IsInf(best, -1) {
		return neutralDrift
	}

	return (best + 1.0) / 2.0
}

func isGoldenDoc(doc document.Document) bool {
	return doc.Metadata.Category == "golden" ||
		strings.Contains(strings.ToLower(doc.Metadata.Source), "golden")
}

func collectGolden(corpus []document.Document, member func(document.Document) bool) *goldenSet {
	set := &goldenSet{}
	for _, doc := range corpus {
		if !member(doc) {
			continue
		}
		norm := vectorNorm(doc.Embedding)
		if norm == 0 {
			continue
		}
		set.vectors = append(set.vectors, doc.Embedding)
		set.norms = append(set.norms, norm)
	}
	return set
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
