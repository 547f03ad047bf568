package search

import "strings"

// DefaultBoostFactor is how many times each CVE ID is repeated in an
// augmented query.
const DefaultBoostFactor = 3

// Query intents produced by Classify.
const (
	TypeCVELookup  = "cve_lookup"
	TypeComparison = "comparison"
	TypeGeneral    = "general"
)

var comparisonKeywords = []string{"compare", "vs", "versus", "difference"}

// Augment prepends each CVE ID in the query boostFactor times.
// Embedding models weight repeated terms higher, which pins retrieval
// to the exact advisory while the trailing original keeps the
// semantic context. Queries without CVEs pass through unchanged.
func Augment(query string, boostFactor int) string {
	if boostFactor <= 0 {
		boostFactor = DefaultBoostFactor
	}

	ids := ExtractCVEIDs(query)
	if len(ids) == 0 {
		return query
	}

	boosted := make([]string, 0, len(ids)*boostFactor)
	for _, id := range ids {
		for i := 0; i < boostFactor; i++ {
			boosted = append(boosted, id)
		}
	}
	return strings.Join(boosted, " ") + " " + query
}

// MetadataFilter returns the exact-match retrieval filter for the
// query, keyed by metadata field, or nil when the query names no CVE.
// Only the first CVE is used; documents carry one CVE each.
func MetadataFilter(query string) map[string]string {
	ids := ExtractCVEIDs(query)
	if len(ids) == 0 {
		return nil
	}
	return map[string]string{"cve_ids": ids[0]}
}

// Process runs the full preprocessing pipeline: metadata filter plus
// augmented query text.
func Process(query string, boostFactor int) (string, map[string]string) {
	return Augment(query, boostFactor), MetadataFilter(query)
}

// Classify labels query intent for routing and analytics.
func Classify(query string) string {
	if !HasCVEID(query) {
		return TypeGeneral
	}

	lower := strings.ToLower(query)
	for _, kw := range comparisonKeywords {
		if strings.Contains(lower, kw) {
			return TypeComparison
		}
	}
	return TypeCVELookup
}
