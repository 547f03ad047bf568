// Package search prepares user queries for retrieval: entity
// extraction, term boosting, and metadata filters.
package search

import (
	"regexp"
	"strings"
)

// cvePattern matches identifiers like CVE-2024-0004: four-digit
// year, one to seven digit sequence, any case.
var cvePattern = regexp.MustCompile(`(?i)CVE-\d{4}-\d{1,7}`)

// ExtractCVEIDs returns the CVE identifiers in text, uppercased, in
// first-appearance order without duplicates.
func ExtractCVEIDs(text string) []string {
	if text == "" {
		return nil
	}

	matches := cvePattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.ToUpper(m)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// HasCVEID reports whether text mentions at least one CVE.
func HasCVEID(text string) bool {
	return cvePattern.MatchString(text)
}
