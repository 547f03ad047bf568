package integrity

import (
	"strings"
)

// goldenExemptMarkers identify instructional-negative lines in golden
// corpus documents ("Never disable the firewall"). Such lines quote
// the attack they warn against and must not count against the score.
var goldenExemptMarkers = []string{"never ", "warning:", "- never", "do not "}

// FlagCategory is one keyword category of the red-flag table.
type FlagCategory struct {
	Name     string
	Keywords []string
}

// RedFlagDetector scores document content against a keyword table
// partitioned into categories.
type RedFlagDetector struct {
	categories []FlagCategory
	maxFlags   int
}

// NewRedFlagDetector builds a detector over the given categories.
func NewRedFlagDetector(categories []FlagCategory) *RedFlagDetector {
	total := 0
	for _, c := range categories {
		total += len(c.Keywords)
	}
	return &RedFlagDetector{categories: categories, maxFlags: total}
}

// Score returns the red-flag signal in [0,1] for a document. Matches
// across multiple categories compound the penalty. Golden corpus
// documents get their instructional-negative lines stripped first;
// Detect does not apply that exemption.
func (d *RedFlagDetector) Score(content, category string) float64 {
	if d.maxFlags == 0 {
		return 1.0
	}

	if category == "golden" {
		content = stripExemptLines(content)
	}

	contentLower := strings.ToLower(content)
	totalFlags := 0
	categoriesWithFlags := 0

	for _, cat := range d.categories {
		categoryFlags := 0
		for _, kw := range cat.Keywords {
			if strings.Contains(contentLower, strings.ToLower(kw)) {
				categoryFlags++
			}
		}
		if categoryFlags > 0 {
			categoriesWithFlags++
			totalFlags += categoryFlags
		}
	}

	base := 1.0 - 1.5*(float64(totalFlags)/float64(d.maxFlags))
	if base < 0 {
		base = 0
	}

	// Cross-category amplification.
	switch {
	case categoriesWithFlags >= 4:
		base *= 0.60
	case categoriesWithFlags >= 3:
		base *= 0.70
	case categoriesWithFlags >= 2:
		base *= 0.80
	}

	if base < 0 {
		return 0
	}
	return base
}

// Detect returns matched keywords grouped by category plus the total
// match count, for reports and event details.
func (d *RedFlagDetector) Detect(content string) (map[string][]string, int) {
	contentLower := strings.ToLower(content)
	detected := make(map[string][]string)
	total := 0

	for _, cat := range d.categories {
		var found []string
		for _, kw := range cat.Keywords {
			if strings.Contains(contentLower, strings.ToLower(kw)) {
				found = append(found, kw)
			}
		}
		if len(found) > 0 {
			detected[cat.Name] = found
			total += len(found)
		}
	}
	return detected, total
}

// MaxFlags returns the total keyword count across all categories.
func (d *RedFlagDetector) MaxFlags() int {
	return d.maxFlags
}

func stripExemptLines(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		exempt := false
		for _, marker := range goldenExemptMarkers {
			if strings.Contains(trimmed, marker) {
				exempt = true
				break
			}
		}
		if !exempt {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
