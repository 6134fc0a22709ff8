package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTitle canonicalizes a course title for containment matching:
// Unicode NFKC, case folding, institutional suffixes removed, whitespace
// collapsed. Suffixes must already be lowercase.
func NormalizeTitle(title string, suffixes []string) string {
	s := cases.Fold().String(norm.NFKC.String(title))
	for _, suffix := range suffixes {
		if idx := strings.Index(s, suffix); idx > 0 {
			s = s[:idx]
		}
	}
	return strings.Join(strings.Fields(s), " ")
}
