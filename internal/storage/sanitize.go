package storage

import "strings"

var likeEscaper = strings.NewReplacer(
	"\\", "\\\\", // Escape backslash first
	"%", "\\%",
	"_", "\\_",
)

// sanitizeSearchTerm escapes SQLite LIKE wildcards (% and _) and the escape
// character itself, for use with ESCAPE '\'.
func sanitizeSearchTerm(term string) string {
	return likeEscaper.Replace(term)
}
