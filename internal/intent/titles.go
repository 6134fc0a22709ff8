package intent

import (
	"regexp"
	"strings"

	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/dialogue"
	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// boldPattern captures **emphasized** spans in assistant markdown.
var boldPattern = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)

// SuggestedTitles extracts the course titles the assistant has emphasized
// so far, in first-mention order without duplicates. A span counts as a
// title only when it carries a degree-level token and has at least
// MinTitleWords words, which rejects emphasized words like **Why**.
func SuggestedTitles(history dialogue.History, vocab *taxonomy.Vocabulary) []string {
	minWords := vocab.Intent.MinTitleWords
	levelTokens := make([]string, 0, len(vocab.DegreeLevels.Bachelor)+len(vocab.DegreeLevels.Master))
	levelTokens = append(levelTokens, vocab.DegreeLevels.Bachelor...)
	levelTokens = append(levelTokens, vocab.DegreeLevels.Master...)

	seen := make(map[string]bool)
	var out []string
	for _, msg := range history.AssistantMessages() {
		for _, m := range boldPattern.FindAllStringSubmatch(msg, -1) {
			title := strings.Trim(strings.TrimSpace(m[1]), ":-.,")
			title = strings.TrimSpace(title)
			if len(strings.Fields(title)) < minWords {
				continue
			}
			if !taxonomy.ContainsAny(strings.ToLower(title), levelTokens) {
				continue
			}
			key := catalog.NormalizeTitle(title, vocab.Intent.TitleSuffixes)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, title)
		}
	}
	return out
}

// titleKey is one normalized form under which a course can be mentioned.
type titleKey struct {
	key  string
	pos  int
	full bool
}

// titleKeys returns the normalized full title plus, for "X in Y" titles,
// the distinctive tail Y when it has at least two words. Students often
// write "animation and visual effects" rather than the full degree name.
func titleKeys(name string, suffixes []string) (full, tail string) {
	full = catalog.NormalizeTitle(name, suffixes)
	if i := strings.Index(full, " in "); i > 0 {
		t := strings.TrimSpace(full[i+len(" in "):])
		if len(strings.Fields(t)) >= 2 {
			tail = t
		}
	}
	return full, tail
}

// mentions reports whether the normalized message mentions key as a whole
// phrase.
func mentions(normMsg, key string) bool {
	if key == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(normMsg[start:], key)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(key)
		if boundary(normMsg, i-1) && boundary(normMsg, end) {
			return true
		}
		start = i + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
